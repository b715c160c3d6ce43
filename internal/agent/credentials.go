package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Credentials identify a registered machine. They are written once after
// registration and reused on every start.
type Credentials struct {
	MachineID string `json:"machine_id"`
	APIToken  string `json:"api_token"`
}

// LoadCredentials reads a credentials file. A missing file is reported with
// an error wrapping os.ErrNotExist.
func LoadCredentials(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	var c Credentials
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse credentials %s: %w", path, err)
	}
	if c.MachineID == "" || c.APIToken == "" {
		return nil, fmt.Errorf("credentials %s are incomplete", path)
	}
	return &c, nil
}

// Save writes the credentials readable by the owner only.
func (c *Credentials) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

// Registration describes this machine to the server.
type Registration struct {
	Name      string `json:"name"`
	Hostname  string `json:"hostname,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
}

// Registrar registers machines through the HTTP API.
type Registrar struct {
	BaseURL string
	Client  *http.Client
}

// NewRegistrar creates a registrar for the API at baseURL.
func NewRegistrar(baseURL string) *Registrar {
	return &Registrar{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type registerEnvelope struct {
	Data *struct {
		ID       string `json:"id"`
		APIToken string `json:"api_token"`
	} `json:"data"`
	Error *apiError `json:"error"`
}

// Register creates a machine and returns its credentials.
func (r *Registrar) Register(ctx context.Context, reg Registration) (*Credentials, error) {
	body, err := json.Marshal(reg)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.BaseURL+"/api/v1/machines/register", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("register machine: %w", err)
	}
	defer resp.Body.Close()

	var env registerEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("register machine: unexpected response (%s): %w", resp.Status, err)
	}
	if resp.StatusCode != http.StatusCreated {
		if env.Error != nil {
			return nil, fmt.Errorf("register machine: %s: %s", env.Error.Code, env.Error.Message)
		}
		return nil, fmt.Errorf("register machine: %s", resp.Status)
	}
	if env.Data == nil || env.Data.ID == "" || env.Data.APIToken == "" {
		return nil, errors.New("register machine: response carries no credentials")
	}
	return &Credentials{MachineID: env.Data.ID, APIToken: env.Data.APIToken}, nil
}

// EnsureRegistered returns the credentials stored at path, registering the
// machine and saving new credentials when the file does not exist. The bool
// reports whether a registration took place.
func EnsureRegistered(ctx context.Context, path string, r *Registrar, reg Registration) (*Credentials, bool, error) {
	creds, err := LoadCredentials(path)
	if err == nil {
		return creds, false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, false, err
	}

	creds, err = r.Register(ctx, reg)
	if err != nil {
		return nil, false, err
	}
	if err := creds.Save(path); err != nil {
		return nil, false, err
	}
	return creds, true, nil
}
