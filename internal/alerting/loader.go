package alerting

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/good-yellow-bee/siemlite/internal/models"
	"github.com/good-yellow-bee/siemlite/internal/storage"
)

// RulesConfig is the top-level structure of a rules file.
type RulesConfig struct {
	Rules []RuleSpec `yaml:"rules"`
}

// RuleSpec is one rule as written in a rules file.
type RuleSpec struct {
	Name string `yaml:"name"`
	// Slug identifies the rule across reloads. Derived from Name when empty.
	Slug          string `yaml:"slug,omitempty"`
	Description   string `yaml:"description,omitempty"`
	EventType     string `yaml:"event_type"`
	Severity      string `yaml:"severity"`
	Threshold     int    `yaml:"threshold"`
	WindowMinutes int    `yaml:"window_minutes"`
	// Enabled defaults to true.
	Enabled *bool `yaml:"enabled,omitempty"`
}

// toRule converts the spec to a validated rule without ID or timestamps.
func (s RuleSpec) toRule() (*models.Rule, error) {
	severity, err := models.ParseSeverity(s.Severity)
	if err != nil {
		return nil, err
	}
	r := &models.Rule{
		Name:          s.Name,
		Slug:          s.Slug,
		Description:   s.Description,
		EventType:     s.EventType,
		Severity:      severity,
		Threshold:     s.Threshold,
		WindowMinutes: s.WindowMinutes,
		Enabled:       s.Enabled == nil || *s.Enabled,
	}
	if r.Slug == "" {
		r.Slug = models.Slugify(r.Name)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// LoadRulesFromFile loads detection rules from a YAML file.
func LoadRulesFromFile(path string) ([]*models.Rule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open rules file: %w", err)
	}
	defer f.Close()

	return LoadRules(f)
}

// LoadRules loads detection rules from a reader.
func LoadRules(r io.Reader) ([]*models.Rule, error) {
	var config RulesConfig
	if err := yaml.NewDecoder(r).Decode(&config); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse rules YAML: %w", err)
	}
	return config.build()
}

// LoadRulesFromBytes loads detection rules from YAML bytes.
func LoadRulesFromBytes(data []byte) ([]*models.Rule, error) {
	var config RulesConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse rules YAML: %w", err)
	}
	return config.build()
}

func (c *RulesConfig) build() ([]*models.Rule, error) {
	rules := make([]*models.Rule, 0, len(c.Rules))
	seen := make(map[string]int, len(c.Rules))
	for i, spec := range c.Rules {
		rule, err := spec.toRule()
		if err != nil {
			return nil, fmt.Errorf("invalid rule at index %d: %w", i, err)
		}
		if prev, ok := seen[rule.Slug]; ok {
			return nil, fmt.Errorf("invalid rule at index %d: slug %q already used at index %d", i, rule.Slug, prev)
		}
		seen[rule.Slug] = i
		rules = append(rules, rule)
	}
	return rules, nil
}

// SyncResult counts what SyncRules changed.
type SyncResult struct {
	Created   int
	Updated   int
	Unchanged int
}

// SyncRules creates or updates each rule by slug. Rules in the store that are
// absent from rules are left untouched.
func SyncRules(ctx context.Context, repo storage.RuleRepository, rules []*models.Rule) (SyncResult, error) {
	var res SyncResult
	now := time.Now().UTC()

	for _, r := range rules {
		existing, err := repo.GetBySlug(ctx, r.Slug)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			created := *r
			created.ID = uuid.New().String()
			created.CreatedAt = now
			created.UpdatedAt = now
			if err := repo.Create(ctx, &created); err != nil {
				return res, fmt.Errorf("create rule %s: %w", r.Slug, err)
			}
			res.Created++
		case err != nil:
			return res, fmt.Errorf("load rule %s: %w", r.Slug, err)
		case sameDefinition(existing, r):
			res.Unchanged++
		default:
			updated := *r
			updated.ID = existing.ID
			updated.CreatedAt = existing.CreatedAt
			updated.UpdatedAt = now
			if err := repo.Update(ctx, &updated); err != nil {
				return res, fmt.Errorf("update rule %s: %w", r.Slug, err)
			}
			res.Updated++
		}
	}
	return res, nil
}

func sameDefinition(a, b *models.Rule) bool {
	return a.Name == b.Name &&
		a.Description == b.Description &&
		a.EventType == b.EventType &&
		a.Severity == b.Severity &&
		a.Threshold == b.Threshold &&
		a.WindowMinutes == b.WindowMinutes &&
		a.Enabled == b.Enabled
}
