package models

import "time"

// Machine is a registered agent host that submits log events.
type Machine struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Hostname      string     `json:"hostname"`
	IPAddress     string     `json:"ip_address,omitempty"`
	APITokenHash  string     `json:"-"`
	IsActive      bool       `json:"is_active"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// DisplayName returns the hostname, falling back to the machine name.
func (m *Machine) DisplayName() string {
	if m.Hostname != "" {
		return m.Hostname
	}
	return m.Name
}
