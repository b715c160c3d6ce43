package logging

import "testing"

func TestNew(t *testing.T) {
	tests := []struct {
		level, format string
		wantErr       bool
	}{
		{"info", "json", false},
		{"DEBUG", "console", false},
		{"warn", "", false},
		{"verbose", "json", true},
		{"info", "xml", true},
	}
	for _, tt := range tests {
		logger, err := New(tt.level, tt.format)
		if (err != nil) != tt.wantErr {
			t.Errorf("New(%q, %q) error = %v, wantErr %v", tt.level, tt.format, err, tt.wantErr)
		}
		if err == nil && logger == nil {
			t.Errorf("New(%q, %q) returned nil logger", tt.level, tt.format)
		}
	}
}
