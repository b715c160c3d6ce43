package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTeamsConfigValidation(t *testing.T) {
	for _, url := range []string{"", "http://example.webhook.office.com/x"} {
		cfg := TeamsConfig{WebhookURL: url}
		if err := cfg.Validate(); err == nil {
			t.Errorf("Validate(%q) should fail", url)
		}
	}
	cfg := TeamsConfig{WebhookURL: "https://example.webhook.office.com/x"}
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestTeamsNotifierSend(t *testing.T) {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	n := &TeamsNotifier{config: TeamsConfig{WebhookURL: server.URL}, httpClient: server.Client()}
	if err := n.Send(context.Background(), testMessage()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if received["type"] != "message" {
		t.Errorf("type = %v", received["type"])
	}
	attachments, ok := received["attachments"].([]any)
	if !ok || len(attachments) != 1 {
		t.Fatalf("attachments = %v", received["attachments"])
	}
	content := attachments[0].(map[string]any)["content"].(map[string]any)
	if content["type"] != "AdaptiveCard" {
		t.Errorf("content type = %v", content["type"])
	}
}

func TestTeamsBuildPayloadFacts(t *testing.T) {
	payload := (&TeamsNotifier{}).buildPayload(testMessage())
	body := payload.Attachments[0].Content.Body

	facts, ok := body[1].(factSet)
	if !ok {
		t.Fatalf("body[1] is %T, want factSet", body[1])
	}
	index := make(map[string]string)
	for _, f := range facts.Facts {
		index[f.Title] = f.Value
	}
	want := map[string]string{
		"Rule":        "SSH brute force",
		"Severity":    "HIGH",
		"Occurrences": "3",
		"Source IP":   "10.0.0.5",
		"username":    "root",
	}
	for k, v := range want {
		if index[k] != v {
			t.Errorf("fact %q = %q, want %q", k, index[k], v)
		}
	}

	if got := body[0].(container).Style; got != "attention" {
		t.Errorf("style = %q", got)
	}
}
