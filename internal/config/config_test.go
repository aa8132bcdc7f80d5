package config

import "testing"

func TestAssistantConfigured(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		enabled bool
	}{
		{name: "nothing set", cfg: Config{}, enabled: false},
		{name: "key only", cfg: Config{AIAPIKey: "sk-test"}, enabled: true},
		{name: "keyless local server", cfg: Config{AIBaseURL: "http://localhost:11434/v1"}, enabled: true},
		{name: "both", cfg: Config{AIAPIKey: "sk-test", AIBaseURL: "http://localhost:11434/v1"}, enabled: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.AssistantConfigured(); got != tt.enabled {
				t.Fatalf("AssistantConfigured() = %v, want %v", got, tt.enabled)
			}
		})
	}
}

func TestAssistantBaseURLDefaultsToOpenAI(t *testing.T) {
	cfg := Config{AIAPIKey: "sk-test"}
	if got := cfg.AssistantBaseURL(); got != "https://api.openai.com/v1" {
		t.Fatalf("AssistantBaseURL() = %q, want the OpenAI endpoint", got)
	}

	cfg.AIBaseURL = "http://localhost:11434/v1"
	if got := cfg.AssistantBaseURL(); got != "http://localhost:11434/v1" {
		t.Fatalf("AssistantBaseURL() = %q, want the configured endpoint", got)
	}
}
