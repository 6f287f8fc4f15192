package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/hyperfit/ragengine/internal/config"
)

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name     string
		cfg      *config.Config
		wantErr  error
		wantName string
	}{
		{
			name:    "nil config",
			cfg:     nil,
			wantErr: config.ErrConfigNil,
		},
		{
			name:     "openai",
			cfg:      &config.Config{Provider: config.ProviderOpenAI, OpenAIAPIKey: "sk-test"},
			wantName: "openai",
		},
		{
			name:    "openai without key",
			cfg:     &config.Config{Provider: config.ProviderOpenAI},
			wantErr: config.ErrMissingAPIKey,
		},
		{
			name:    "openai unknown model",
			cfg:     &config.Config{Provider: config.ProviderOpenAI, OpenAIAPIKey: "sk-test", EmbedderModel: "gpt-4"},
			wantErr: config.ErrUnknownModel,
		},
		{
			name:     "ollama",
			cfg:      &config.Config{Provider: config.ProviderOllama, OllamaHost: "http://localhost:11434"},
			wantName: "ollama",
		},
		{
			name:    "ollama unknown model",
			cfg:     &config.Config{Provider: config.ProviderOllama, OllamaHost: "http://localhost:11434", EmbedderModel: "llama3"},
			wantErr: config.ErrUnknownModel,
		},
		{
			name:    "unknown provider",
			cfg:     &config.Config{Provider: "cohere"},
			wantErr: config.ErrUnknownProvider,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProvider(context.Background(), tt.cfg, nil)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("NewProvider() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewProvider() error = %v", err)
			}
			if p.Name() != tt.wantName {
				t.Errorf("Name() = %q, want %q", p.Name(), tt.wantName)
			}
			if p.Dimension() <= 0 {
				t.Errorf("Dimension() = %d, want positive", p.Dimension())
			}
		})
	}
}

func TestDefaultModelDimensions(t *testing.T) {
	if d := openaiDimensions[DefaultOpenAIModel]; d != 1536 {
		t.Errorf("default OpenAI model dimension = %d, want 1536", d)
	}
	if d := geminiDimensions[DefaultGeminiModel]; d != 768 {
		t.Errorf("default Gemini model dimension = %d, want 768", d)
	}
	if d := ollamaDimensions[DefaultOllamaModel]; d != 768 {
		t.Errorf("default Ollama model dimension = %d, want 768", d)
	}
}
