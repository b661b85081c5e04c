package persona

import (
	"context"
	"fmt"

	"voicerelay/core"
)

// DefaultName is the persona assigned to a caller on first contact.
const DefaultName = "Santa"

// DefaultVoices maps the built-in personas to their synthesis voice IDs.
func DefaultVoices() map[string]string {
	return map[string]string{
		"Santa":      "Gqe8GJJLg3haJkTwYj2L",
		"Scientist":  "Mg1264PmwVoIedxsF9nu",
		"Benny":      "INHnGXKnJqauobZLfeOV",
		"BestFriend": "0m2tDjDewtOfXrhxqgrJ",
	}
}

// DefaultPrompts returns provisioning system prompts for the built-in
// personas, used to seed a fresh database.
func DefaultPrompts() map[string]string {
	return map[string]string{
		"Santa":      "You are Santa Claus. You are jolly, warm and generous, and you speak with hearty cheer. Keep replies short enough to be spoken aloud.",
		"Scientist":  "You are an enthusiastic scientist who explains the world with curiosity and precision. Keep replies short enough to be spoken aloud.",
		"Benny":      "You are Benny, a playful and mischievous companion who loves jokes. Keep replies short enough to be spoken aloud.",
		"BestFriend": "You are the caller's supportive best friend. You are casual, encouraging and a good listener. Keep replies short enough to be spoken aloud.",
	}
}

// Persona is one named character configuration.
type Persona struct {
	Name         string
	SystemPrompt string
	VoiceID      string
}

// PromptSource provides provisioned system prompts, normally the store's
// prompts table.
type PromptSource interface {
	Prompt(ctx context.Context, persona string) (string, bool, error)
}

// Config holds configuration for the registry.
type Config struct {
	// Voices maps persona name to synthesis voice reference. The key set
	// defines which personas exist.
	Voices map[string]string `json:"voices"`
	// Default is the persona used for new identities and for selection
	// messages that name no persona.
	Default string `json:"default"`
}

// DefaultConfig returns a config carrying the built-in personas.
func DefaultConfig() Config {
	return Config{
		Voices:  DefaultVoices(),
		Default: DefaultName,
	}
}

// Registry resolves persona names to their character configuration.
// Read-only at runtime; provisioning happens at startup.
type Registry struct {
	config  Config
	prompts PromptSource
	logger  *core.Logger
}

// NewRegistry creates a registry backed by the given prompt source.
func NewRegistry(config Config, prompts PromptSource, logger *core.Logger) (*Registry, error) {
	if len(config.Voices) == 0 {
		config.Voices = DefaultVoices()
	}
	if config.Default == "" {
		config.Default = DefaultName
	}
	if _, ok := config.Voices[config.Default]; !ok {
		return nil, fmt.Errorf("persona: default %q has no voice configured", config.Default)
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Registry{config: config, prompts: prompts, logger: logger}, nil
}

// Default returns the default persona name.
func (r *Registry) Default() string {
	return r.config.Default
}

// Exists reports whether a persona with the given name is configured.
func (r *Registry) Exists(name string) bool {
	_, ok := r.config.Voices[name]
	return ok
}

// Lookup resolves a persona by name. The second return is false for
// unknown names; callers fall back to the identity's current selection
// rather than treating that as a hard error. A persona without a
// provisioned prompt row resolves with an empty system prompt.
func (r *Registry) Lookup(ctx context.Context, name string) (Persona, bool, error) {
	voice, ok := r.config.Voices[name]
	if !ok {
		return Persona{}, false, nil
	}

	prompt, found, err := r.prompts.Prompt(ctx, name)
	if err != nil {
		return Persona{}, false, fmt.Errorf("persona: prompt lookup for %s: %w", name, err)
	}
	if !found {
		r.logger.With(map[string]interface{}{"persona": name}).Warn("persona has no provisioned prompt")
	}

	return Persona{Name: name, SystemPrompt: prompt, VoiceID: voice}, true, nil
}
