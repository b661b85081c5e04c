package conversation

import (
	"context"
	"fmt"

	"voicerelay/core"
	"voicerelay/persona"
)

// TurnSource provides the persisted turns for one conversation in
// creation order, normally the store.
type TurnSource interface {
	Turns(ctx context.Context, identityID int64, personaName string) ([]core.Message, error)
}

// PersonaSource resolves persona configuration, normally the registry.
type PersonaSource interface {
	Lookup(ctx context.Context, name string) (persona.Persona, bool, error)
}

// Assembler builds the ordered message list submitted to the language
// model: the persona's system prompt first, then every persisted turn in
// creation order. No windowing or truncation is applied; the context
// grows with the conversation.
type Assembler struct {
	turns    TurnSource
	personas PersonaSource
}

// NewAssembler creates an assembler over the given sources.
func NewAssembler(turns TurnSource, personas PersonaSource) *Assembler {
	return &Assembler{turns: turns, personas: personas}
}

// Assemble produces the full model context for (identity, persona).
// Replaying the persisted turns behind the system prompt reconstructs
// exactly what the model saw before the next turn.
func (a *Assembler) Assemble(ctx context.Context, identityID int64, personaName string) ([]core.Message, error) {
	p, ok, err := a.personas.Lookup(ctx, personaName)
	if err != nil {
		return nil, fmt.Errorf("conversation: resolve persona %s: %w", personaName, err)
	}
	if !ok {
		return nil, fmt.Errorf("conversation: unknown persona %s", personaName)
	}

	turns, err := a.turns.Turns(ctx, identityID, personaName)
	if err != nil {
		return nil, fmt.Errorf("conversation: load turns: %w", err)
	}

	messages := make([]core.Message, 0, len(turns)+1)
	messages = append(messages, core.SystemMessage(p.SystemPrompt))
	messages = append(messages, turns...)
	return messages, nil
}
