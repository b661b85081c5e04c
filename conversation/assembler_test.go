package conversation

import (
	"context"
	"errors"
	"testing"

	"voicerelay/core"
	"voicerelay/persona"
)

type fakeTurns []core.Message

func (f fakeTurns) Turns(context.Context, int64, string) ([]core.Message, error) {
	return f, nil
}

type fakePersonas map[string]persona.Persona

func (f fakePersonas) Lookup(_ context.Context, name string) (persona.Persona, bool, error) {
	p, ok := f[name]
	return p, ok, nil
}

func TestAssemblePrefixesSystemPrompt(t *testing.T) {
	turns := fakeTurns{
		core.UserMessage("hello"),
		core.AssistantMessage("Ho ho ho!"),
	}
	personas := fakePersonas{
		"Santa": {Name: "Santa", SystemPrompt: "You are Santa.", VoiceID: "v1"},
	}

	a := NewAssembler(turns, personas)
	messages, err := a.Assemble(context.Background(), 1, "Santa")
	if err != nil {
		t.Fatalf("Assemble error: %v", err)
	}

	if len(messages) != 3 {
		t.Fatalf("messages = %d; want 3", len(messages))
	}
	if messages[0].Role != core.MessageRoleSystem || messages[0].Content != "You are Santa." {
		t.Errorf("messages[0] = %+v; want system prompt", messages[0])
	}
	for i, want := range turns {
		if messages[i+1] != want {
			t.Errorf("messages[%d] = %+v; want %+v", i+1, messages[i+1], want)
		}
	}
}

func TestAssembleEmptyConversation(t *testing.T) {
	personas := fakePersonas{
		"Santa": {Name: "Santa", SystemPrompt: "You are Santa.", VoiceID: "v1"},
	}
	a := NewAssembler(fakeTurns{}, personas)

	messages, err := a.Assemble(context.Background(), 1, "Santa")
	if err != nil {
		t.Fatalf("Assemble error: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("messages = %d; want just the system prompt", len(messages))
	}
}

func TestAssembleUnknownPersona(t *testing.T) {
	a := NewAssembler(fakeTurns{}, fakePersonas{})
	if _, err := a.Assemble(context.Background(), 1, "Nobody"); err == nil {
		t.Fatalf("expected error for unknown persona")
	}
}

type failingTurns struct{}

func (failingTurns) Turns(context.Context, int64, string) ([]core.Message, error) {
	return nil, errors.New("db gone")
}

func TestAssembleTurnLoadFailure(t *testing.T) {
	personas := fakePersonas{
		"Santa": {Name: "Santa", SystemPrompt: "x", VoiceID: "v1"},
	}
	a := NewAssembler(failingTurns{}, personas)
	if _, err := a.Assemble(context.Background(), 1, "Santa"); err == nil {
		t.Fatalf("expected error when turns cannot be loaded")
	}
}
