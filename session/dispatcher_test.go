package session

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"voicerelay/persona"
	"voicerelay/pipeline"
	"voicerelay/protocol"
	"voicerelay/store"
)

type frame struct {
	messageType int
	data        []byte
}

type fakeConn struct {
	frames []frame
	writes [][]byte
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	if len(c.frames) == 0 {
		return 0, nil, io.EOF
	}
	f := c.frames[0]
	c.frames = c.frames[1:]
	return f.messageType, f.data, nil
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.writes = append(c.writes, data)
	return nil
}

func (c *fakeConn) Close() error { return nil }

type runnerFunc func(ctx context.Context, identity store.Identity, pers persona.Persona, inbound []byte) pipeline.Result

func (f runnerFunc) Run(ctx context.Context, identity store.Identity, pers persona.Persona, inbound []byte) pipeline.Result {
	return f(ctx, identity, pers, inbound)
}

func newTestDeps(t *testing.T) (*store.Store, *persona.Registry) {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(store.Config{
		Path:           filepath.Join(t.TempDir(), "relay.db"),
		DefaultPersona: "Santa",
	}, nil)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.Init(ctx); err != nil {
		t.Fatalf("Init error: %v", err)
	}
	if err := st.SeedPrompts(ctx, persona.DefaultPrompts()); err != nil {
		t.Fatalf("SeedPrompts error: %v", err)
	}

	registry, err := persona.NewRegistry(persona.DefaultConfig(), st, nil)
	if err != nil {
		t.Fatalf("NewRegistry error: %v", err)
	}
	return st, registry
}

func runScript(t *testing.T, st *store.Store, registry *persona.Registry, runner TurnRunner, frames []frame) []protocol.Response {
	t.Helper()
	conn := &fakeConn{frames: frames}
	d := NewDispatcher(conn, "1.2.3.4", st, registry, runner, nil)
	d.Run(context.Background())

	responses := make([]protocol.Response, 0, len(conn.writes))
	for _, w := range conn.writes {
		var resp protocol.Response
		if err := sonic.Unmarshal(w, &resp); err != nil {
			t.Fatalf("unmarshal response: %v", err)
		}
		responses = append(responses, resp)
	}
	return responses
}

func textFrame(s string) frame {
	return frame{messageType: websocket.TextMessage, data: []byte(s)}
}

func audioFrame() frame {
	return frame{messageType: websocket.BinaryMessage, data: make([]byte, 640)}
}

func TestDispatchAudioTurn(t *testing.T) {
	st, registry := newTestDeps(t)

	var gotPersona string
	runner := runnerFunc(func(ctx context.Context, identity store.Identity, pers persona.Persona, inbound []byte) pipeline.Result {
		gotPersona = pers.Name
		// Behave like the real pipeline: persist, then report history.
		if err := st.AppendTurnPair(ctx, identity.ID, pers.Name, "hello", "Ho ho ho!"); err != nil {
			t.Fatalf("AppendTurnPair error: %v", err)
		}
		turns, _ := st.Turns(ctx, identity.ID, pers.Name)
		return pipeline.Result{Text: "Ho ho ho!", Audio: []byte{0xAA}, History: turns}
	})

	responses := runScript(t, st, registry, runner, []frame{audioFrame()})

	if len(responses) != 1 {
		t.Fatalf("responses = %d; want exactly one per inbound message", len(responses))
	}
	if gotPersona != "Santa" {
		t.Errorf("turn ran under persona %q; want the default Santa", gotPersona)
	}
	resp := responses[0]
	if resp.Text != "Ho ho ho!" {
		t.Errorf("text = %q; want %q", resp.Text, "Ho ho ho!")
	}
	if resp.Audio == "" {
		t.Errorf("audio missing from audio-turn response")
	}
	if len(resp.History) != 2 {
		t.Errorf("history = %d entries; want 2", len(resp.History))
	}
}

func TestDispatchGetHistoryIsReadOnly(t *testing.T) {
	st, registry := newTestDeps(t)
	ctx := context.Background()

	identity, err := st.Resolve(ctx, "1.2.3.4")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if err := st.AppendTurnPair(ctx, identity.ID, "Santa", "hi", "ho"); err != nil {
		t.Fatalf("AppendTurnPair error: %v", err)
	}

	runner := runnerFunc(func(context.Context, store.Identity, persona.Persona, []byte) pipeline.Result {
		t.Fatalf("control message must not reach the turn pipeline")
		return pipeline.Result{}
	})

	responses := runScript(t, st, registry, runner, []frame{
		textFrame(`{"type": "get_history"}`),
	})

	if len(responses) != 1 {
		t.Fatalf("responses = %d; want 1", len(responses))
	}
	resp := responses[0]
	if resp.Type != "conversation" {
		t.Errorf("type = %q; want conversation", resp.Type)
	}
	if len(resp.History) != 2 {
		t.Errorf("history = %d entries; want 2", len(resp.History))
	}

	turns, _ := st.Turns(ctx, identity.ID, "Santa")
	if len(turns) != 2 {
		t.Errorf("history fetch mutated the store: %d turns", len(turns))
	}
}

func TestDispatchPersonaSwitch(t *testing.T) {
	st, registry := newTestDeps(t)
	ctx := context.Background()

	runner := runnerFunc(func(context.Context, store.Identity, persona.Persona, []byte) pipeline.Result {
		return pipeline.Result{}
	})

	// Switching twice in a row is idempotent.
	responses := runScript(t, st, registry, runner, []frame{
		textFrame(`{"character": "Scientist"}`),
		textFrame(`{"character": "Scientist"}`),
	})
	if len(responses) != 2 {
		t.Fatalf("responses = %d; want 2", len(responses))
	}
	for i, resp := range responses {
		if resp.Type != "conversation" {
			t.Errorf("response %d type = %q; want conversation", i, resp.Type)
		}
	}

	identity, err := st.Resolve(ctx, "1.2.3.4")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if identity.SelectedPersona != "Scientist" {
		t.Errorf("selected persona = %q; want Scientist", identity.SelectedPersona)
	}
}

func TestDispatchUnknownPersonaFallsBack(t *testing.T) {
	st, registry := newTestDeps(t)
	ctx := context.Background()

	identity, err := st.Resolve(ctx, "1.2.3.4")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if err := st.AppendTurnPair(ctx, identity.ID, "Santa", "hi", "ho"); err != nil {
		t.Fatalf("AppendTurnPair error: %v", err)
	}

	runner := runnerFunc(func(context.Context, store.Identity, persona.Persona, []byte) pipeline.Result {
		return pipeline.Result{}
	})

	responses := runScript(t, st, registry, runner, []frame{
		textFrame(`{"character": "Nobody"}`),
	})

	if len(responses) != 1 {
		t.Fatalf("responses = %d; want 1", len(responses))
	}
	// Selection is unchanged and the history is for the previous persona.
	after, _ := st.Resolve(ctx, "1.2.3.4")
	if after.SelectedPersona != "Santa" {
		t.Errorf("selected persona = %q; want unchanged Santa", after.SelectedPersona)
	}
	if len(responses[0].History) != 2 {
		t.Errorf("history = %d entries; want the 2 Santa turns", len(responses[0].History))
	}
}

func TestDispatchSelectionWithoutCharacterUsesDefault(t *testing.T) {
	st, registry := newTestDeps(t)
	ctx := context.Background()

	identity, err := st.Resolve(ctx, "1.2.3.4")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if err := st.SelectPersona(ctx, identity.ID, "Benny"); err != nil {
		t.Fatalf("SelectPersona error: %v", err)
	}

	runner := runnerFunc(func(context.Context, store.Identity, persona.Persona, []byte) pipeline.Result {
		return pipeline.Result{}
	})

	runScript(t, st, registry, runner, []frame{textFrame(`{}`)})

	after, _ := st.Resolve(ctx, "1.2.3.4")
	if after.SelectedPersona != registry.Default() {
		t.Errorf("selected persona = %q; want default %q", after.SelectedPersona, registry.Default())
	}
}

func TestDispatchSwitchRoutesNextTurn(t *testing.T) {
	st, registry := newTestDeps(t)

	var personas []string
	runner := runnerFunc(func(_ context.Context, _ store.Identity, pers persona.Persona, _ []byte) pipeline.Result {
		personas = append(personas, pers.Name)
		return pipeline.Result{Text: "ok"}
	})

	runScript(t, st, registry, runner, []frame{
		audioFrame(),
		textFrame(`{"character": "BestFriend"}`),
		audioFrame(),
	})

	want := []string{"Santa", "BestFriend"}
	if len(personas) != len(want) {
		t.Fatalf("pipeline ran %d turns; want %d", len(personas), len(want))
	}
	for i := range want {
		if personas[i] != want[i] {
			t.Errorf("turn %d ran under %q; want %q", i, personas[i], want[i])
		}
	}
}

func TestDispatchOneResponsePerInbound(t *testing.T) {
	st, registry := newTestDeps(t)

	runner := runnerFunc(func(context.Context, store.Identity, persona.Persona, []byte) pipeline.Result {
		return pipeline.Result{Text: "ok"}
	})

	script := []frame{
		audioFrame(),
		textFrame(`{"type": "get_history"}`),
		textFrame(`{"character": "Nobody"}`),
		textFrame(`{not json`),
		audioFrame(),
	}
	responses := runScript(t, st, registry, runner, script)

	if len(responses) != len(script) {
		t.Fatalf("responses = %d; want %d (exactly one per inbound message)", len(responses), len(script))
	}
}
