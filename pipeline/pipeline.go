package pipeline

import (
	"context"
	"time"

	"voicerelay/audio"
	"voicerelay/core"
	"voicerelay/persona"
	"voicerelay/store"
)

// Transcriber converts one canonical-form WAV utterance to text.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
}

// Completer returns the assistant reply for an assembled context.
type Completer interface {
	Complete(ctx context.Context, messages []core.Message) (string, error)
}

// Synthesizer converts reply text to one audio payload for a voice.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) ([]byte, error)
}

// ContextAssembler builds the ordered model context for a conversation.
type ContextAssembler interface {
	Assemble(ctx context.Context, identityID int64, personaName string) ([]core.Message, error)
}

// HistoryStore is the slice of the store the pipeline needs.
type HistoryStore interface {
	AppendTurnPair(ctx context.Context, identityID int64, persona, userText, assistantText string) error
	Turns(ctx context.Context, identityID int64, persona string) ([]core.Message, error)
}

// Config holds per-stage timeouts and the inbound audio shape. Every
// collaborator call is bounded so a worker never hangs on a dead service.
type Config struct {
	Audio audio.Config `json:"audio"`

	TranscribeTimeout time.Duration `json:"transcribe_timeout"`
	CompleteTimeout   time.Duration `json:"complete_timeout"`
	SynthesizeTimeout time.Duration `json:"synthesize_timeout"`
}

// DefaultConfig returns sensible per-stage timeouts.
func DefaultConfig() Config {
	return Config{
		Audio:             audio.DefaultConfig(),
		TranscribeTimeout: 30 * time.Second,
		CompleteTimeout:   60 * time.Second,
		SynthesizeTimeout: 30 * time.Second,
	}
}

// Result is the outcome of one turn. Failure is "" on a clean turn;
// otherwise it names the stage that degraded the response. Even a failed
// turn produces a usable Result — the dispatcher always sends exactly
// one outbound message.
type Result struct {
	Text    string
	Audio   []byte
	History []core.Message
	Failure core.FailureKind
}

// Pipeline orchestrates one full audio turn: transcription, context
// assembly, completion, atomic pair persistence, synthesis, and history
// reassembly. Stages run sequentially for a given turn.
type Pipeline struct {
	config      Config
	transcriber Transcriber
	completer   Completer
	synthesizer Synthesizer
	assembler   ContextAssembler
	history     HistoryStore
	logger      *core.Logger
}

// New creates a turn pipeline over the given collaborators.
func New(
	config Config,
	transcriber Transcriber,
	completer Completer,
	synthesizer Synthesizer,
	assembler ContextAssembler,
	history HistoryStore,
	logger *core.Logger,
) *Pipeline {
	if config.TranscribeTimeout == 0 {
		config.TranscribeTimeout = DefaultConfig().TranscribeTimeout
	}
	if config.CompleteTimeout == 0 {
		config.CompleteTimeout = DefaultConfig().CompleteTimeout
	}
	if config.SynthesizeTimeout == 0 {
		config.SynthesizeTimeout = DefaultConfig().SynthesizeTimeout
	}
	if config.Audio.SampleRate == 0 {
		config.Audio = audio.DefaultConfig()
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Pipeline{
		config:      config,
		transcriber: transcriber,
		completer:   completer,
		synthesizer: synthesizer,
		assembler:   assembler,
		history:     history,
		logger:      logger,
	}
}

// Run processes one audio turn for (identity, persona).
//
// Failure policy: transcription and completion failures persist nothing
// and answer with text only. A persistence failure does not suppress the
// already-computed reply, but the returned history is re-read from the
// store so it never claims the unpersisted pair. A synthesis failure
// still delivers text and history with no audio.
func (p *Pipeline) Run(ctx context.Context, identity store.Identity, pers persona.Persona, inbound []byte) Result {
	log := p.logger.With(map[string]interface{}{
		"identity_id": identity.ID,
		"persona":     pers.Name,
	})

	// 1. Normalize and transcribe.
	wav, err := audio.NormalizeToWAV(inbound, p.config.Audio)
	if err != nil {
		log.With(map[string]interface{}{"error": err}).Warn("inbound audio rejected")
		return p.degraded(ctx, identity, pers, core.FailureNotUnderstood)
	}

	userText, err := p.transcribe(ctx, wav)
	if err != nil {
		kind := core.KindOf(err)
		if kind == "" {
			kind = core.FailureTranscription
		}
		log.With(map[string]interface{}{"error": err}).Warn("transcription failed")
		return p.degraded(ctx, identity, pers, kind)
	}

	// 2. Assemble context and append the new user turn.
	messages, err := p.assembler.Assemble(ctx, identity.ID, pers.Name)
	if err != nil {
		log.With(map[string]interface{}{"error": err}).Error("context assembly failed")
		return p.degraded(ctx, identity, pers, core.FailureStore)
	}
	messages = append(messages, core.UserMessage(userText))

	// 3. Completion. On failure nothing is persisted, so history never
	// carries an orphaned user-only turn.
	replyText, err := p.complete(ctx, messages)
	if err != nil {
		log.With(map[string]interface{}{"error": err}).Error("completion failed")
		return p.degraded(ctx, identity, pers, core.FailureCompletion)
	}

	result := Result{Text: replyText}

	// 4. Persist the user and assistant turns as one atomic append.
	if err := p.history.AppendTurnPair(ctx, identity.ID, pers.Name, userText, replyText); err != nil {
		log.With(map[string]interface{}{"error": err}).Error("turn pair persistence failed")
		result.Failure = core.FailureStore
	}

	// 5. Synthesis runs after storage but does not depend on it. Text
	// delivery is never blocked by a synthesis failure.
	replyAudio, err := p.synthesize(ctx, replyText, pers.VoiceID)
	if err != nil {
		log.With(map[string]interface{}{"error": err}).Error("synthesis failed")
		if result.Failure == "" {
			result.Failure = core.FailureSynthesis
		}
	} else {
		result.Audio = replyAudio
	}

	// 6. Re-read the history so the response reflects exactly what the
	// store committed for this turn.
	result.History = p.committedHistory(ctx, identity, pers)
	return result
}

// degraded builds the text-only response for a turn that failed before
// producing a reply. No turn is persisted.
func (p *Pipeline) degraded(ctx context.Context, identity store.Identity, pers persona.Persona, kind core.FailureKind) Result {
	text := core.ApologyText
	if kind == core.FailureNotUnderstood {
		text = core.NotUnderstoodText
	}
	return Result{
		Text:    text,
		History: p.committedHistory(ctx, identity, pers),
		Failure: kind,
	}
}

// committedHistory reads the persisted turns, falling back to an empty
// list when the store is unreachable.
func (p *Pipeline) committedHistory(ctx context.Context, identity store.Identity, pers persona.Persona) []core.Message {
	turns, err := p.history.Turns(ctx, identity.ID, pers.Name)
	if err != nil {
		p.logger.With(map[string]interface{}{
			"identity_id": identity.ID,
			"persona":     pers.Name,
			"error":       err,
		}).Error("history read failed")
		return []core.Message{}
	}
	return turns
}

func (p *Pipeline) transcribe(ctx context.Context, wav []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.TranscribeTimeout)
	defer cancel()
	return p.transcriber.Transcribe(ctx, wav)
}

func (p *Pipeline) complete(ctx context.Context, messages []core.Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.CompleteTimeout)
	defer cancel()
	return p.completer.Complete(ctx, messages)
}

func (p *Pipeline) synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.SynthesizeTimeout)
	defer cancel()
	return p.synthesizer.Synthesize(ctx, text, voiceID)
}
