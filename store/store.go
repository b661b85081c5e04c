package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"voicerelay/core"
)

// Identity is one durable caller record, keyed by the transport-level
// caller address.
type Identity struct {
	ID              int64
	CallerAddress   string
	SelectedPersona string
}

// Config holds configuration for the sqlite-backed store.
type Config struct {
	Path           string `json:"path"`
	DefaultPersona string `json:"default_persona"`
}

// Store persists identities and conversation turns. It is safe for use
// from concurrent connection workers; the only update-in-place is the
// persona selection, a single statement keyed by identity id.
type Store struct {
	db     *sql.DB
	config Config
	logger *core.Logger
}

// Open opens (creating if needed) the sqlite database at config.Path.
func Open(config Config, logger *core.Logger) (*Store, error) {
	if config.Path == "" {
		return nil, errors.New("store: database path is required")
	}
	if config.DefaultPersona == "" {
		return nil, errors.New("store: default persona is required")
	}
	if logger == nil {
		logger = core.GetLogger()
	}

	db, err := sql.Open("sqlite3", config.Path+"?_busy_timeout=5000&_journal_mode=WAL&_fk=1")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", config.Path, err)
	}

	return &Store{db: db, config: config, logger: logger}, nil
}

// Init applies the schema. Idempotent; every statement is IF NOT EXISTS.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("store: apply schema: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Resolve maps a caller address to its identity, creating one with the
// default persona on first contact. Idempotent under concurrent calls
// for the same address: the unique index on ip_address makes the insert
// a no-op for the loser of the race, and both callers re-select the one
// surviving row.
func (s *Store) Resolve(ctx context.Context, callerAddress string) (Identity, error) {
	if callerAddress == "" {
		return Identity{}, errors.New("store: caller address is required")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (ip_address, selected_character) VALUES (?, ?)
		 ON CONFLICT(ip_address) DO NOTHING`,
		callerAddress, s.config.DefaultPersona,
	)
	if err != nil {
		return Identity{}, fmt.Errorf("store: insert identity: %w", err)
	}

	var id Identity
	err = s.db.QueryRowContext(ctx,
		`SELECT id, ip_address, selected_character FROM users WHERE ip_address = ?`,
		callerAddress,
	).Scan(&id.ID, &id.CallerAddress, &id.SelectedPersona)
	if err != nil {
		return Identity{}, fmt.Errorf("store: select identity: %w", err)
	}
	return id, nil
}

// SelectPersona updates the identity's selected persona. It never touches
// existing turns; the selection only routes future turns.
func (s *Store) SelectPersona(ctx context.Context, identityID int64, persona string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET selected_character = ? WHERE id = ?`,
		persona, identityID,
	)
	if err != nil {
		return fmt.Errorf("store: update selected persona: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("store: no identity with id %d", identityID)
	}
	return nil
}

// AppendTurnPair persists a user turn and its assistant turn as one
// transaction. Either both rows become visible or neither does.
func (s *Store) AppendTurnPair(ctx context.Context, identityID int64, persona, userText, assistantText string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin turn pair: %w", err)
	}
	defer tx.Rollback()

	const insert = `INSERT INTO conversation_history (user_id, character, role, content) VALUES (?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insert, identityID, persona, string(core.MessageRoleUser), userText); err != nil {
		return fmt.Errorf("store: insert user turn: %w", err)
	}
	if _, err := tx.ExecContext(ctx, insert, identityID, persona, string(core.MessageRoleAssistant), assistantText); err != nil {
		return fmt.Errorf("store: insert assistant turn: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit turn pair: %w", err)
	}
	return nil
}

// Turns returns every persisted turn for (identity, persona) in creation
// order.
func (s *Store) Turns(ctx context.Context, identityID int64, persona string) ([]core.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content FROM conversation_history
		 WHERE user_id = ? AND character = ? ORDER BY id`,
		identityID, persona,
	)
	if err != nil {
		return nil, fmt.Errorf("store: select turns: %w", err)
	}
	defer rows.Close()

	turns := []core.Message{}
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, fmt.Errorf("store: scan turn: %w", err)
		}
		turns = append(turns, core.Message{Role: core.MessageRole(role), Content: content})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate turns: %w", err)
	}
	return turns, nil
}

// Prompt returns the provisioned system prompt for a persona. The second
// return is false when the persona has no prompt row.
func (s *Store) Prompt(ctx context.Context, persona string) (string, bool, error) {
	var prompt string
	err := s.db.QueryRowContext(ctx,
		`SELECT prompt FROM prompts WHERE character = ?`, persona,
	).Scan(&prompt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: select prompt: %w", err)
	}
	return prompt, true, nil
}

// SeedPrompts inserts provisioning prompt rows, skipping personas that
// already have one. Used at startup so a fresh database carries the
// built-in personas.
func (s *Store) SeedPrompts(ctx context.Context, prompts map[string]string) error {
	for persona, prompt := range prompts {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO prompts (character, prompt) VALUES (?, ?)
			 ON CONFLICT(character) DO NOTHING`,
			persona, prompt,
		)
		if err != nil {
			return fmt.Errorf("store: seed prompt for %s: %w", persona, err)
		}
	}
	return nil
}
