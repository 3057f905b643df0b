// Package postgres provides PostgreSQL storage for session credentials.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/txn2/chatbridge/pkg/authstate"
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Store implements authstate.Store using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL credential store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Load retrieves the credential blob for a session. Returns nil, nil if absent.
func (s *Store) Load(ctx context.Context, sessionID string) ([]byte, error) {
	query, args, err := psq.Select("state").
		From("auth_states").
		Where(sq.Eq{"session_id": sessionID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building auth state query: %w", err)
	}

	var blob []byte
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading auth state: %w", err)
	}
	return blob, nil
}

// Save persists the credential blob for a session. Last write wins.
func (s *Store) Save(ctx context.Context, sessionID string, state []byte) error {
	query := `
		INSERT INTO auth_states (session_id, state, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (session_id)
		DO UPDATE SET state = EXCLUDED.state, updated_at = NOW()
	`
	_, err := s.db.ExecContext(ctx, query, sessionID, state)
	if err != nil {
		return fmt.Errorf("saving auth state: %w", err)
	}
	return nil
}

// Delete removes all persisted material for a session. Deleting an absent
// session is a no-op.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	query := `DELETE FROM auth_states WHERE session_id = $1`
	_, err := s.db.ExecContext(ctx, query, sessionID)
	if err != nil {
		return fmt.Errorf("deleting auth state: %w", err)
	}
	return nil
}

// ListSessionIDs returns the IDs of all sessions with persisted credentials.
func (s *Store) ListSessionIDs(ctx context.Context) ([]string, error) {
	query, args, err := psq.Select("session_id").
		From("auth_states").
		OrderBy("session_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building session id query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing auth state sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning session id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session id rows: %w", err)
	}
	return ids, nil
}

// Close releases backend resources. The *sql.DB is owned by the caller.
func (*Store) Close() error {
	return nil
}

// Verify interface compliance.
var _ authstate.Store = (*Store)(nil)
