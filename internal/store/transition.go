package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sprintpilot/internal/logging"
	"sprintpilot/internal/types"
)

// AppendTransition writes an immutable phase-transition log record.
func (s *LocalStore) AppendTransition(t *types.PhaseTransition) error {
	timer := logging.StartTimer(logging.CategoryStore, "AppendTransition")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	validationJSON, err := json.Marshal(t.Validation)
	if err != nil {
		return fmt.Errorf("failed to marshal validation: %w", err)
	}

	var fromPhase interface{}
	if t.FromPhase.Valid() {
		fromPhase = int(t.FromPhase)
	}

	_, err = s.db.Exec(`
		INSERT INTO phase_transitions (id, session_id, from_phase, to_phase, validation, reason, triggered_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SessionID, fromPhase, int(t.ToPhase), string(validationJSON),
		t.Reason, t.TriggeredBy, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append transition: %w", err)
	}

	logging.Phase("Logged transition %s -> %s for session %s", t.FromPhase, t.ToPhase, t.SessionID)
	return nil
}

// LatestTransition returns the most recent transition for a session,
// or nil if none has been logged.
func (s *LocalStore) LatestTransition(sessionID string) (*types.PhaseTransition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT id, session_id, COALESCE(from_phase, 0), to_phase, validation, COALESCE(reason, ''), COALESCE(triggered_by, ''), created_at
		FROM phase_transitions WHERE session_id = ?
		ORDER BY created_at DESC LIMIT 1`, sessionID)

	t, err := scanTransition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

// ListTransitions returns a session's full transition log in order.
func (s *LocalStore) ListTransitions(sessionID string) ([]*types.PhaseTransition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, session_id, COALESCE(from_phase, 0), to_phase, validation, COALESCE(reason, ''), COALESCE(triggered_by, ''), created_at
		FROM phase_transitions WHERE session_id = ?
		ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transitions: %w", err)
	}
	defer rows.Close()

	var transitions []*types.PhaseTransition
	for rows.Next() {
		var (
			t              types.PhaseTransition
			from, to       int
			validationJSON string
		)
		if err := rows.Scan(&t.ID, &t.SessionID, &from, &to, &validationJSON,
			&t.Reason, &t.TriggeredBy, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.FromPhase = types.Phase(from)
		t.ToPhase = types.Phase(to)
		if err := json.Unmarshal([]byte(validationJSON), &t.Validation); err != nil {
			return nil, fmt.Errorf("failed to decode validation: %w", err)
		}
		transitions = append(transitions, &t)
	}
	return transitions, rows.Err()
}

func scanTransition(row *sql.Row) (*types.PhaseTransition, error) {
	var (
		t              types.PhaseTransition
		from, to       int
		validationJSON string
	)
	err := row.Scan(&t.ID, &t.SessionID, &from, &to, &validationJSON,
		&t.Reason, &t.TriggeredBy, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.FromPhase = types.Phase(from)
	t.ToPhase = types.Phase(to)
	if err := json.Unmarshal([]byte(validationJSON), &t.Validation); err != nil {
		return nil, fmt.Errorf("failed to decode validation: %w", err)
	}
	return &t, nil
}
