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

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// CreateSession creates a new sprint session starting at problem intake.
func (s *LocalStore) CreateSession(userID string, cfg types.SessionConfig) (*types.Session, error) {
	timer := logging.StartTimer(logging.CategoryStore, "CreateSession")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	sess := &types.Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		Status:       types.SessionActive,
		CurrentPhase: types.PhaseProblemIntake,
		PhaseStates: map[types.Phase]types.PhaseState{
			types.PhaseProblemIntake: {Started: true, StartedAt: &now},
		},
		Config:    cfg,
		CreatedAt: now,
		UpdatedAt: now,
	}

	statesJSON, err := marshalPhaseStates(sess.PhaseStates)
	if err != nil {
		return nil, err
	}
	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session config: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO sessions (id, user_id, status, current_phase, phase_states, config, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, string(sess.Status), int(sess.CurrentPhase),
		statesJSON, string(configJSON), sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert session: %w", err)
	}

	logging.Session("Created session %s for user %s", sess.ID, userID)
	return sess, nil
}

// GetSession loads a session by id.
func (s *LocalStore) GetSession(id string) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getSessionLocked(id)
}

func (s *LocalStore) getSessionLocked(id string) (*types.Session, error) {
	row := s.db.QueryRow(`
		SELECT id, user_id, status, current_phase, phase_states, config, created_at, updated_at
		FROM sessions WHERE id = ?`, id)

	var sess types.Session
	var status, statesJSON, configJSON string
	var phase int
	err := row.Scan(&sess.ID, &sess.UserID, &status, &phase, &statesJSON, &configJSON,
		&sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	sess.Status = types.SessionStatus(status)
	sess.CurrentPhase = types.Phase(phase)
	sess.PhaseStates, err = unmarshalPhaseStates(statesJSON)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(configJSON), &sess.Config); err != nil {
		return nil, fmt.Errorf("failed to decode session config: %w", err)
	}
	return &sess, nil
}

// UpdateSessionPhase persists a phase change plus the updated per-phase
// state blob. Called by the phase manager after the transition record
// has been logged.
func (s *LocalStore) UpdateSessionPhase(sessionID string, phase types.Phase, states map[types.Phase]types.PhaseState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	statesJSON, err := marshalPhaseStates(states)
	if err != nil {
		return err
	}

	res, err := s.db.Exec(`
		UPDATE sessions SET current_phase = ?, phase_states = ?, updated_at = ?
		WHERE id = ?`,
		int(phase), statesJSON, time.Now().UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("failed to update session phase: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}

	logging.Session("Session %s now in phase %s", sessionID, phase)
	return nil
}

// UpdateSessionStatus sets the session lifecycle status.
func (s *LocalStore) UpdateSessionStatus(sessionID string, status types.SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return nil
}

// ListSessions returns all sessions for a user, newest first.
func (s *LocalStore) ListSessions(userID string) ([]*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT id FROM sessions WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sessions := make([]*types.Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.getSessionLocked(id)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

// phase_states is stored keyed by phase name, not number, so the blob
// stays readable in the database.
func marshalPhaseStates(states map[types.Phase]types.PhaseState) (string, error) {
	named := make(map[string]types.PhaseState, len(states))
	for p, st := range states {
		named[p.String()] = st
	}
	data, err := json.Marshal(named)
	if err != nil {
		return "", fmt.Errorf("failed to marshal phase states: %w", err)
	}
	return string(data), nil
}

func unmarshalPhaseStates(data string) (map[types.Phase]types.PhaseState, error) {
	named := make(map[string]types.PhaseState)
	if data != "" {
		if err := json.Unmarshal([]byte(data), &named); err != nil {
			return nil, fmt.Errorf("failed to decode phase states: %w", err)
		}
	}
	states := make(map[types.Phase]types.PhaseState, len(named))
	for name, st := range named {
		p, ok := types.ParsePhase(name)
		if !ok {
			continue
		}
		states[p] = st
	}
	return states, nil
}
