package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sprintpilot/internal/logging"
	"sprintpilot/internal/types"
)

// SaveArtifact persists a new version of an artifact, superseding the
// previous current version of the same type. Old versions are kept.
func (s *LocalStore) SaveArtifact(sessionID string, content types.ArtifactContent, phase types.Phase) (*types.Artifact, error) {
	timer := logging.StartTimer(logging.CategoryStore, "SaveArtifact")
	defer timer.Stop()

	if content == nil {
		return nil, fmt.Errorf("nil artifact content")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := types.MarshalArtifactContent(content)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	artifactType := string(content.Type())

	var prevVersion int
	err = tx.QueryRow(`
		SELECT COALESCE(MAX(version), 0) FROM artifacts
		WHERE session_id = ? AND artifact_type = ?`,
		sessionID, artifactType).Scan(&prevVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact version: %w", err)
	}

	if _, err := tx.Exec(`
		UPDATE artifacts SET is_current = 0
		WHERE session_id = ? AND artifact_type = ? AND is_current = 1`,
		sessionID, artifactType); err != nil {
		return nil, fmt.Errorf("failed to supersede artifact: %w", err)
	}

	artifact := &types.Artifact{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Content:   content,
		Phase:     phase,
		Version:   prevVersion + 1,
		IsCurrent: true,
		CreatedAt: time.Now().UTC(),
	}

	if _, err := tx.Exec(`
		INSERT INTO artifacts (id, session_id, artifact_type, content, phase, version, is_current, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?)`,
		artifact.ID, sessionID, artifactType, string(payload),
		int(phase), artifact.Version, artifact.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to insert artifact: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit artifact: %w", err)
	}

	logging.StoreDebug("Saved %s v%d for session %s", artifactType, artifact.Version, sessionID)
	return artifact, nil
}

// CurrentArtifact returns the current version of the given artifact
// type, or ErrNotFound.
func (s *LocalStore) CurrentArtifact(sessionID string, t types.ArtifactType) (*types.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT id, session_id, artifact_type, content, phase, version, is_current, created_at
		FROM artifacts
		WHERE session_id = ? AND artifact_type = ? AND is_current = 1`,
		sessionID, string(t))

	artifact, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("artifact %s for session %s: %w", t, sessionID, ErrNotFound)
	}
	return artifact, err
}

// CurrentArtifacts returns all current artifacts for a session.
func (s *LocalStore) CurrentArtifacts(sessionID string) ([]*types.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, session_id, artifact_type, content, phase, version, is_current, created_at
		FROM artifacts
		WHERE session_id = ? AND is_current = 1
		ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []*types.Artifact
	for rows.Next() {
		var (
			a                         types.Artifact
			artifactType, contentJSON string
			phase, current            int
		)
		if err := rows.Scan(&a.ID, &a.SessionID, &artifactType, &contentJSON,
			&phase, &a.Version, &current, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Phase = types.Phase(phase)
		a.IsCurrent = current == 1
		a.Content, err = types.UnmarshalArtifactContent(types.ArtifactType(artifactType), []byte(contentJSON))
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, &a)
	}
	return artifacts, rows.Err()
}

// CurrentArtifactsByPhase returns the current artifacts created in the
// given phase. The phase manager merges their content for readiness
// element checks.
func (s *LocalStore) CurrentArtifactsByPhase(sessionID string, phase types.Phase) ([]*types.Artifact, error) {
	all, err := s.CurrentArtifacts(sessionID)
	if err != nil {
		return nil, err
	}
	var filtered []*types.Artifact
	for _, a := range all {
		if a.Phase == phase {
			filtered = append(filtered, a)
		}
	}
	return filtered, nil
}

func scanArtifact(row *sql.Row) (*types.Artifact, error) {
	var (
		a                         types.Artifact
		artifactType, contentJSON string
		phase, current            int
	)
	err := row.Scan(&a.ID, &a.SessionID, &artifactType, &contentJSON,
		&phase, &a.Version, &current, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.Phase = types.Phase(phase)
	a.IsCurrent = current == 1
	a.Content, err = types.UnmarshalArtifactContent(types.ArtifactType(artifactType), []byte(contentJSON))
	if err != nil {
		return nil, err
	}
	return &a, nil
}
