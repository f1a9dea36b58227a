package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sprintpilot/internal/logging"
	"sprintpilot/internal/types"
)

// ReplaceSelections atomically replaces a session's recommendation
// batch. The UNIQUE(session_id, rank) constraint plus the full replace
// keeps ranks contiguous and prevents two concurrent runs from
// interleaving rows.
func (s *LocalStore) ReplaceSelections(sessionID string, selections []*types.FrameworkSelection) error {
	timer := logging.StartTimer(logging.CategoryStore, "ReplaceSelections")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM framework_selections WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to clear selections: %w", err)
	}

	now := time.Now().UTC()
	for _, sel := range selections {
		if sel.ID == "" {
			sel.ID = uuid.NewString()
		}
		sel.SessionID = sessionID
		sel.CreatedAt = now

		breakdownJSON, err := json.Marshal(sel.Breakdown)
		if err != nil {
			return fmt.Errorf("failed to marshal breakdown: %w", err)
		}

		if _, err := tx.Exec(`
			INSERT INTO framework_selections
				(id, session_id, knowledge_item_id, overall_score, breakdown, rank, selection_reason, was_applied, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)`,
			sel.ID, sessionID, sel.KnowledgeItemID, sel.OverallScore,
			string(breakdownJSON), sel.Rank, sel.SelectionReason, now); err != nil {
			return fmt.Errorf("failed to insert selection rank %d: %w", sel.Rank, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit selections: %w", err)
	}

	logging.Selector("Persisted %d selections for session %s", len(selections), sessionID)
	return nil
}

// ListSelections returns a session's recommendation batch ordered by rank.
func (s *LocalStore) ListSelections(sessionID string) ([]*types.FrameworkSelection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, session_id, knowledge_item_id, overall_score, breakdown, rank, COALESCE(selection_reason, ''), was_applied, created_at
		FROM framework_selections WHERE session_id = ?
		ORDER BY rank ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list selections: %w", err)
	}
	defer rows.Close()

	var selections []*types.FrameworkSelection
	for rows.Next() {
		var (
			sel           types.FrameworkSelection
			breakdownJSON string
			applied       int
		)
		if err := rows.Scan(&sel.ID, &sel.SessionID, &sel.KnowledgeItemID, &sel.OverallScore,
			&breakdownJSON, &sel.Rank, &sel.SelectionReason, &applied, &sel.CreatedAt); err != nil {
			return nil, err
		}
		sel.WasApplied = applied == 1
		if err := json.Unmarshal([]byte(breakdownJSON), &sel.Breakdown); err != nil {
			return nil, fmt.Errorf("failed to decode breakdown: %w", err)
		}
		selections = append(selections, &sel)
	}
	return selections, rows.Err()
}

// MarkSelectionApplied flips the applied flag once the application
// phase has worked through a framework.
func (s *LocalStore) MarkSelectionApplied(sessionID, knowledgeItemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		UPDATE framework_selections SET was_applied = 1
		WHERE session_id = ? AND knowledge_item_id = ?`,
		sessionID, knowledgeItemID)
	if err != nil {
		return fmt.Errorf("failed to mark selection applied: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("selection %s for session %s: %w", knowledgeItemID, sessionID, ErrNotFound)
	}
	return nil
}
