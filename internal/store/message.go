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

// AppendMessage stores a new message on the active branch.
func (s *LocalStore) AppendMessage(sessionID, parentID string, role types.MessageRole, content string, phase types.Phase) (*types.Message, error) {
	timer := logging.StartTimer(logging.CategoryStore, "AppendMessage")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	msg := &types.Message{
		ID:              uuid.NewString(),
		SessionID:       sessionID,
		ParentMessageID: parentID,
		Role:            role,
		Content:         content,
		Phase:           phase,
		ActiveBranch:    true,
		CreatedAt:       time.Now().UTC(),
	}

	var parent interface{}
	if parentID != "" {
		parent = parentID
	}

	_, err := s.db.Exec(`
		INSERT INTO messages (id, session_id, parent_message_id, role, content, phase, active_branch, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?)`,
		msg.ID, sessionID, parent, string(role), content, int(phase), msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}
	return msg, nil
}

// GetMessage loads a message by id.
func (s *LocalStore) GetMessage(id string) (*types.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT id, session_id, COALESCE(parent_message_id, ''), role, content, phase, active_branch, created_at
		FROM messages WHERE id = ?`, id)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	return msg, err
}

// ActiveMessages returns the active conversation path in creation order.
func (s *LocalStore) ActiveMessages(sessionID string) ([]*types.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, session_id, COALESCE(parent_message_id, ''), role, content, phase, active_branch, created_at
		FROM messages WHERE session_id = ? AND active_branch = 1
		ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load active messages: %w", err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

// LastActiveMessage returns the tail of the active path, or nil for an
// empty conversation.
func (s *LocalStore) LastActiveMessage(sessionID string) (*types.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT id, session_id, COALESCE(parent_message_id, ''), role, content, phase, active_branch, created_at
		FROM messages WHERE session_id = ? AND active_branch = 1
		ORDER BY created_at DESC LIMIT 1`, sessionID)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return msg, err
}

// CountActiveUserMessages counts the user messages on the active path
// tagged with the given phase. Used by phase readiness checks.
func (s *LocalStore) CountActiveUserMessages(sessionID string, phase types.Phase) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM messages
		WHERE session_id = ? AND phase = ? AND role = 'user' AND active_branch = 1`,
		sessionID, int(phase)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count user messages: %w", err)
	}
	return n, nil
}

// SetActivePath makes the root-to-messageID path the only active one.
// Every active message in the session is deactivated first, so the
// branch point may sit anywhere in the tree, including on a path an
// earlier branch abandoned. Runs in one transaction so readers never
// observe zero or two active paths.
func (s *LocalStore) SetActivePath(sessionID, messageID string) error {
	timer := logging.StartTimer(logging.CategoryStore, "SetActivePath")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin branch transaction: %w", err)
	}
	if _, err := tx.Exec(
		`UPDATE messages SET active_branch = 0 WHERE session_id = ? AND active_branch = 1`,
		sessionID); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to deactivate current path: %w", err)
	}
	res, err := tx.Exec(`
		WITH RECURSIVE ancestors(id, parent) AS (
			SELECT id, parent_message_id FROM messages WHERE id = ? AND session_id = ?
			UNION ALL
			SELECT m.id, m.parent_message_id FROM messages m JOIN ancestors a ON m.id = a.parent
		)
		UPDATE messages SET active_branch = 1 WHERE id IN (SELECT id FROM ancestors)`,
		messageID, sessionID)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to activate ancestry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		tx.Rollback()
		return fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit active path: %w", err)
	}
	logging.StoreDebug("Active path rewritten to ancestry of message %s", messageID)
	return nil
}

func scanMessage(row *sql.Row) (*types.Message, error) {
	var msg types.Message
	var role string
	var phase, active int
	err := row.Scan(&msg.ID, &msg.SessionID, &msg.ParentMessageID, &role, &msg.Content,
		&phase, &active, &msg.CreatedAt)
	if err != nil {
		return nil, err
	}
	msg.Role = types.MessageRole(role)
	msg.Phase = types.Phase(phase)
	msg.ActiveBranch = active == 1
	return &msg, nil
}

func collectMessages(rows *sql.Rows) ([]*types.Message, error) {
	var msgs []*types.Message
	for rows.Next() {
		var msg types.Message
		var role string
		var phase, active int
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.ParentMessageID, &role, &msg.Content,
			&phase, &active, &msg.CreatedAt); err != nil {
			return nil, err
		}
		msg.Role = types.MessageRole(role)
		msg.Phase = types.Phase(phase)
		msg.ActiveBranch = active == 1
		msgs = append(msgs, &msg)
	}
	return msgs, rows.Err()
}
