package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"sprintpilot/internal/store"
	"sprintpilot/internal/types"
)

// memStore is an in-memory Store for pipeline tests.
type memStore struct {
	mu          sync.Mutex
	sessions    map[string]*types.Session
	messages    []*types.Message
	artifacts   map[string][]*types.Artifact
	transitions map[string][]*types.PhaseTransition
	selections  map[string][]*types.FrameworkSelection
	items       map[string]*types.KnowledgeItem
	seq         int
}

func newMemStore() *memStore {
	return &memStore{
		sessions:    make(map[string]*types.Session),
		artifacts:   make(map[string][]*types.Artifact),
		transitions: make(map[string][]*types.PhaseTransition),
		selections:  make(map[string][]*types.FrameworkSelection),
		items:       make(map[string]*types.KnowledgeItem),
	}
}

func (m *memStore) CreateSession(userID string, cfg types.SessionConfig) (*types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

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
	m.sessions[sess.ID] = sess
	return sess, nil
}

func (m *memStore) GetSession(id string) (*types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, store.ErrNotFound)
	}
	cp := *sess
	return &cp, nil
}

func (m *memStore) UpdateSessionStatus(sessionID string, status types.SessionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return store.ErrNotFound
	}
	sess.Status = status
	return nil
}

func (m *memStore) UpdateSessionPhase(sessionID string, phase types.Phase, states map[types.Phase]types.PhaseState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return store.ErrNotFound
	}
	sess.CurrentPhase = phase
	sess.PhaseStates = states
	return nil
}

func (m *memStore) AppendMessage(sessionID, parentID string, role types.MessageRole, content string, phase types.Phase) (*types.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	msg := &types.Message{
		ID:              uuid.NewString(),
		SessionID:       sessionID,
		ParentMessageID: parentID,
		Role:            role,
		Content:         content,
		Phase:           phase,
		ActiveBranch:    true,
		CreatedAt:       time.Now().UTC().Add(time.Duration(m.seq) * time.Microsecond),
	}
	m.messages = append(m.messages, msg)
	return msg, nil
}

func (m *memStore) GetMessage(id string) (*types.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, msg := range m.messages {
		if msg.ID == id {
			return msg, nil
		}
	}
	return nil, fmt.Errorf("message %s: %w", id, store.ErrNotFound)
}

func (m *memStore) ActiveMessages(sessionID string) ([]*types.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*types.Message
	for _, msg := range m.messages {
		if msg.SessionID == sessionID && msg.ActiveBranch {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *memStore) LastActiveMessage(sessionID string) (*types.Message, error) {
	msgs, _ := m.ActiveMessages(sessionID)
	if len(msgs) == 0 {
		return nil, nil
	}
	return msgs[len(msgs)-1], nil
}

func (m *memStore) CountActiveUserMessages(sessionID string, phase types.Phase) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, msg := range m.messages {
		if msg.SessionID == sessionID && msg.ActiveBranch && msg.Role == types.RoleUser && msg.Phase == phase {
			n++
		}
	}
	return n, nil
}

func (m *memStore) SetActivePath(sessionID, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byID := make(map[string]*types.Message)
	for _, msg := range m.messages {
		if msg.SessionID == sessionID {
			byID[msg.ID] = msg
		}
	}
	if _, ok := byID[messageID]; !ok {
		return fmt.Errorf("message %s: %w", messageID, store.ErrNotFound)
	}
	for _, msg := range byID {
		msg.ActiveBranch = false
	}
	for id := messageID; id != ""; {
		msg, ok := byID[id]
		if !ok {
			break
		}
		msg.ActiveBranch = true
		id = msg.ParentMessageID
	}
	return nil
}

func (m *memStore) SaveArtifact(sessionID string, content types.ArtifactContent, phase types.Phase) (*types.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	version := 1
	for _, a := range m.artifacts[sessionID] {
		if a.ArtifactType() == content.Type() {
			a.IsCurrent = false
			if a.Version >= version {
				version = a.Version + 1
			}
		}
	}
	artifact := &types.Artifact{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Content:   content,
		Phase:     phase,
		Version:   version,
		IsCurrent: true,
		CreatedAt: time.Now().UTC(),
	}
	m.artifacts[sessionID] = append(m.artifacts[sessionID], artifact)
	return artifact, nil
}

func (m *memStore) CurrentArtifacts(sessionID string) ([]*types.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*types.Artifact
	for _, a := range m.artifacts[sessionID] {
		if a.IsCurrent {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStore) CurrentArtifactsByPhase(sessionID string, phase types.Phase) ([]*types.Artifact, error) {
	all, _ := m.CurrentArtifacts(sessionID)
	var out []*types.Artifact
	for _, a := range all {
		if a.Phase == phase {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStore) AppendTransition(t *types.PhaseTransition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.CreatedAt = time.Now().UTC()
	m.transitions[t.SessionID] = append(m.transitions[t.SessionID], t)
	return nil
}

func (m *memStore) LatestTransition(sessionID string) (*types.PhaseTransition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.transitions[sessionID]
	if len(list) == 0 {
		return nil, nil
	}
	return list[len(list)-1], nil
}

func (m *memStore) ListSelections(sessionID string) ([]*types.FrameworkSelection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selections[sessionID], nil
}

func (m *memStore) MarkSelectionApplied(sessionID, knowledgeItemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sel := range m.selections[sessionID] {
		if sel.KnowledgeItemID == knowledgeItemID {
			sel.WasApplied = true
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *memStore) GetKnowledgeItems(ids []string) ([]*types.KnowledgeItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*types.KnowledgeItem
	for _, id := range ids {
		if item, ok := m.items[id]; ok {
			out = append(out, item)
		}
	}
	return out, nil
}

// setPhase force-moves a session to a phase for test setup.
func (m *memStore) setPhase(sessionID string, phase types.Phase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionID].CurrentPhase = phase
}
