package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"sprintpilot/internal/logging"
	"sprintpilot/internal/types"
)

// UpsertKnowledgeItem stores or replaces a knowledge item and its
// embedding, keyed by name so corpus re-ingestion is idempotent.
func (s *LocalStore) UpsertKnowledgeItem(item *types.KnowledgeItem, vector []float32) error {
	timer := logging.StartTimer(logging.CategoryStore, "UpsertKnowledgeItem")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	if item.Name == "" {
		return fmt.Errorf("knowledge item requires a name")
	}

	// Keep existing id on re-ingest so selections stay valid.
	var existingID string
	err := s.db.QueryRow(`SELECT id FROM knowledge_items WHERE name = ?`, item.Name).Scan(&existingID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
	case err != nil:
		return fmt.Errorf("failed to check knowledge item: %w", err)
	default:
		item.ID = existingID
	}

	personas, _ := json.Marshal(item.TargetPersonas)
	phases, _ := json.Marshal(item.StartupPhases)
	categories, _ := json.Marshal(item.ProblemCategories)

	var blob []byte
	if len(vector) > 0 {
		blob = encodeVector(vector)
	}

	superModel := 0
	if item.IsSuperModel {
		superModel = 1
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO knowledge_items
			(id, name, definition, mechanism, modern_example, payoff, key_takeaway, analogy,
			 is_super_model, main_category, content_type, target_personas, startup_phases, problem_categories, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			definition = excluded.definition,
			mechanism = excluded.mechanism,
			modern_example = excluded.modern_example,
			payoff = excluded.payoff,
			key_takeaway = excluded.key_takeaway,
			analogy = excluded.analogy,
			is_super_model = excluded.is_super_model,
			main_category = excluded.main_category,
			content_type = excluded.content_type,
			target_personas = excluded.target_personas,
			startup_phases = excluded.startup_phases,
			problem_categories = excluded.problem_categories,
			embedding = excluded.embedding`,
		item.ID, item.Name, item.Definition, item.Mechanism, item.ModernExample,
		item.Payoff, item.KeyTakeaway, item.Analogy, superModel,
		item.MainCategory, item.ContentType,
		string(personas), string(phases), string(categories), blob)
	if err != nil {
		return fmt.Errorf("failed to upsert knowledge item: %w", err)
	}

	if s.vectorExt && len(vector) > 0 {
		if _, err := tx.Exec(`DELETE FROM vec_knowledge WHERE item_id = ?`, item.ID); err != nil {
			return fmt.Errorf("failed to clear vec entry: %w", err)
		}
		if _, err := tx.Exec(`INSERT INTO vec_knowledge (item_id, embedding) VALUES (?, ?)`,
			item.ID, blob); err != nil {
			return fmt.Errorf("failed to insert vec entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit knowledge item: %w", err)
	}

	logging.CorpusDebug("Upserted knowledge item %q (%s)", item.Name, item.ID)
	return nil
}

// GetKnowledgeItem loads a single knowledge item by id.
func (s *LocalStore) GetKnowledgeItem(id string) (*types.KnowledgeItem, error) {
	items, err := s.GetKnowledgeItems([]string{id})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("knowledge item %s: %w", id, ErrNotFound)
	}
	return items[0], nil
}

// GetKnowledgeItems loads the full records for the given ids. Missing
// ids are skipped, not an error - the caller filters candidates anyway.
func (s *LocalStore) GetKnowledgeItems(ids []string) ([]*types.KnowledgeItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT id, name, COALESCE(definition,''), COALESCE(mechanism,''), COALESCE(modern_example,''),
			COALESCE(payoff,''), COALESCE(key_takeaway,''), COALESCE(analogy,''),
			is_super_model, COALESCE(main_category,''), COALESCE(content_type,''),
			target_personas, startup_phases, problem_categories
		FROM knowledge_items WHERE id IN (%s)`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load knowledge items: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*types.KnowledgeItem)
	for rows.Next() {
		item, err := scanKnowledgeItem(rows)
		if err != nil {
			return nil, err
		}
		byID[item.ID] = item
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Preserve caller order (search ranking).
	items := make([]*types.KnowledgeItem, 0, len(byID))
	for _, id := range ids {
		if item, ok := byID[id]; ok {
			items = append(items, item)
		}
	}
	return items, nil
}

// CountKnowledgeItems returns the corpus size.
func (s *LocalStore) CountKnowledgeItems() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM knowledge_items`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count knowledge items: %w", err)
	}
	return n, nil
}

func scanKnowledgeItem(rows *sql.Rows) (*types.KnowledgeItem, error) {
	var (
		item                          types.KnowledgeItem
		superModel                    int
		personas, phases, categories  string
	)
	if err := rows.Scan(&item.ID, &item.Name, &item.Definition, &item.Mechanism,
		&item.ModernExample, &item.Payoff, &item.KeyTakeaway, &item.Analogy,
		&superModel, &item.MainCategory, &item.ContentType,
		&personas, &phases, &categories); err != nil {
		return nil, err
	}
	item.IsSuperModel = superModel == 1
	if err := json.Unmarshal([]byte(personas), &item.TargetPersonas); err != nil {
		return nil, fmt.Errorf("failed to decode target_persona: %w", err)
	}
	if err := json.Unmarshal([]byte(phases), &item.StartupPhases); err != nil {
		return nil, fmt.Errorf("failed to decode startup_phase: %w", err)
	}
	if err := json.Unmarshal([]byte(categories), &item.ProblemCategories); err != nil {
		return nil, fmt.Errorf("failed to decode problem_category: %w", err)
	}
	return &item, nil
}
