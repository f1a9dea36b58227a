// Package store persists decision-sprint state in SQLite: sessions,
// messages, artifacts, phase transitions, framework selections, and the
// knowledge corpus with its embeddings. Vector search uses the
// sqlite-vec extension when available and falls back to a cosine scan
// over stored embeddings otherwise.
package store

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"sprintpilot/internal/logging"
)

// LocalStore is the SQLite-backed persistent store.
type LocalStore struct {
	db         *sql.DB
	mu         sync.RWMutex
	dbPath     string
	vectorExt  bool // sqlite-vec available
	requireVec bool // fail fast when sqlite-vec is missing
	dimensions int
}

// Options tunes store construction.
type Options struct {
	// RequireVec makes NewLocalStore fail when sqlite-vec is unavailable
	// instead of degrading to the cosine fallback scan.
	RequireVec bool

	// Dimensions is the embedding dimensionality (default 768).
	Dimensions int
}

// NewLocalStore initializes the SQLite database at the given path.
func NewLocalStore(path string, opts Options) (*LocalStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewLocalStore")
	defer timer.Stop()

	logging.Store("Initializing LocalStore at path: %s", path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		logging.StoreDebug("Failed to enable foreign keys: %v", err)
	}

	dimensions := opts.Dimensions
	if dimensions <= 0 {
		dimensions = 768
	}

	store := &LocalStore{
		db:         db,
		dbPath:     path,
		requireVec: opts.RequireVec,
		dimensions: dimensions,
	}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	store.detectVecExtension()
	if store.requireVec && !store.vectorExt {
		db.Close()
		return nil, fmt.Errorf("sqlite-vec extension not available (built without sqlite_vec tag?)")
	}
	if store.vectorExt {
		if err := store.initVecTable(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize vec table: %w", err)
		}
	}

	logging.Store("LocalStore ready (vector_ext=%v, dimensions=%d)", store.vectorExt, dimensions)
	return store, nil
}

// initialize creates the required tables.
func (s *LocalStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		current_phase INTEGER NOT NULL,
		phase_states TEXT NOT NULL DEFAULT '{}',
		config TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id),
		parent_message_id TEXT,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		phase INTEGER NOT NULL,
		active_branch INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_messages_parent ON messages(parent_message_id);

	CREATE TABLE IF NOT EXISTS artifacts (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id),
		artifact_type TEXT NOT NULL,
		content TEXT NOT NULL,
		phase INTEGER NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		is_current INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_artifacts_session ON artifacts(session_id, artifact_type);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_artifacts_current
		ON artifacts(session_id, artifact_type) WHERE is_current = 1;

	CREATE TABLE IF NOT EXISTS phase_transitions (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id),
		from_phase INTEGER,
		to_phase INTEGER NOT NULL,
		validation TEXT NOT NULL DEFAULT '{}',
		reason TEXT,
		triggered_by TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_transitions_session ON phase_transitions(session_id, created_at);

	CREATE TABLE IF NOT EXISTS framework_selections (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id),
		knowledge_item_id TEXT NOT NULL,
		overall_score REAL NOT NULL,
		breakdown TEXT NOT NULL DEFAULT '{}',
		rank INTEGER NOT NULL,
		selection_reason TEXT,
		was_applied INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(session_id, rank)
	);
	CREATE INDEX IF NOT EXISTS idx_selections_session ON framework_selections(session_id, rank);

	CREATE TABLE IF NOT EXISTS knowledge_items (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		definition TEXT,
		mechanism TEXT,
		modern_example TEXT,
		payoff TEXT,
		key_takeaway TEXT,
		analogy TEXT,
		is_super_model INTEGER NOT NULL DEFAULT 0,
		main_category TEXT,
		content_type TEXT,
		target_personas TEXT NOT NULL DEFAULT '[]',
		startup_phases TEXT NOT NULL DEFAULT '[]',
		problem_categories TEXT NOT NULL DEFAULT '[]',
		embedding BLOB,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_knowledge_category ON knowledge_items(main_category);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// detectVecExtension probes for the sqlite-vec extension.
func (s *LocalStore) detectVecExtension() {
	var version string
	err := s.db.QueryRow("SELECT vec_version()").Scan(&version)
	if err != nil {
		logging.StoreDebug("sqlite-vec not available: %v", err)
		s.vectorExt = false
		return
	}
	logging.Store("sqlite-vec extension detected: %s", version)
	s.vectorExt = true
}

// initVecTable creates the vec0 virtual table for embeddings.
func (s *LocalStore) initVecTable() error {
	ddl := fmt.Sprintf(`
	CREATE VIRTUAL TABLE IF NOT EXISTS vec_knowledge USING vec0(
		item_id TEXT,
		embedding float[%d] distance_metric=cosine
	)`, s.dimensions)
	_, err := s.db.Exec(ddl)
	return err
}

// VectorSearchAvailable reports whether sqlite-vec is in use.
func (s *LocalStore) VectorSearchAvailable() bool {
	return s.vectorExt
}

// Close closes the underlying database.
func (s *LocalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// =============================================================================
// VECTOR ENCODING
// =============================================================================

// encodeVector serializes a float32 vector to the little-endian blob
// layout sqlite-vec expects.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeVector deserializes a vector blob.
func decodeVector(data []byte) []float32 {
	v := make([]float32, len(data)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return v
}
