package store

import (
	"fmt"
	"sort"

	"sprintpilot/internal/embedding"
	"sprintpilot/internal/logging"
	"sprintpilot/internal/types"
)

// SearchSimilar returns up to limit knowledge items whose embeddings
// are at least threshold-similar to the query vector, most similar
// first. Uses the sqlite-vec index when available; otherwise scans the
// stored embedding blobs with a cosine fallback.
func (s *LocalStore) SearchSimilar(queryVector []float32, threshold float64, limit int) ([]types.SearchHit, error) {
	timer := logging.StartTimer(logging.CategoryStore, "SearchSimilar")
	defer timer.Stop()

	if len(queryVector) == 0 {
		return nil, fmt.Errorf("empty query vector")
	}
	if limit <= 0 {
		limit = 10
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.vectorExt {
		return s.searchVec(queryVector, threshold, limit)
	}
	return s.searchFallback(queryVector, threshold, limit)
}

// searchVec queries the vec0 virtual table. With distance_metric=cosine
// the reported distance is 1 - cosine similarity.
func (s *LocalStore) searchVec(queryVector []float32, threshold float64, limit int) ([]types.SearchHit, error) {
	rows, err := s.db.Query(`
		SELECT item_id, distance FROM vec_knowledge
		WHERE embedding MATCH ? AND k = ?
		ORDER BY distance`,
		encodeVector(queryVector), limit)
	if err != nil {
		return nil, fmt.Errorf("vec search failed: %w", err)
	}
	defer rows.Close()

	var hits []types.SearchHit
	for rows.Next() {
		var id string
		var distance float64
		if err := rows.Scan(&id, &distance); err != nil {
			return nil, err
		}
		similarity := 1 - distance
		if similarity < threshold {
			continue
		}
		hits = append(hits, types.SearchHit{KnowledgeItemID: id, Similarity: similarity})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	logging.StoreDebug("vec search returned %d hits (threshold=%.2f)", len(hits), threshold)
	return hits, nil
}

// searchFallback scans every stored embedding. Fine for corpus sizes in
// the hundreds; the vec index takes over beyond that.
func (s *LocalStore) searchFallback(queryVector []float32, threshold float64, limit int) ([]types.SearchHit, error) {
	rows, err := s.db.Query(`SELECT id, embedding FROM knowledge_items WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("fallback search failed: %w", err)
	}
	defer rows.Close()

	var hits []types.SearchHit
	skipped := 0
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		similarity, err := embedding.CosineSimilarity(queryVector, decodeVector(blob))
		if err != nil {
			skipped++
			continue
		}
		if similarity < threshold {
			continue
		}
		hits = append(hits, types.SearchHit{KnowledgeItemID: id, Similarity: similarity})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if skipped > 0 {
		logging.Get(logging.CategoryStore).Warn("fallback search skipped %d items with mismatched dimensions", skipped)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Similarity > hits[j].Similarity
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}

	logging.StoreDebug("fallback search returned %d hits (threshold=%.2f)", len(hits), threshold)
	return hits, nil
}
