package sqlite

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/nauanbek/saqshy/internal/db"
	"github.com/nauanbek/saqshy/internal/signal"
	"github.com/nauanbek/saqshy/internal/sources"
)

func (s *sqliteClient) AddSpamSample(ctx context.Context, sample *db.SpamSample) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	// The hash dedups repeat blasts; the first recording wins.
	query := `
		INSERT INTO spam_samples (id, hash, text, vector, threat, source, chat_id, created_at)
		VALUES (:id, :hash, :text, :vector, :threat, :source, :chat_id, :created_at)
		ON CONFLICT(hash) DO NOTHING
	`
	if _, err := s.db.NamedExecContext(ctx, query, sample); err != nil {
		return fmt.Errorf("failed to add spam sample %s: %w", sample.Hash, err)
	}
	return nil
}

// ByHash is the exact-duplicate fast path of the similarity matching.
func (s *sqliteClient) ByHash(ctx context.Context, hash string) (bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var count int
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM spam_samples WHERE hash = ?`, hash)
	if err != nil {
		return false, fmt.Errorf("failed to look up sample hash: %w", err)
	}
	return count > 0, nil
}

// sampleVectorRow is the slim scan target for Search; ranking does not need
// the sample texts.
type sampleVectorRow struct {
	ID     string        `db:"id"`
	Vector db.Vector     `db:"vector"`
	Threat signal.Threat `db:"threat"`
}

// Search ranks stored samples by cosine similarity, computed in Go. The
// corpus stays in the thousands of rows, where a full vector scan is cheaper
// to run and operate than a native vector index.
func (s *sqliteClient) Search(ctx context.Context, vector []float32, minScore float64, limit int) ([]sources.Match, error) {
	if len(vector) == 0 || limit <= 0 {
		return nil, nil
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	rows, err := s.db.QueryxContext(ctx, `SELECT id, vector, threat FROM spam_samples WHERE vector IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("failed to scan sample vectors: %w", err)
	}
	defer rows.Close()

	var matches []sources.Match
	for rows.Next() {
		var row sampleVectorRow
		if err := rows.StructScan(&row); err != nil {
			return nil, fmt.Errorf("failed to scan sample vector row: %w", err)
		}
		score, ok := cosine(vector, row.Vector)
		if !ok || score < minScore {
			continue
		}
		matches = append(matches, sources.Match{SampleID: row.ID, Score: score, Threat: row.Threat})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sample vectors: %w", err)
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// cosine returns the cosine similarity of two vectors, reporting false for
// mismatched dimensions or zero magnitude.
func cosine(a []float32, b []float32) (float64, bool) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, false
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), true
}
