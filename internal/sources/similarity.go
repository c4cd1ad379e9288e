package sources

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode/utf8"

	"github.com/nauanbek/saqshy/internal/pipeline"
	"github.com/nauanbek/saqshy/internal/signal"
	"github.com/nauanbek/saqshy/internal/utils/text"
)

// SourceSimilarity names the spam-corpus similarity source.
const SourceSimilarity = "similarity"

// Similarity tiers. A match below the floor is no match at all.
const (
	similarityNearExact = 0.95
	similarityHigh      = 0.88
	similarityMedium    = 0.80
	similarityFloor     = 0.70
)

// minSampleTextLen keeps trivial messages out of the embedding path; below
// it cosine scores are noise.
const minSampleTextLen = 10

// HashMessage is the compact dedup hash of a message: sha256 over the
// normalized (lowercased, homoglyph-folded, whitespace-collapsed) text,
// truncated to 16 hex characters. The reputation source and the sample
// store share this key, so homoglyph-varied copies of one spam blast all
// hash alike.
func HashMessage(msgText string) string {
	normalized := text.NormalizeForMatch(msgText)
	if normalized == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])[:16]
}

// Match is one scored hit against the spam sample corpus.
type Match struct {
	SampleID string
	Score    float64
	Threat   signal.Threat
}

// Embedder turns message text into a dense vector.
type Embedder interface {
	Embed(ctx context.Context, msgText string) ([]float32, error)
}

// SampleSearcher is the read side of the spam sample corpus. ByHash is the
// exact-duplicate fast path; Search ranks stored samples by cosine
// similarity and never returns matches below minScore.
type SampleSearcher interface {
	ByHash(ctx context.Context, hash string) (bool, error)
	Search(ctx context.Context, vector []float32, minScore float64, limit int) ([]Match, error)
}

// Similarity matches messages against the known-spam corpus. It runs in
// stage two so the content source's measurements can veto the embedding
// round trip for messages not worth one.
type Similarity struct {
	catalog  *signal.Catalog
	embedder Embedder
	samples  SampleSearcher
}

func NewSimilarity(catalog *signal.Catalog, embedder Embedder, samples SampleSearcher) *Similarity {
	if catalog == nil {
		catalog = signal.NewCatalog()
	}
	return &Similarity{catalog: catalog, embedder: embedder, samples: samples}
}

func (s *Similarity) Collect(ctx context.Context, req pipeline.Request) (signal.Set, error) {
	msgText := strings.TrimSpace(req.Message.Text)
	if utf8.RuneCountInString(msgText) < minSampleTextLen {
		return nil, nil
	}
	if req.Prior.Has(signal.VeryShortMessage) {
		return nil, nil
	}

	kind := req.Profile.Kind

	exact, err := s.samples.ByHash(ctx, HashMessage(msgText))
	if err != nil {
		return nil, err
	}
	if exact {
		return signal.Set{s.catalog.Make(kind, signal.SpamDBSimilarity95Plus)}, nil
	}
	if s.embedder == nil {
		// No embedder configured: the exact-hash path above is all there is.
		return nil, nil
	}

	vector, err := s.embedder.Embed(ctx, msgText)
	if err != nil {
		return nil, err
	}
	matches, err := s.samples.Search(ctx, vector, similarityFloor, 1)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}

	var name string
	switch best := matches[0].Score; {
	case best >= similarityNearExact:
		name = signal.SpamDBSimilarity95Plus
	case best >= similarityHigh:
		name = signal.SpamDBSimilarity88Plus
	case best >= similarityMedium:
		name = signal.SpamDBSimilarity80Plus
	default:
		name = signal.SpamDBSimilarity70Plus
	}
	return signal.Set{s.catalog.Make(kind, name)}, nil
}
