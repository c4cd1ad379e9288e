// Package db declares the storage contract and the row entities that do not
// belong to a domain package of their own.
package db

import (
	"database/sql/driver"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/nauanbek/saqshy/internal/decision"
	"github.com/nauanbek/saqshy/internal/signal"
)

type (
	// Vector is a dense embedding persisted as a little-endian float32 blob.
	// A nil vector stores as NULL; hash-only samples recorded while the
	// embedder was unavailable still serve the exact-duplicate path.
	Vector []float32

	// SpamSample is one confirmed spam message kept for similarity matching.
	// Hash is the normalized dedup key shared with the message hashing in
	// the pipeline, so one blast recorded from any group matches everywhere.
	SpamSample struct {
		ID        string        `db:"id"`
		Hash      string        `db:"hash"`
		Text      string        `db:"text"`
		Vector    Vector        `db:"vector"`
		Threat    signal.Threat `db:"threat"`
		Source    string        `db:"source"`
		ChatID    int64         `db:"chat_id"`
		CreatedAt time.Time     `db:"created_at"`
	}

	// DecisionRecord is a persisted decision plus its review bookkeeping.
	// Resolution stays empty while a REVIEW verdict waits on an operator.
	DecisionRecord struct {
		*decision.Decision
		Resolution string
		ResolvedAt *time.Time
	}
)

// Resolutions recorded when an operator or the timeout sweeper closes a
// REVIEW decision.
const (
	ResolutionApproved = "approved"
	ResolutionBanned   = "banned"
	ResolutionExpired  = "expired"
)

func (v Vector) Value() (driver.Value, error) {
	if len(v) == 0 {
		return nil, nil
	}
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf, nil
}

func (v *Vector) Scan(src interface{}) error {
	if src == nil {
		*v = nil
		return nil
	}
	var data []byte
	switch raw := src.(type) {
	case []byte:
		data = raw
	case string:
		data = []byte(raw)
	default:
		return fmt.Errorf("cannot scan type %T into Vector", src)
	}
	if len(data)%4 != 0 {
		return fmt.Errorf("vector blob length %d is not a multiple of 4", len(data))
	}
	out := make(Vector, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	*v = out
	return nil
}
