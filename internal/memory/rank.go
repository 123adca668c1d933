package memory

import (
	"math"
	"sort"
	"time"

	"github.com/icdev-ai/dispatch/pkg/models"
)

// Score computes the recall rank of an entry at the given instant.
// Higher is better: importance contributes linearly (normalized to 0-1)
// and recency decays exponentially with the configured half-life.
func Score(e *models.MemoryEntry, now time.Time, opts Options) float64 {
	importance := float64(e.Importance) / 10.0

	halfLife := opts.RecencyHalfLife
	if halfLife <= 0 {
		halfLife = 7 * 24 * time.Hour
	}
	age := now.Sub(e.CreatedAt)
	if age < 0 {
		age = 0
	}
	recency := math.Exp2(-float64(age) / float64(halfLife))

	return opts.ImportanceWeight*importance + opts.RecencyWeight*recency
}

// rankEntries sorts entries best-first by Score, with entry ID as a
// deterministic tiebreak.
func rankEntries(entries []*models.MemoryEntry, now time.Time, opts Options) {
	sort.SliceStable(entries, func(i, j int) bool {
		si, sj := Score(entries[i], now, opts), Score(entries[j], now, opts)
		if si != sj {
			return si > sj
		}
		return entries[i].ID < entries[j].ID
	})
}
