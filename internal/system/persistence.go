package system

import (
	"context"
	"time"

	coresys "github.com/l1jgo/ghostreg/internal/core/system"
	"github.com/l1jgo/ghostreg/internal/persist"
)

// JournalSystem flushes the schema journal every interval ticks.
// Phase 5 (Persist).
type JournalSystem struct {
	journal   *persist.Journal
	tickCount int
	interval  int
	timeout   time.Duration
}

func NewJournalSystem(journal *persist.Journal, intervalTicks int) *JournalSystem {
	if intervalTicks < 1 {
		intervalTicks = 1
	}
	return &JournalSystem{journal: journal, interval: intervalTicks, timeout: 2 * time.Second}
}

func (s *JournalSystem) Phase() coresys.Phase { return coresys.PhasePersist }

func (s *JournalSystem) Update(_ time.Duration) {
	s.tickCount++
	if s.tickCount < s.interval {
		return
	}
	s.tickCount = 0
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	// Failures are logged by the journal and retried next interval.
	_ = s.journal.Flush(ctx)
}
