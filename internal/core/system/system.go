package system

import "time"

// Phase defines execution ordering within a single tick.
type Phase int

const (
	PhaseInput      Phase = iota // 0: drain template and packet queues
	PhasePreUpdate               // 1: process last tick's events
	PhaseUpdate                  // 2: collection loop
	PhasePostUpdate              // 3: metrics sampling
	PhaseOutput                  // 4: ghost list announcements + flush
	PhasePersist                 // 5: journal flush
	PhaseCleanup                 // 6: drop dead sessions
)

// System is the interface every tick system implements.
type System interface {
	Phase() Phase
	Update(dt time.Duration)
}
