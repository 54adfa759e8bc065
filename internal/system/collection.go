package system

import (
	"time"

	"github.com/l1jgo/ghostreg/internal/collection"
	"github.com/l1jgo/ghostreg/internal/core/event"
	coresys "github.com/l1jgo/ghostreg/internal/core/system"
	"github.com/l1jgo/ghostreg/internal/template"
)

// TemplateInputSystem applies streamed template changes to the store.
// Phase 0 (Input).
type TemplateInputSystem struct {
	watcher *template.Watcher
	store   *template.Store
}

func NewTemplateInputSystem(watcher *template.Watcher, store *template.Store) *TemplateInputSystem {
	return &TemplateInputSystem{watcher: watcher, store: store}
}

func (s *TemplateInputSystem) Phase() coresys.Phase { return coresys.PhaseInput }

func (s *TemplateInputSystem) Update(_ time.Duration) {
	for {
		select {
		case c, ok := <-s.watcher.Changes():
			if !ok {
				return
			}
			s.store.Apply(c)
		default:
			return
		}
	}
}

// EventSystem delivers the events emitted during the previous tick.
// Phase 1 (PreUpdate).
type EventSystem struct {
	bus *event.Bus
}

func NewEventSystem(bus *event.Bus) *EventSystem {
	return &EventSystem{bus: bus}
}

func (s *EventSystem) Phase() coresys.Phase { return coresys.PhasePreUpdate }

func (s *EventSystem) Update(_ time.Duration) {
	s.bus.SwapBuffers()
	s.bus.DispatchAll()
}

// CollectionSystem runs one collection loop tick. Phase 2 (Update).
type CollectionSystem struct {
	loop *collection.Loop
}

func NewCollectionSystem(loop *collection.Loop) *CollectionSystem {
	return &CollectionSystem{loop: loop}
}

func (s *CollectionSystem) Phase() coresys.Phase { return coresys.PhaseUpdate }

func (s *CollectionSystem) Update(_ time.Duration) {
	s.loop.Tick()
}
