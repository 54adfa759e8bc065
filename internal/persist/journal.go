package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/l1jgo/ghostreg/internal/config"
	"github.com/l1jgo/ghostreg/internal/core/event"
	"github.com/l1jgo/ghostreg/internal/ghost"
	"go.uber.org/zap"
)

// SessionRow is one replication session of this node.
type SessionRow struct {
	ID        uuid.UUID
	Node      string
	Role      string
	StartedAt time.Time
}

// SchemaRow records one activated ghost type.
type SchemaRow struct {
	Session  uuid.UUID
	Slot     int
	Type     ghost.Type
	Name     string
	TypeHash uint64
	At       time.Time
}

// FaultRow records one fatal schema fault.
type FaultRow struct {
	Session  uuid.UUID
	Slot     int
	Type     ghost.Type
	Name     string
	Expected uint64
	Got      uint64
	Reason   string
	At       time.Time
}

// Backend stores journal rows.
type Backend interface {
	StartSession(ctx context.Context, s SessionRow) error
	WriteSchemas(ctx context.Context, rows []SchemaRow) error
	WriteFaults(ctx context.Context, rows []FaultRow) error
	// LoadSchemas returns the schemas recorded for a session, by slot.
	LoadSchemas(ctx context.Context, session uuid.UUID) ([]SchemaRow, error)
	Close() error
}

// Journal buffers activations and faults from the event bus and writes them
// in batches from the persist phase. Tick loop only.
type Journal struct {
	backend Backend
	node    string
	role    ghost.Role
	log     *zap.Logger
	now     func() time.Time

	session   uuid.UUID
	started   map[uuid.UUID]bool
	schemas   []SchemaRow
	faults    []FaultRow
	lastError error
}

func NewJournal(backend Backend, node string, role ghost.Role, log *zap.Logger) *Journal {
	return &Journal{
		backend: backend,
		node:    node,
		role:    role,
		log:     log,
		now:     time.Now,
		session: uuid.New(),
		started: make(map[uuid.UUID]bool),
	}
}

// Open connects the backend configured in cfg for node and applies
// migrations. It returns nil when the journal is disabled.
func Open(ctx context.Context, cfg config.JournalConfig, node string, log *zap.Logger) (Backend, error) {
	switch cfg.Driver {
	case "", "none":
		return nil, nil
	case "postgres":
		db, err := NewDB(ctx, cfg, node, log)
		if err != nil {
			return nil, err
		}
		if err := RunMigrations(ctx, db.Pool); err != nil {
			db.Close()
			return nil, err
		}
		return NewPostgresBackend(db), nil
	case "sqlite":
		b, err := OpenSQLite(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, fmt.Errorf("unknown journal driver %q", cfg.Driver)
}

// Subscribe hooks the journal to collection events.
func (j *Journal) Subscribe(bus *event.Bus) {
	event.Subscribe(bus, j.onActivated)
	event.Subscribe(bus, j.onFault)
	event.Subscribe(bus, j.onReset)
}

// Session returns the id rows are currently recorded under.
func (j *Journal) Session() uuid.UUID { return j.session }

// Pending returns the number of buffered rows.
func (j *Journal) Pending() int { return len(j.schemas) + len(j.faults) }

func (j *Journal) onActivated(e event.GhostTypeActivated) {
	j.schemas = append(j.schemas, SchemaRow{
		Session: j.session, Slot: e.Index, Type: e.Type, Name: e.Name, TypeHash: e.TypeHash, At: j.now(),
	})
}

func (j *Journal) onFault(e event.SchemaFault) {
	j.faults = append(j.faults, FaultRow{
		Session: j.session, Slot: e.Index, Type: e.Type, Name: e.Name,
		Expected: e.Expected, Got: e.Got, Reason: e.Reason, At: j.now(),
	})
}

// onReset moves to a new session id. Rows buffered for the old one keep
// their id and are written on the next flush.
func (j *Journal) onReset(event.CollectionReset) {
	j.session = uuid.New()
}

// Flush writes buffered rows. On failure the rows stay buffered and are
// retried on the next flush.
func (j *Journal) Flush(ctx context.Context) error {
	if j.Pending() == 0 {
		return nil
	}
	if err := j.flush(ctx); err != nil {
		if j.lastError == nil || j.lastError.Error() != err.Error() {
			j.log.Warn("journal flush failed", zap.Error(err), zap.Int("pending", j.Pending()))
		}
		j.lastError = err
		return err
	}
	if j.lastError != nil {
		j.log.Info("journal flush recovered")
		j.lastError = nil
	}
	return nil
}

func (j *Journal) flush(ctx context.Context) error {
	// Rows may span a reset; sessions are started in row order.
	for _, id := range j.sessionsPending() {
		if j.started[id] {
			continue
		}
		if err := j.backend.StartSession(ctx, SessionRow{ID: id, Node: j.node, Role: j.role.String(), StartedAt: j.now()}); err != nil {
			return fmt.Errorf("start session: %w", err)
		}
		j.started[id] = true
	}
	if len(j.schemas) > 0 {
		if err := j.backend.WriteSchemas(ctx, j.schemas); err != nil {
			return fmt.Errorf("write schemas: %w", err)
		}
		j.log.Debug("journal schemas written", zap.Int("rows", len(j.schemas)))
		j.schemas = j.schemas[:0]
	}
	if len(j.faults) > 0 {
		if err := j.backend.WriteFaults(ctx, j.faults); err != nil {
			return fmt.Errorf("write faults: %w", err)
		}
		j.faults = j.faults[:0]
	}
	return nil
}

func (j *Journal) sessionsPending() []uuid.UUID {
	seen := make(map[uuid.UUID]bool)
	var ids []uuid.UUID
	add := func(id uuid.UUID) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, r := range j.schemas {
		add(r.Session)
	}
	for _, r := range j.faults {
		add(r.Session)
	}
	return ids
}

// Close flushes and closes the backend.
func (j *Journal) Close(ctx context.Context) error {
	ferr := j.Flush(ctx)
	if err := j.backend.Close(); err != nil {
		return err
	}
	return ferr
}

func hashText(h uint64) string { return fmt.Sprintf("0x%016x", h) }
