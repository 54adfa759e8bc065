package persist

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/l1jgo/ghostreg/internal/ghost"
	_ "modernc.org/sqlite"
)

// SQLiteBackend writes the journal to an embedded sqlite database.
type SQLiteBackend struct {
	db *sql.DB
}

// OpenSQLite opens dsn with the modernc driver and applies migrations.
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; sqlite serializes writes anyway.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := migrate(ctx, db, "sqlite3"); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteBackend{db: db}, nil
}

func (b *SQLiteBackend) StartSession(ctx context.Context, s SessionRow) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO ghost_sessions (id, node, role, started_at) VALUES (?, ?, ?, ?)`,
		s.ID.String(), s.Node, s.Role, s.StartedAt.UnixMilli(),
	)
	return err
}

func (b *SQLiteBackend) WriteSchemas(ctx context.Context, rows []SchemaRow) error {
	return b.inTx(ctx, func(tx *sql.Tx) error {
		for _, r := range rows {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO ghost_schemas (session_id, slot, ghost_type, name, type_hash, recorded_at)
				 VALUES (?, ?, ?, ?, ?, ?)
				 ON CONFLICT (session_id, slot) DO UPDATE SET type_hash = excluded.type_hash`,
				r.Session.String(), r.Slot, r.Type.String(), r.Name, hashText(r.TypeHash), r.At.UnixMilli(),
			); err != nil {
				return fmt.Errorf("insert schema %s: %w", r.Name, err)
			}
		}
		return nil
	})
}

func (b *SQLiteBackend) WriteFaults(ctx context.Context, rows []FaultRow) error {
	return b.inTx(ctx, func(tx *sql.Tx) error {
		for _, r := range rows {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO ghost_faults (session_id, slot, ghost_type, name, expected, got, reason, recorded_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				r.Session.String(), r.Slot, r.Type.String(), r.Name,
				hashText(r.Expected), hashText(r.Got), r.Reason, r.At.UnixMilli(),
			); err != nil {
				return fmt.Errorf("insert fault %s: %w", r.Name, err)
			}
		}
		return nil
	})
}

func (b *SQLiteBackend) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (b *SQLiteBackend) LoadSchemas(ctx context.Context, session uuid.UUID) ([]SchemaRow, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT slot, ghost_type, name, type_hash, recorded_at
		 FROM ghost_schemas WHERE session_id = ? ORDER BY slot`, session.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SchemaRow
	for rows.Next() {
		var sc schemaScan
		if err := rows.Scan(&sc.slot, &sc.ghostType, &sc.name, &sc.hash, &sc.at); err != nil {
			return nil, err
		}
		r, err := sc.row(session)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountFaults returns the number of recorded faults of a session.
func (b *SQLiteBackend) CountFaults(ctx context.Context, session uuid.UUID) (int, error) {
	var n int
	err := b.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ghost_faults WHERE session_id = ?`, session.String()).Scan(&n)
	return n, err
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

// schemaScan holds the raw columns of a ghost_schemas row.
type schemaScan struct {
	slot      int
	ghostType string
	name      string
	hash      string
	at        int64
}

func (sc schemaScan) row(session uuid.UUID) (SchemaRow, error) {
	t, err := ghost.ParseType(sc.ghostType)
	if err != nil {
		return SchemaRow{}, fmt.Errorf("slot %d: %w", sc.slot, err)
	}
	h, err := strconv.ParseUint(sc.hash, 0, 64)
	if err != nil {
		return SchemaRow{}, fmt.Errorf("slot %d hash: %w", sc.slot, err)
	}
	return SchemaRow{
		Session:  session,
		Slot:     sc.slot,
		Type:     t,
		Name:     sc.name,
		TypeHash: h,
		At:       time.UnixMilli(sc.at),
	}, nil
}
