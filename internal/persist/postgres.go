package persist

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// PostgresBackend writes the journal through a pgx pool.
type PostgresBackend struct {
	db *DB
}

func NewPostgresBackend(db *DB) *PostgresBackend {
	return &PostgresBackend{db: db}
}

func (b *PostgresBackend) StartSession(ctx context.Context, s SessionRow) error {
	_, err := b.db.Pool.Exec(ctx,
		`INSERT INTO ghost_sessions (id, node, role, started_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO NOTHING`,
		s.ID.String(), s.Node, s.Role, s.StartedAt.UnixMilli(),
	)
	return err
}

func (b *PostgresBackend) WriteSchemas(ctx context.Context, rows []SchemaRow) error {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(
			`INSERT INTO ghost_schemas (session_id, slot, ghost_type, name, type_hash, recorded_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (session_id, slot) DO UPDATE SET type_hash = EXCLUDED.type_hash`,
			r.Session.String(), r.Slot, r.Type.String(), r.Name, hashText(r.TypeHash), r.At.UnixMilli(),
		)
	}
	return b.sendBatch(ctx, batch)
}

func (b *PostgresBackend) WriteFaults(ctx context.Context, rows []FaultRow) error {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(
			`INSERT INTO ghost_faults (session_id, slot, ghost_type, name, expected, got, reason, recorded_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			r.Session.String(), r.Slot, r.Type.String(), r.Name,
			hashText(r.Expected), hashText(r.Got), r.Reason, r.At.UnixMilli(),
		)
	}
	return b.sendBatch(ctx, batch)
}

// sendBatch runs a batch in one transaction.
func (b *PostgresBackend) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	tx, err := b.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (b *PostgresBackend) LoadSchemas(ctx context.Context, session uuid.UUID) ([]SchemaRow, error) {
	rows, err := b.db.Pool.Query(ctx,
		`SELECT slot, ghost_type, name, type_hash, recorded_at
		 FROM ghost_schemas WHERE session_id = $1 ORDER BY slot`, session.String())
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

func (b *PostgresBackend) Close() error {
	b.db.Close()
	return nil
}
