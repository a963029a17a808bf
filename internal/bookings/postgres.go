package bookings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists bookings in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bookings (
			id TEXT PRIMARY KEY,
			call_id TEXT NOT NULL,
			prospect_name TEXT NOT NULL,
			date TEXT NOT NULL,
			time TEXT NOT NULL,
			notes TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_created ON bookings (created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, b Booking) (Booking, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO bookings (id, call_id, prospect_name, date, time, notes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		b.ID,
		b.CallID,
		b.ProspectName,
		b.Date,
		b.Time,
		b.Notes,
		b.CreatedAt,
	)
	if err != nil {
		return Booking{}, fmt.Errorf("save booking: %w", err)
	}
	return b, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Booking, error) {
	var b Booking
	err := s.pool.QueryRow(ctx,
		`SELECT id, call_id, prospect_name, date, time, notes, created_at
		 FROM bookings WHERE id=$1`,
		id,
	).Scan(&b.ID, &b.CallID, &b.ProspectName, &b.Date, &b.Time, &b.Notes, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Booking{}, ErrNotFound
	}
	if err != nil {
		return Booking{}, fmt.Errorf("get booking: %w", err)
	}
	return b, nil
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]Booking, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, call_id, prospect_name, date, time, notes, created_at
		 FROM bookings ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query bookings: %w", err)
	}
	defer rows.Close()

	var items []Booking
	for rows.Next() {
		var b Booking
		if err := rows.Scan(&b.ID, &b.CallID, &b.ProspectName, &b.Date, &b.Time, &b.Notes, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan booking row: %w", err)
		}
		items = append(items, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate booking rows: %w", err)
	}
	if items == nil {
		items = []Booking{}
	}
	return items, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
