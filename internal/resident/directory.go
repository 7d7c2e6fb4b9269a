// Package resident adapts the externally-owned resident store. The registry
// never creates or mutates residents; it only checks that a code exists.
package resident

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

// Directory answers whether a resident code is known.
type Directory interface {
	Exists(ctx context.Context, code string) (bool, error)
}

// PostgresDirectory reads the residents table maintained by the surrounding
// application.
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) Exists(ctx context.Context, code string) (bool, error) {
	var one int
	err := d.db.QueryRowContext(ctx,
		`SELECT 1 FROM residents WHERE code = $1`, code).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("resident lookup: %w", err)
	}
	return true, nil
}

// MemoryDirectory backs tests.
type MemoryDirectory struct {
	mu    sync.RWMutex
	codes map[string]bool
}

func NewMemory(codes ...string) *MemoryDirectory {
	d := &MemoryDirectory{codes: make(map[string]bool)}
	for _, c := range codes {
		d.codes[c] = true
	}
	return d
}

func (d *MemoryDirectory) Add(code string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.codes[code] = true
}

func (d *MemoryDirectory) Exists(_ context.Context, code string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.codes[code], nil
}
