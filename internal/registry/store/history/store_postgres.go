package history

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"hokhau/internal/registry/models"
	txcontext "hokhau/pkg/platform/tx"
)

// PostgresStore persists change history entries. Rows are only ever
// inserted; there is no update or delete path.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Append(ctx context.Context, entry models.ChangeEntry) error {
	query := `
		INSERT INTO change_history (id, resident_code, household_id, kind, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		entry.ID, entry.ResidentCode, entry.HouseholdID, string(entry.Kind), entry.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert change history: %w", err)
	}
	return nil
}

// List returns entries matching the filter, newest first.
func (s *PostgresStore) List(ctx context.Context, filter models.HistoryFilter) ([]models.ChangeEntry, error) {
	var (
		conditions []string
		args       []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filter.ResidentCode != "" {
		conditions = append(conditions, "resident_code = "+arg(filter.ResidentCode))
	}
	if filter.HouseholdID != 0 {
		conditions = append(conditions, "household_id = "+arg(filter.HouseholdID))
	}
	if filter.From != nil {
		conditions = append(conditions, "occurred_at >= "+arg(*filter.From))
	}
	if filter.To != nil {
		conditions = append(conditions, "occurred_at <= "+arg(*filter.To))
	}

	query := `
		SELECT id, resident_code, household_id, kind, occurred_at
		FROM change_history
	`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY occurred_at DESC, id DESC"
	query += " LIMIT " + arg(filter.Limit) + " OFFSET " + arg(filter.Offset)

	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query change history: %w", err)
	}
	defer rows.Close()

	var entries []models.ChangeEntry
	for rows.Next() {
		var (
			e    models.ChangeEntry
			kind string
		)
		if err := rows.Scan(&e.ID, &e.ResidentCode, &e.HouseholdID, &kind, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan change history: %w", err)
		}
		e.Kind = models.ChangeKind(kind)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate change history: %w", err)
	}
	return entries, nil
}
