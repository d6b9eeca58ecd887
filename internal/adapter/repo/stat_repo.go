package repo

import (
	"context"
	"fmt"

	"aistudio/internal/domain"
	"aistudio/internal/infra"
	"aistudio/internal/sqlinline"
)

// StatRepositoryPG keeps usage counters in app_stats.
type StatRepositoryPG struct {
	sql infra.SQLExecutor
}

func NewStatRepository(sql infra.SQLExecutor) *StatRepositoryPG {
	return &StatRepositoryPG{sql: sql}
}

// Increment adds one to key, creating it on first use.
func (r *StatRepositoryPG) Increment(ctx context.Context, key string) error {
	if _, err := r.sql.Exec(ctx, sqlinline.QIncrementStat, key); err != nil {
		return fmt.Errorf("increment stat %s: %w", key, err)
	}
	return nil
}

// Get returns the counter value; unknown keys read as zero.
func (r *StatRepositoryPG) Get(ctx context.Context, key string) (int64, error) {
	var value int64
	if err := r.sql.QueryRow(ctx, sqlinline.QSelectStat, key).Scan(&value); err != nil {
		if infra.IsNoRows(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("get stat %s: %w", key, err)
	}
	return value, nil
}

var _ domain.CounterRepository = (*StatRepositoryPG)(nil)
