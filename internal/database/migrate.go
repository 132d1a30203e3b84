package database

import (
	"context"
	"fmt"

	"github.com/opmed/opmed/pkg/logger"
)

// 运行存档表结构
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS solve_runs (
		id UUID PRIMARY KEY,
		status TEXT NOT NULL,
		objective DOUBLE PRECISION,
		num_surgeries INTEGER NOT NULL,
		num_anesthetists INTEGER NOT NULL,
		num_rooms_used INTEGER NOT NULL,
		utilization DOUBLE PRECISION NOT NULL,
		runtime_seconds DOUBLE PRECISION NOT NULL,
		valid BOOLEAN NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS solve_assignments (
		run_id UUID NOT NULL REFERENCES solve_runs(id) ON DELETE CASCADE,
		surgery_id TEXT NOT NULL,
		anesthetist TEXT NOT NULL,
		room TEXT NOT NULL,
		start_tick INTEGER NOT NULL,
		end_tick INTEGER NOT NULL,
		PRIMARY KEY (run_id, surgery_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_solve_assignments_run ON solve_assignments(run_id)`,
}

// Migrate 初始化运行存档表
func (db *DB) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("迁移第 %d 步失败: %w", i+1, err)
		}
	}
	logger.Info().Int("steps", len(migrations)).Msg("数据库迁移完成")
	return nil
}
