// Package repository 提供数据访问层
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opmed/opmed/pkg/model"
)

// SolveRun 一次求解运行的存档
type SolveRun struct {
	ID              uuid.UUID `json:"id"`
	Status          string    `json:"status"`
	Objective       *float64  `json:"objective,omitempty"`
	NumSurgeries    int       `json:"num_surgeries"`
	NumAnesthetists int       `json:"num_anesthetists"`
	NumRoomsUsed    int       `json:"num_rooms_used"`
	Utilization     float64   `json:"utilization"`
	RuntimeSeconds  float64   `json:"runtime_seconds"`
	Valid           bool      `json:"valid"`
	CreatedAt       time.Time `json:"created_at"`
}

// RunAssignment 存档中的单台手术分配
type RunAssignment struct {
	RunID       uuid.UUID `json:"run_id"`
	SurgeryID   string    `json:"surgery_id"`
	Anesthetist string    `json:"anesthetist"`
	Room        string    `json:"room"`
	StartTick   int       `json:"start_tick"`
	EndTick     int       `json:"end_tick"`
}

// RunRepositoryInterface 运行存档仓储接口
type RunRepositoryInterface interface {
	Create(ctx context.Context, run *SolveRun) error
	GetByID(ctx context.Context, id uuid.UUID) (*SolveRun, error)
	List(ctx context.Context, filter ListFilter) ([]*SolveRun, int, error)
	Delete(ctx context.Context, id uuid.UUID) error

	CreateAssignments(ctx context.Context, runID uuid.UUID, assignments []model.Assignment, surgeries []model.Surgery) error
	GetAssignments(ctx context.Context, runID uuid.UUID) ([]*RunAssignment, error)
}

// RunRepository 运行存档仓储实现
type RunRepository struct {
	db DB
}

// NewRunRepository 创建运行存档仓储
func NewRunRepository(db DB) *RunRepository {
	return &RunRepository{db: db}
}

// Create 写入运行存档
func (r *RunRepository) Create(ctx context.Context, run *SolveRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO solve_runs (
			id, status, objective, num_surgeries, num_anesthetists,
			num_rooms_used, utilization, runtime_seconds, valid, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.ExecContext(ctx, query,
		run.ID, run.Status, run.Objective, run.NumSurgeries, run.NumAnesthetists,
		run.NumRoomsUsed, run.Utilization, run.RuntimeSeconds, run.Valid, run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("写入运行存档失败: %w", err)
	}
	return nil
}

// GetByID 根据ID获取运行存档
func (r *RunRepository) GetByID(ctx context.Context, id uuid.UUID) (*SolveRun, error) {
	query := `
		SELECT id, status, objective, num_surgeries, num_anesthetists,
			num_rooms_used, utilization, runtime_seconds, valid, created_at
		FROM solve_runs WHERE id = $1
	`

	run := &SolveRun{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID, &run.Status, &run.Objective, &run.NumSurgeries, &run.NumAnesthetists,
		&run.NumRoomsUsed, &run.Utilization, &run.RuntimeSeconds, &run.Valid, &run.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询运行存档失败: %w", err)
	}
	return run, nil
}

// List 按时间倒序列出运行存档
func (r *RunRepository) List(ctx context.Context, filter ListFilter) ([]*SolveRun, int, error) {
	where := ""
	args := []interface{}{}
	if filter.Status != "" {
		where = "WHERE status = $1"
		args = append(args, filter.Status)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM solve_runs %s", where)
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("统计运行存档失败: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, status, objective, num_surgeries, num_anesthetists,
			num_rooms_used, utilization, runtime_seconds, valid, created_at
		FROM solve_runs %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)+1, len(args)+2)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("查询运行存档失败: %w", err)
	}
	defer rows.Close()

	var runs []*SolveRun
	for rows.Next() {
		run := &SolveRun{}
		if err := rows.Scan(
			&run.ID, &run.Status, &run.Objective, &run.NumSurgeries, &run.NumAnesthetists,
			&run.NumRoomsUsed, &run.Utilization, &run.RuntimeSeconds, &run.Valid, &run.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("扫描运行存档失败: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, total, rows.Err()
}

// Delete 删除运行存档（分配记录级联删除）
func (r *RunRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM solve_runs WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("删除运行存档失败: %w", err)
	}
	return nil
}

// CreateAssignments 批量写入分配记录
// 底层数据库支持事务时整批原子写入，避免半写的存档
func (r *RunRepository) CreateAssignments(ctx context.Context, runID uuid.UUID, assignments []model.Assignment, surgeries []model.Surgery) error {
	byID := make(map[string]model.Surgery, len(surgeries))
	for _, s := range surgeries {
		byID[s.ID] = s
	}

	query := `
		INSERT INTO solve_assignments (run_id, surgery_id, anesthetist, room, start_tick, end_tick)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	insert := func(exec DB) error {
		for _, a := range assignments {
			s := byID[a.SurgeryID]
			if _, err := exec.ExecContext(ctx, query,
				runID, a.SurgeryID, a.Anesthetist, a.Room, s.Start, s.End,
			); err != nil {
				return fmt.Errorf("写入分配记录失败: %w", err)
			}
		}
		return nil
	}

	if runner, ok := r.db.(TxRunner); ok {
		return runner.Transaction(ctx, func(tx *sql.Tx) error {
			return insert(tx)
		})
	}
	return insert(r.db)
}

// GetAssignments 获取一次运行的全部分配记录
func (r *RunRepository) GetAssignments(ctx context.Context, runID uuid.UUID) ([]*RunAssignment, error) {
	query := `
		SELECT run_id, surgery_id, anesthetist, room, start_tick, end_tick
		FROM solve_assignments
		WHERE run_id = $1
		ORDER BY start_tick, surgery_id
	`

	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("查询分配记录失败: %w", err)
	}
	defer rows.Close()

	var out []*RunAssignment
	for rows.Next() {
		a := &RunAssignment{}
		if err := rows.Scan(&a.RunID, &a.SurgeryID, &a.Anesthetist, &a.Room, &a.StartTick, &a.EndTick); err != nil {
			return nil, fmt.Errorf("扫描分配记录失败: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
