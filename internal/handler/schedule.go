// Package handler 提供HTTP请求处理器
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/opmed/opmed/internal/config"
	"github.com/opmed/opmed/internal/metrics"
	"github.com/opmed/opmed/internal/repository"
	"github.com/opmed/opmed/pkg/errors"
	"github.com/opmed/opmed/pkg/model"
	"github.com/opmed/opmed/pkg/scheduler/problem"
	"github.com/opmed/opmed/pkg/scheduler/solver"
	"github.com/opmed/opmed/pkg/stats"
	"github.com/opmed/opmed/pkg/validator"
)

// ScheduleHandler 排程处理器
type ScheduleHandler struct {
	cfg  *config.Config
	runs repository.RunRepositoryInterface // 可为 nil（未接数据库）
}

// NewScheduleHandler 创建排程处理器
func NewScheduleHandler(cfg *config.Config, runs repository.RunRepositoryInterface) *ScheduleHandler {
	return &ScheduleHandler{cfg: cfg, runs: runs}
}

// SurgeryInput 手术输入（刻度）
type SurgeryInput struct {
	ID    string `json:"id"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	Room  string `json:"room,omitempty"`
}

// ScheduleConfigInput 排程配置覆盖项，缺省字段沿用服务端配置
type ScheduleConfigInput struct {
	RoomsMax             *int     `json:"rooms_max,omitempty"`
	ShiftMinTicks        *int     `json:"shift_min_ticks,omitempty"`
	ShiftMaxTicks        *int     `json:"shift_max_ticks,omitempty"`
	ShiftOvertimeTicks   *int     `json:"shift_overtime_ticks,omitempty"`
	BufferTicks          *int     `json:"buffer_ticks,omitempty"`
	DurationMaxTicks     *int     `json:"duration_max_ticks,omitempty"`
	UtilizationTarget    *float64 `json:"utilization_target,omitempty"`
	EnforceDurationLimit *bool    `json:"enforce_duration_limit,omitempty"`
	BufferSameRoom       *bool    `json:"buffer_same_room,omitempty"`
}

// SolveOptions 求解选项
type SolveOptions struct {
	TimeoutSeconds int   `json:"timeout_seconds,omitempty"`
	NumWorkers     int   `json:"num_workers,omitempty"`
	RandomSeed     int64 `json:"random_seed,omitempty"`
}

// SolveRequest 求解请求
type SolveRequest struct {
	Surgeries []SurgeryInput       `json:"surgeries"`
	Config    *ScheduleConfigInput `json:"config,omitempty"`
	Options   *SolveOptions        `json:"options,omitempty"`
	Store     bool                 `json:"store,omitempty"`
}

// SolveResponse 求解响应
type SolveResponse struct {
	RunID       string                      `json:"run_id,omitempty"`
	Status      model.Status                `json:"status"`
	Objective   *float64                    `json:"objective,omitempty"`
	Assignments []model.Assignment          `json:"assignments"`
	Report      *validator.ValidationReport `json:"report,omitempty"`
	Metrics     *model.Metrics              `json:"metrics,omitempty"`
	Duration    string                      `json:"duration"`
}

// Solve 构建并求解排程问题，随后独立校验并统计指标
func (h *ScheduleHandler) Solve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, errors.New(errors.CodeInvalidInput, "仅支持POST方法"))
		return
	}

	var req SolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, errors.Wrap(err, errors.CodeInvalidInput, "解析请求失败"))
		return
	}
	if len(req.Surgeries) == 0 {
		respondError(w, errors.InvalidInput("surgeries", "手术列表不能为空"))
		return
	}

	schedCfg := h.mergeScheduleConfig(req.Config)
	surgeries := toSurgeries(req.Surgeries)

	prob, err := problem.Build(surgeries, &schedCfg)
	if err != nil {
		respondAppError(w, err)
		return
	}

	solverCfg := h.mergeSolverConfig(req.Options)
	done := metrics.TrackActiveSolve()
	defer done()

	solveCtx, cancel := context.WithTimeout(r.Context(), solverCfg.MaxTime+5*time.Second)
	defer cancel()

	s := solver.NewBranchBoundSolver(solverCfg)
	result, err := s.Solve(solveCtx, prob)
	if err != nil {
		respondAppError(w, errors.Wrap(err, errors.CodeSolveFailed, "求解异常终止"))
		return
	}
	metrics.RecordSolve(string(result.Status), result.Duration, result.Explored)
	if result.Objective != nil {
		metrics.SetSolveObjective(*result.Objective)
	}

	resp := SolveResponse{
		Status:      result.Status,
		Objective:   result.Objective,
		Assignments: result.Assignments,
		Duration:    result.Duration.String(),
	}

	if result.Status.HasSolution() {
		report, err := validator.New(&schedCfg).Validate(surgeries, result.Assignments)
		if err != nil {
			respondAppError(w, err)
			return
		}
		metrics.RecordValidation(report.Valid, len(report.Errors), len(report.Warnings))
		resp.Report = report
	}

	m, err := stats.NewMetricsCollector(&schedCfg).Collect(result, surgeries)
	if err != nil {
		respondAppError(w, err)
		return
	}
	resp.Metrics = m

	if req.Store && h.runs != nil {
		runID, err := h.storeRun(r.Context(), result, m, resp.Report, surgeries)
		if err != nil {
			respondAppError(w, errors.Wrap(err, errors.CodeDatabaseError, "写入运行存档失败"))
			return
		}
		resp.RunID = runID
	}

	respondJSON(w, http.StatusOK, resp)
}

// ValidateRequest 校验请求
type ValidateRequest struct {
	Surgeries   []SurgeryInput       `json:"surgeries"`
	Assignments []model.Assignment   `json:"assignments"`
	Config      *ScheduleConfigInput `json:"config,omitempty"`
}

// Validate 独立校验一份分配方案
func (h *ScheduleHandler) Validate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, errors.New(errors.CodeInvalidInput, "仅支持POST方法"))
		return
	}

	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, errors.Wrap(err, errors.CodeInvalidInput, "解析请求失败"))
		return
	}

	schedCfg := h.mergeScheduleConfig(req.Config)
	report, err := validator.New(&schedCfg).Validate(toSurgeries(req.Surgeries), req.Assignments)
	if err != nil {
		respondAppError(w, err)
		return
	}
	metrics.RecordValidation(report.Valid, len(report.Errors), len(report.Warnings))

	respondJSON(w, http.StatusOK, report)
}

// ListRuns 按时间倒序列出运行存档
func (h *ScheduleHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, errors.New(errors.CodeInvalidInput, "仅支持GET方法"))
		return
	}
	if h.runs == nil {
		respondError(w, errors.New(errors.CodeInternal, "运行存档未启用"))
		return
	}

	filter := repository.DefaultListFilter()
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err := strconv.Atoi(v); err == nil && limit > 0 {
			filter = filter.WithLimit(limit)
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if offset, err := strconv.Atoi(v); err == nil && offset >= 0 {
			filter = filter.WithOffset(offset)
		}
	}
	if v := r.URL.Query().Get("status"); v != "" {
		filter = filter.WithStatus(v)
	}

	runs, total, err := h.runs.List(r.Context(), filter)
	if err != nil {
		respondAppError(w, errors.Wrap(err, errors.CodeDatabaseError, "查询运行存档失败"))
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"total": total,
		"runs":  runs,
	})
}

// storeRun 持久化一次求解运行
func (h *ScheduleHandler) storeRun(ctx context.Context, result *model.SolveResult, m *model.Metrics, report *validator.ValidationReport, surgeries []model.Surgery) (string, error) {
	run := &repository.SolveRun{
		ID:              uuid.New(),
		Status:          string(result.Status),
		Objective:       result.Objective,
		NumSurgeries:    m.NumSurgeries,
		NumAnesthetists: m.NumAnesthetists,
		NumRoomsUsed:    m.NumRoomsUsed,
		Utilization:     m.Utilization,
		RuntimeSeconds:  m.RuntimeSeconds,
		Valid:           report != nil && report.Valid,
	}
	if err := h.runs.Create(ctx, run); err != nil {
		return "", err
	}
	if len(result.Assignments) > 0 {
		if err := h.runs.CreateAssignments(ctx, run.ID, result.Assignments, surgeries); err != nil {
			return "", err
		}
	}
	return run.ID.String(), nil
}

// mergeScheduleConfig 将请求覆盖项并入服务端配置
func (h *ScheduleHandler) mergeScheduleConfig(in *ScheduleConfigInput) config.ScheduleConfig {
	cfg := h.cfg.Schedule
	if in == nil {
		return cfg
	}
	if in.RoomsMax != nil {
		cfg.RoomsMax = *in.RoomsMax
	}
	if in.ShiftMinTicks != nil {
		cfg.ShiftMinTicks = *in.ShiftMinTicks
	}
	if in.ShiftMaxTicks != nil {
		cfg.ShiftMaxTicks = *in.ShiftMaxTicks
	}
	if in.ShiftOvertimeTicks != nil {
		cfg.ShiftOvertimeTicks = *in.ShiftOvertimeTicks
	}
	if in.BufferTicks != nil {
		cfg.BufferTicks = *in.BufferTicks
	}
	if in.DurationMaxTicks != nil {
		cfg.DurationMaxTicks = *in.DurationMaxTicks
	}
	if in.UtilizationTarget != nil {
		cfg.UtilizationTarget = *in.UtilizationTarget
	}
	if in.EnforceDurationLimit != nil {
		cfg.EnforceDurationLimit = *in.EnforceDurationLimit
	}
	if in.BufferSameRoom != nil {
		cfg.BufferSameRoom = *in.BufferSameRoom
	}
	return cfg
}

// mergeSolverConfig 将请求选项并入服务端求解器配置
func (h *ScheduleHandler) mergeSolverConfig(in *SolveOptions) config.SolverConfig {
	cfg := h.cfg.Solver
	if in == nil {
		return cfg
	}
	if in.TimeoutSeconds > 0 {
		cfg.MaxTime = time.Duration(in.TimeoutSeconds) * time.Second
	}
	if in.NumWorkers > 0 {
		cfg.NumWorkers = in.NumWorkers
	}
	if in.RandomSeed != 0 {
		cfg.RandomSeed = in.RandomSeed
	}
	return cfg
}

// toSurgeries 输入 DTO 转换为领域模型
func toSurgeries(in []SurgeryInput) []model.Surgery {
	out := make([]model.Surgery, len(in))
	for i, s := range in {
		out[i] = model.Surgery{ID: s.ID, Start: s.Start, End: s.End}
		if s.Room != "" {
			room := s.Room
			out[i].RoomHint = &room
		}
	}
	return out
}

// respondJSON 返回JSON响应
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError 返回错误响应
func respondError(w http.ResponseWriter, err *errors.AppError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.HTTPStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":   true,
		"code":    err.Code,
		"message": err.Message,
		"details": err.Details,
	})
}

// respondAppError 统一处理任意错误
func respondAppError(w http.ResponseWriter, err error) {
	if appErr, ok := err.(*errors.AppError); ok {
		respondError(w, appErr)
		return
	}
	respondError(w, errors.Wrap(err, errors.CodeInternal, "内部错误"))
}
