// Package solver 提供排程求解器
package solver

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opmed/opmed/internal/config"
	"github.com/opmed/opmed/pkg/logger"
	"github.com/opmed/opmed/pkg/model"
	"github.com/opmed/opmed/pkg/scheduler/optimizer"
	"github.com/opmed/opmed/pkg/scheduler/problem"
)

// Solver 求解器接口
type Solver interface {
	// Solve 求解约束分配问题
	Solve(ctx context.Context, prob *problem.Problem) (*model.SolveResult, error)

	// Name 返回求解器名称
	Name() string
}

// BranchBoundSolver 分支定界求解器
// 多个工作协程以不同随机种子并行搜索完整空间，结果按目标值与
// 字典序规范编码合并，搜索完成时的结果与工作协程数量无关
type BranchBoundSolver struct {
	cfg    config.SolverConfig
	logger *logger.SolverLogger
}

// NewBranchBoundSolver 创建分支定界求解器
func NewBranchBoundSolver(cfg config.SolverConfig) *BranchBoundSolver {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 4
	}
	if cfg.MaxTime <= 0 {
		cfg.MaxTime = 60 * time.Second
	}
	return &BranchBoundSolver{
		cfg:    cfg,
		logger: logger.NewSolverLogger(),
	}
}

// Name 返回求解器名称
func (s *BranchBoundSolver) Name() string {
	return "BranchBoundSolver"
}

// Solve 求解约束分配问题
// 可行性结论通过 SolveResult.Status 返回；INFEASIBLE/UNKNOWN 不是错误
// 搜索穷尽时（OPTIMAL/INFEASIBLE）结果与协程数、实际运行时长无关；
// 超时返回的 FEASIBLE 解取决于截止时刻落点，相同种子下也可能不同
func (s *BranchBoundSolver) Solve(ctx context.Context, prob *problem.Problem) (*model.SolveResult, error) {
	startTime := time.Now()
	runID := uuid.New().String()

	s.logger.StartSolve(runID, len(prob.Surgeries), len(prob.Rooms), s.cfg.NumWorkers)

	if len(prob.Surgeries) == 0 {
		zero := 0.0
		result := &model.SolveResult{
			Status:      model.StatusOptimal,
			Objective:   &zero,
			Assignments: []model.Assignment{},
			Duration:    time.Since(startTime),
			Workers:     s.cfg.NumWorkers,
		}
		s.logger.SolveComplete(runID, string(result.Status), result.Duration, zero)
		return result, nil
	}

	solveCtx, cancel := context.WithTimeout(ctx, s.cfg.MaxTime)
	defer cancel()

	outcomes := make([]*searchOutcome, s.cfg.NumWorkers)
	var wg sync.WaitGroup
	for w := 0; w < s.cfg.NumWorkers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			eng := newSearchEngine(prob, s.cfg.RandomSeed+int64(worker))
			outcomes[worker] = eng.run(solveCtx)
		}(w)
	}
	wg.Wait()

	merged := mergeOutcomes(outcomes)

	// 搜索未穷尽但已有可行解时，用局部搜索在小额外预算内继续改进
	if merged.best != nil && !merged.completed {
		if polished := s.polish(ctx, prob, merged.best); polished != nil {
			merged.best = polished
		}
	}

	result := &model.SolveResult{
		Status:      merged.status(),
		Assignments: []model.Assignment{},
		Duration:    time.Since(startTime),
		Explored:    merged.explored,
		Workers:     s.cfg.NumWorkers,
	}

	if merged.best != nil {
		hours := merged.best.costTicks / float64(prob.Cfg.TicksPerHour)
		result.Objective = &hours
		result.Assignments = renderAssignments(prob, merged.best.assign)
	}

	objective := 0.0
	if result.Objective != nil {
		objective = *result.Objective
	}
	s.logger.SolveComplete(runID, string(result.Status), result.Duration, objective)

	return result, nil
}

// polish 用并行局部搜索改进超时前的最好可行解
// 仅在找到严格更低成本的方案时返回非 nil
func (s *BranchBoundSolver) polish(ctx context.Context, prob *problem.Problem, best *incumbent) *incumbent {
	budget := s.cfg.MaxTime / 10
	if budget < 500*time.Millisecond {
		budget = 500 * time.Millisecond
	}
	if budget > 5*time.Second {
		budget = 5 * time.Second
	}

	optCfg := optimizer.DefaultConfig()
	optCfg.MaxTime = budget
	optCfg.RandomSeed = s.cfg.RandomSeed

	initial := &optimizer.Solution{
		Anesthetist: make([]int, len(best.assign)),
		Room:        make([]int, len(best.assign)),
		CostTicks:   best.costTicks,
		Feasible:    true,
	}
	for i, p := range best.assign {
		initial.Anesthetist[i] = p.anesthetist
		initial.Room[i] = p.room
	}

	improved := optimizer.NewPortfolio(optCfg, s.cfg.NumWorkers).Optimize(ctx, prob, initial)
	if improved == nil || improved.CostTicks >= best.costTicks-costEpsilon {
		return nil
	}

	cand := &incumbent{
		costTicks: improved.CostTicks,
		assign:    make([]resourcePair, len(best.assign)),
	}
	for i := range cand.assign {
		cand.assign[i] = resourcePair{
			anesthetist: improved.Anesthetist[i],
			room:        improved.Room[i],
		}
	}
	return cand
}

// mergeOutcomes 合并各工作协程的搜索结果
// 只要有一个协程搜索完毕即可采信其完备性结论；解按 (目标值, 规范编码) 取最小
func mergeOutcomes(outcomes []*searchOutcome) *searchOutcome {
	merged := &searchOutcome{}
	for _, o := range outcomes {
		if o == nil {
			continue
		}
		merged.explored += o.explored
		if o.completed {
			merged.completed = true
		}
		if o.best != nil && (merged.best == nil || o.best.betterThan(merged.best)) {
			merged.best = o.best
		}
	}
	return merged
}

// renderAssignments 将内部下标还原为资源 ID
func renderAssignments(prob *problem.Problem, assign []resourcePair) []model.Assignment {
	out := make([]model.Assignment, len(assign))
	for i, p := range assign {
		out[i] = model.Assignment{
			SurgeryID:   prob.Surgeries[i].ID,
			Anesthetist: prob.Anesthetists[p.anesthetist],
			Room:        prob.Rooms[p.room],
		}
	}
	return out
}
