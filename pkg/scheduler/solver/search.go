package solver

import (
	"context"
	"math/rand"

	"github.com/opmed/opmed/internal/config"
	"github.com/opmed/opmed/pkg/model"
	"github.com/opmed/opmed/pkg/scheduler/problem"
)

// 目标值比较容差
const costEpsilon = 1e-9

// 每隔多少节点检查一次超时
const deadlineCheckInterval = 2048

// resourcePair 一台手术的 (麻醉师, 手术室) 下标
type resourcePair struct {
	anesthetist int
	room        int
}

// incumbent 当前最优解
type incumbent struct {
	costTicks float64
	assign    []resourcePair
}

// betterThan 比较两个解：目标值优先，相等时取规范编码字典序较小者
func (in *incumbent) betterThan(other *incumbent) bool {
	if in.costTicks < other.costTicks-costEpsilon {
		return true
	}
	if in.costTicks > other.costTicks+costEpsilon {
		return false
	}
	for i := range in.assign {
		if in.assign[i].anesthetist != other.assign[i].anesthetist {
			return in.assign[i].anesthetist < other.assign[i].anesthetist
		}
		if in.assign[i].room != other.assign[i].room {
			return in.assign[i].room < other.assign[i].room
		}
	}
	return false
}

// searchOutcome 单个工作协程的搜索结果
type searchOutcome struct {
	best      *incumbent
	completed bool // 搜索空间是否穷尽
	explored  int64
}

// status 按状态自动机映射搜索结果
func (o *searchOutcome) status() model.Status {
	switch {
	case o.completed && o.best != nil:
		return model.StatusOptimal
	case o.completed:
		return model.StatusInfeasible
	case o.best != nil:
		return model.StatusFeasible
	default:
		return model.StatusUnknown
	}
}

// searchEngine 深度优先分支定界搜索
// 手术按开始刻度顺序逐台分配；由于顺序固定且同资源区间互不重叠，
// 每个资源只需维护最近一次分配的结束刻度即可做 O(1) 冲突判定
type searchEngine struct {
	prob *problem.Problem
	cfg  *config.ScheduleConfig
	rng  *rand.Rand

	aFirst []int // 每个麻醉师首台手术开始刻度
	aLast  []int // 每个麻醉师末台手术结束刻度
	aRoom  []int // 每个麻醉师末台手术所在手术室
	rLast  []int // 每个手术室末台手术结束刻度
	rUsed  []bool

	usedA    int // 已启用麻醉师数量（对称性破除：新麻醉师只能取下一个下标）
	usedAnon int // 已启用匿名手术室数量

	assign       []resourcePair
	cost         float64 // 当前部分解的成本（刻度），单调不减，可作下界
	penaltyTicks float64

	best     *incumbent
	explored int64
	aborted  bool
}

// newSearchEngine 创建搜索引擎，seed 只影响分支次序，不影响穷尽后的结论
func newSearchEngine(prob *problem.Problem, seed int64) *searchEngine {
	n := len(prob.Surgeries)
	e := &searchEngine{
		prob:         prob,
		cfg:          prob.Cfg,
		rng:          rand.New(rand.NewSource(seed)),
		aFirst:       make([]int, n),
		aLast:        make([]int, n),
		aRoom:        make([]int, n),
		rLast:        make([]int, len(prob.Rooms)),
		rUsed:        make([]bool, len(prob.Rooms)),
		assign:       make([]resourcePair, n),
		penaltyTicks: prob.Cfg.ActivationPenaltyHours * float64(prob.Cfg.TicksPerHour),
	}
	return e
}

// run 执行完整搜索
func (e *searchEngine) run(ctx context.Context) *searchOutcome {
	if e.cfg.EnforceDurationLimit {
		for _, s := range e.prob.Surgeries {
			if s.Duration() > e.cfg.DurationMaxTicks {
				// 单台手术超出时长上限，无需搜索即可判定不可行
				return &searchOutcome{completed: true}
			}
		}
	}

	completed := e.search(ctx, 0)
	return &searchOutcome{best: e.best, completed: completed, explored: e.explored}
}

// shiftCost 单个麻醉师的班次成本（刻度）
// cost = max(shift_min, span) + (overtime_multiplier - 1) * max(0, span - shift_overtime)
func (e *searchEngine) shiftCost(span int) float64 {
	base := span
	if base < e.cfg.ShiftMinTicks {
		base = e.cfg.ShiftMinTicks
	}
	overtime := span - e.cfg.ShiftOvertimeTicks
	if overtime < 0 {
		overtime = 0
	}
	return float64(base) + (e.cfg.OvertimeMultiplier-1)*float64(overtime)
}

// search 递归分配第 i 台手术，返回该子树是否被穷尽
func (e *searchEngine) search(ctx context.Context, i int) bool {
	if i == len(e.prob.Surgeries) {
		e.recordLeaf()
		return true
	}

	e.explored++
	if e.explored%deadlineCheckInterval == 0 && ctx.Err() != nil {
		e.aborted = true
		return false
	}

	// 成本单调不减，当前成本严格高于最优解即可剪枝
	// 相等时仍需展开，以便在目标值并列的解中取规范编码最小者
	if e.best != nil && e.cost > e.best.costTicks+costEpsilon {
		return true
	}

	cands := e.candidates(i)
	e.rng.Shuffle(len(cands), func(x, y int) {
		cands[x], cands[y] = cands[y], cands[x]
	})

	completed := true
	for _, c := range cands {
		undo := e.apply(i, c)
		if !e.search(ctx, i+1) {
			completed = false
		}
		e.revert(c, undo)
		if e.aborted {
			return false
		}
	}
	return completed
}

// candidates 枚举第 i 台手术的可行 (麻醉师, 手术室) 组合
func (e *searchEngine) candidates(i int) []resourcePair {
	s := e.prob.Surgeries[i]

	var rooms []int
	if pin := e.prob.RoomPin[i]; pin >= 0 {
		rooms = []int{pin}
	} else {
		for r := 0; r < e.prob.HintedRooms; r++ {
			rooms = append(rooms, r)
		}
		// 匿名手术室彼此等价，只允许启用下一个下标
		limit := e.prob.HintedRooms + e.usedAnon
		for r := e.prob.HintedRooms; r <= limit && r < len(e.prob.Rooms); r++ {
			rooms = append(rooms, r)
		}
	}

	var feasibleRooms []int
	for _, r := range rooms {
		if e.rUsed[r] && e.rLast[r] > s.Start {
			continue // 同室区间重叠
		}
		feasibleRooms = append(feasibleRooms, r)
	}

	var cands []resourcePair
	for a := 0; a <= e.usedA && a < len(e.prob.Anesthetists); a++ {
		fresh := a == e.usedA
		if fresh {
			if s.Duration() > e.cfg.ShiftMaxTicks {
				continue
			}
		} else {
			if e.aLast[a] > s.Start {
				continue // 同麻醉师区间重叠
			}
			if s.End-e.aFirst[a] > e.cfg.ShiftMaxTicks {
				continue // 班次跨度超限
			}
		}
		for _, r := range feasibleRooms {
			if !fresh {
				gap := s.Start - e.aLast[a]
				switchRoom := r != e.aRoom[a]
				if (switchRoom || e.cfg.BufferSameRoom) && gap < e.cfg.BufferTicks {
					continue // 换室缓冲不足
				}
			}
			cands = append(cands, resourcePair{anesthetist: a, room: r})
		}
	}
	return cands
}

// undoRec 回溯所需的状态快照
type undoRec struct {
	freshA    bool
	prevALast int
	prevARoom int
	freshR    bool
	prevRLast int
	prevCost  float64
}

// apply 施加一次分配并增量更新成本
func (e *searchEngine) apply(i int, c resourcePair) undoRec {
	s := e.prob.Surgeries[i]
	u := undoRec{prevCost: e.cost}

	a := c.anesthetist
	if a == e.usedA {
		u.freshA = true
		e.usedA++
		e.aFirst[a] = s.Start
		e.aLast[a] = s.End
		e.aRoom[a] = c.room
		e.cost += e.penaltyTicks + e.shiftCost(s.Duration())
	} else {
		u.prevALast = e.aLast[a]
		u.prevARoom = e.aRoom[a]
		oldSpan := e.aLast[a] - e.aFirst[a]
		e.aLast[a] = s.End
		e.aRoom[a] = c.room
		e.cost += e.shiftCost(s.End-e.aFirst[a]) - e.shiftCost(oldSpan)
	}

	r := c.room
	u.prevRLast = e.rLast[r]
	if !e.rUsed[r] {
		u.freshR = true
		e.rUsed[r] = true
		e.cost += e.penaltyTicks
		if r >= e.prob.HintedRooms {
			e.usedAnon++
		}
	}
	e.rLast[r] = s.End

	e.assign[i] = c
	return u
}

// revert 撤销一次分配
func (e *searchEngine) revert(c resourcePair, u undoRec) {
	a := c.anesthetist
	if u.freshA {
		e.usedA--
	} else {
		e.aLast[a] = u.prevALast
		e.aRoom[a] = u.prevARoom
	}

	r := c.room
	if u.freshR {
		e.rUsed[r] = false
		e.rLast[r] = 0
		if r >= e.prob.HintedRooms {
			e.usedAnon--
		}
	} else {
		// rLast 由下一次占用覆盖，回溯到上一占用的结束刻度
		e.rLast[r] = u.prevRLast
	}

	e.cost = u.prevCost
}

// recordLeaf 在完整分配处检查班次下限并更新最优解
func (e *searchEngine) recordLeaf() {
	for a := 0; a < e.usedA; a++ {
		if e.aLast[a]-e.aFirst[a] < e.cfg.ShiftMinTicks {
			return // 班次跨度不足下限，叶子不可行
		}
	}

	cand := &incumbent{
		costTicks: e.cost,
		assign:    make([]resourcePair, len(e.assign)),
	}
	copy(cand.assign, e.assign)

	if e.best == nil || cand.betterThan(e.best) {
		e.best = cand
	}
}
