// Package optimizer 提供排班方案的局部搜索优化
package optimizer

import (
	"context"
	"encoding/binary"
	"hash/fnv"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/opmed/opmed/internal/config"
	"github.com/opmed/opmed/pkg/logger"
	"github.com/opmed/opmed/pkg/scheduler/problem"
)

// Config 优化配置
type Config struct {
	MaxIterations    int           `json:"max_iterations"`    // 最大迭代次数
	MaxTime          time.Duration `json:"max_time"`          // 最大运行时间
	InitialTemp      float64       `json:"initial_temp"`      // 模拟退火初始温度（刻度）
	CoolingRate      float64       `json:"cooling_rate"`      // 冷却速率
	TabuSize         int           `json:"tabu_size"`         // 禁忌表大小
	NeighborhoodSize int           `json:"neighborhood_size"` // 邻域大小
	RandomSeed       int64         `json:"random_seed"`       // 随机种子
	StopOnPlateau    bool          `json:"stop_on_plateau"`   // 平台期停止
	PlateauThreshold int           `json:"plateau_threshold"` // 平台期阈值（无改进迭代次数）
}

// DefaultConfig 默认优化配置
func DefaultConfig() *Config {
	return &Config{
		MaxIterations:    2000,
		MaxTime:          2 * time.Second,
		InitialTemp:      12.0,
		CoolingRate:      0.99,
		TabuSize:         50,
		NeighborhoodSize: 20,
		StopOnPlateau:    true,
		PlateauThreshold: 200,
	}
}

// Solution 一个完整分配方案
// 手术按问题中的开始刻度顺序编号，资源以下标表示
type Solution struct {
	Anesthetist []int
	Room        []int
	CostTicks   float64
	Feasible    bool
}

// Clone 深拷贝方案
func (s *Solution) Clone() *Solution {
	clone := &Solution{
		Anesthetist: make([]int, len(s.Anesthetist)),
		Room:        make([]int, len(s.Room)),
		CostTicks:   s.CostTicks,
		Feasible:    s.Feasible,
	}
	copy(clone.Anesthetist, s.Anesthetist)
	copy(clone.Room, s.Room)
	return clone
}

// Evaluate 评估方案的可行性与成本（刻度）
// 手术已按开始刻度排序，同资源冲突只需检查相邻两次占用
func Evaluate(prob *problem.Problem, sol *Solution) (float64, bool) {
	cfg := prob.Cfg
	n := len(prob.Surgeries)

	aFirst := make(map[int]int, n)
	aLast := make(map[int]int, n)
	aRoom := make(map[int]int, n)
	rLast := make(map[int]int, n)

	for i := 0; i < n; i++ {
		s := prob.Surgeries[i]
		if cfg.EnforceDurationLimit && s.Duration() > cfg.DurationMaxTicks {
			return 0, false
		}

		r := sol.Room[i]
		if pin := prob.RoomPin[i]; pin >= 0 && r != pin {
			return 0, false
		}
		if last, used := rLast[r]; used && last > s.Start {
			return 0, false // 同室区间重叠
		}

		a := sol.Anesthetist[i]
		if last, used := aLast[a]; used {
			if last > s.Start {
				return 0, false // 同麻醉师区间重叠
			}
			if s.End-aFirst[a] > cfg.ShiftMaxTicks {
				return 0, false // 班次跨度超限
			}
			gap := s.Start - last
			switchRoom := r != aRoom[a]
			if (switchRoom || cfg.BufferSameRoom) && gap < cfg.BufferTicks {
				return 0, false // 换室缓冲不足
			}
		} else {
			aFirst[a] = s.Start
		}
		aLast[a] = s.End
		aRoom[a] = r
		rLast[r] = s.End
	}

	penalty := cfg.ActivationPenaltyHours * float64(cfg.TicksPerHour)
	cost := penalty * float64(len(aLast)+len(rLast))
	for a, first := range aFirst {
		span := aLast[a] - first
		if span < cfg.ShiftMinTicks {
			return 0, false // 班次跨度不足下限
		}
		cost += shiftCost(cfg, span)
	}
	return cost, true
}

// shiftCost 单个麻醉师的班次成本（刻度）
func shiftCost(cfg *config.ScheduleConfig, span int) float64 {
	base := span
	if base < cfg.ShiftMinTicks {
		base = cfg.ShiftMinTicks
	}
	overtime := span - cfg.ShiftOvertimeTicks
	if overtime < 0 {
		overtime = 0
	}
	return float64(base) + (cfg.OvertimeMultiplier-1)*float64(overtime)
}

// LocalSearch 带禁忌表与模拟退火接受准则的局部搜索优化器
type LocalSearch struct {
	config    *Config
	neighbors *NeighborhoodGenerator
	tabuList  *TabuList
	rng       *rand.Rand
}

// NewLocalSearch 创建局部搜索优化器
func NewLocalSearch(config *Config) *LocalSearch {
	if config == nil {
		config = DefaultConfig()
	}
	rng := rand.New(rand.NewSource(config.RandomSeed))
	return &LocalSearch{
		config:    config,
		neighbors: NewNeighborhoodGenerator(rng),
		tabuList:  NewTabuList(config.TabuSize),
		rng:       rng,
	}
}

// Optimize 从初始可行解出发寻找更低成本的方案
// 返回找到的最优方案，至少不劣于初始解
func (o *LocalSearch) Optimize(ctx context.Context, prob *problem.Problem, initial *Solution) *Solution {
	start := time.Now()

	current := initial.Clone()
	best := current.Clone()

	temperature := o.config.InitialTemp
	noImprovementCount := 0

	logger.Debug().
		Int("max_iterations", o.config.MaxIterations).
		Dur("max_time", o.config.MaxTime).
		Float64("initial_cost", current.CostTicks).
		Msg("开始局部搜索优化")

	for i := 0; i < o.config.MaxIterations; i++ {
		select {
		case <-ctx.Done():
			return best
		default:
		}

		if time.Since(start) > o.config.MaxTime {
			break
		}

		// 生成并评估邻域解
		bestNeighbor := o.bestNeighbor(prob, current)
		if bestNeighbor == nil {
			continue
		}

		inTabu := o.tabuList.Contains(hashSolution(bestNeighbor))

		// 模拟退火接受准则：更优解总是接受，较差解以概率接受
		accept := false
		if bestNeighbor.CostTicks < current.CostTicks {
			accept = true
		} else if !inTabu {
			delta := bestNeighbor.CostTicks - current.CostTicks
			if o.rng.Float64() < boltzmannProbability(delta, temperature) {
				accept = true
			}
		}

		if accept {
			current = bestNeighbor
			o.tabuList.Add(hashSolution(current))

			if current.CostTicks < best.CostTicks {
				best = current.Clone()
				noImprovementCount = 0
			} else {
				noImprovementCount++
			}
		} else {
			noImprovementCount++
		}

		if o.config.StopOnPlateau && noImprovementCount >= o.config.PlateauThreshold {
			break
		}

		temperature *= o.config.CoolingRate
	}

	logger.Debug().
		Float64("initial_cost", initial.CostTicks).
		Float64("final_cost", best.CostTicks).
		Dur("elapsed", time.Since(start)).
		Msg("局部搜索优化完成")

	return best
}

// bestNeighbor 生成一批邻域解并返回其中成本最低的可行解
func (o *LocalSearch) bestNeighbor(prob *problem.Problem, current *Solution) *Solution {
	var best *Solution
	for i := 0; i < o.config.NeighborhoodSize; i++ {
		neighbor := o.neighbors.GenerateNeighbor(prob, current)
		if neighbor == nil {
			continue
		}
		cost, feasible := Evaluate(prob, neighbor)
		if !feasible {
			continue
		}
		neighbor.CostTicks = cost
		neighbor.Feasible = true
		if best == nil || cost < best.CostTicks {
			best = neighbor
		}
	}
	return best
}

// hashSolution 计算方案的哈希（FNV-1a）
func hashSolution(sol *Solution) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for i := range sol.Anesthetist {
		binary.LittleEndian.PutUint64(buf[:], uint64(sol.Anesthetist[i]))
		h.Write(buf[:])
		binary.LittleEndian.PutUint64(buf[:], uint64(sol.Room[i]))
		h.Write(buf[:])
	}
	return h.Sum64()
}

// boltzmannProbability 计算模拟退火的接受概率
// delta: 成本差 (new - old)
// temperature: 当前温度
func boltzmannProbability(delta, temperature float64) float64 {
	if delta <= 0 {
		return 1.0
	}
	if temperature <= 0 {
		return 0.0
	}
	return math.Exp(-delta / temperature)
}

// TabuList 禁忌表（使用uint64哈希作为键提高性能）
type TabuList struct {
	items   map[uint64]struct{}
	order   []uint64
	maxSize int
	mu      sync.RWMutex
}

// NewTabuList 创建禁忌表
func NewTabuList(size int) *TabuList {
	return &TabuList{
		items:   make(map[uint64]struct{}),
		order:   make([]uint64, 0, size),
		maxSize: size,
	}
}

// Add 添加到禁忌表
func (t *TabuList) Add(key uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.items[key]; exists {
		return
	}

	// 超出容量时移除最旧的
	if len(t.order) >= t.maxSize {
		oldest := t.order[0]
		t.order = t.order[1:]
		delete(t.items, oldest)
	}

	t.items[key] = struct{}{}
	t.order = append(t.order, key)
}

// Contains 检查是否在禁忌表中
func (t *TabuList) Contains(key uint64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, exists := t.items[key]
	return exists
}

// Clear 清空禁忌表
func (t *TabuList) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items = make(map[uint64]struct{})
	t.order = t.order[:0]
}
