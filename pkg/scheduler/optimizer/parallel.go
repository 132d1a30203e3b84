// Package optimizer 提供排班方案的局部搜索优化
package optimizer

import (
	"context"
	"sync"

	"github.com/opmed/opmed/pkg/scheduler/problem"
)

// Portfolio 以不同随机种子并行运行多个局部搜索实例
// 各实例独立探索，结果按 (成本, 编码字典序) 取最小，保证合并结果确定
type Portfolio struct {
	config  *Config
	workers int
}

// NewPortfolio 创建并行优化器组合
func NewPortfolio(config *Config, workers int) *Portfolio {
	if config == nil {
		config = DefaultConfig()
	}
	if workers <= 0 {
		workers = 4
	}
	return &Portfolio{config: config, workers: workers}
}

// Optimize 并行优化并合并结果，返回解不劣于初始解
func (p *Portfolio) Optimize(ctx context.Context, prob *problem.Problem, initial *Solution) *Solution {
	results := make([]*Solution, p.workers)

	var wg sync.WaitGroup
	for w := 0; w < p.workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			cfg := *p.config
			cfg.RandomSeed = p.config.RandomSeed + int64(worker)
			results[worker] = NewLocalSearch(&cfg).Optimize(ctx, prob, initial)
		}(w)
	}
	wg.Wait()

	best := initial
	for _, r := range results {
		if r == nil {
			continue
		}
		if r.CostTicks < best.CostTicks || (r.CostTicks == best.CostTicks && lexLess(r, best)) {
			best = r
		}
	}
	return best
}

// lexLess 比较两个方案的编码字典序
func lexLess(a, b *Solution) bool {
	for i := range a.Anesthetist {
		if a.Anesthetist[i] != b.Anesthetist[i] {
			return a.Anesthetist[i] < b.Anesthetist[i]
		}
		if a.Room[i] != b.Room[i] {
			return a.Room[i] < b.Room[i]
		}
	}
	return false
}
