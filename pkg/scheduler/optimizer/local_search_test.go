package optimizer

import (
	"context"
	"testing"
	"time"

	"github.com/opmed/opmed/internal/config"
	"github.com/opmed/opmed/pkg/model"
	"github.com/opmed/opmed/pkg/scheduler/problem"
)

func testProblem(t *testing.T) *problem.Problem {
	t.Helper()
	cfg := config.DefaultScheduleConfig()
	cfg.ShiftMinTicks = 0
	cfg.BufferTicks = 0

	prob, err := problem.Build([]model.Surgery{
		{ID: "s1", Start: 0, End: 10},
		{ID: "s2", Start: 12, End: 20},
		{ID: "s3", Start: 24, End: 36},
	}, &cfg)
	if err != nil {
		t.Fatalf("构建问题失败: %v", err)
	}
	return prob
}

func TestEvaluate_FeasibleSolution(t *testing.T) {
	prob := testProblem(t)

	// 三台互不重叠的手术分给同一位麻醉师、同一间手术室
	sol := &Solution{Anesthetist: []int{0, 0, 0}, Room: []int{0, 0, 0}}
	cost, feasible := Evaluate(prob, sol)
	if !feasible {
		t.Fatal("期望可行")
	}

	// 班次跨度 36 + 启用惩罚 6*2
	want := 36.0 + 6.0*2
	if cost != want {
		t.Errorf("expected cost %f, got %f", want, cost)
	}
}

func TestEvaluate_DetectsOverlap(t *testing.T) {
	cfg := config.DefaultScheduleConfig()
	cfg.ShiftMinTicks = 0
	cfg.BufferTicks = 0
	prob, err := problem.Build([]model.Surgery{
		{ID: "s1", Start: 0, End: 10},
		{ID: "s2", Start: 5, End: 15},
	}, &cfg)
	if err != nil {
		t.Fatalf("构建问题失败: %v", err)
	}

	// 重叠手术共用麻醉师不可行
	if _, feasible := Evaluate(prob, &Solution{Anesthetist: []int{0, 0}, Room: []int{0, 1}}); feasible {
		t.Error("同麻醉师重叠应不可行")
	}
	// 重叠手术共用手术室不可行
	if _, feasible := Evaluate(prob, &Solution{Anesthetist: []int{0, 1}, Room: []int{0, 0}}); feasible {
		t.Error("同手术室重叠应不可行")
	}
	// 麻醉师与手术室均分开则可行
	if _, feasible := Evaluate(prob, &Solution{Anesthetist: []int{0, 1}, Room: []int{0, 1}}); !feasible {
		t.Error("资源分开应可行")
	}
}

func TestEvaluate_PinnedRoom(t *testing.T) {
	cfg := config.DefaultScheduleConfig()
	cfg.ShiftMinTicks = 0
	room := "or-1"
	prob, err := problem.Build([]model.Surgery{
		{ID: "s1", Start: 0, End: 10, RoomHint: &room},
	}, &cfg)
	if err != nil {
		t.Fatalf("构建问题失败: %v", err)
	}

	if _, feasible := Evaluate(prob, &Solution{Anesthetist: []int{0}, Room: []int{0}}); !feasible {
		t.Error("钉定手术室本身应可行")
	}
	// 钉定房间之外的分配不可行（下标 0 为钉定房间）
	if len(prob.Rooms) > 1 {
		if _, feasible := Evaluate(prob, &Solution{Anesthetist: []int{0}, Room: []int{1}}); feasible {
			t.Error("违反钉定应不可行")
		}
	}
}

func TestLocalSearch_ImprovesWastefulSolution(t *testing.T) {
	prob := testProblem(t)

	// 初始解给每台手术独立资源，明显浪费
	initial := &Solution{Anesthetist: []int{0, 1, 2}, Room: []int{0, 1, 2}}
	cost, feasible := Evaluate(prob, initial)
	if !feasible {
		t.Fatal("初始解应可行")
	}
	initial.CostTicks = cost
	initial.Feasible = true

	cfg := DefaultConfig()
	cfg.MaxTime = time.Second
	cfg.RandomSeed = 1

	improved := NewLocalSearch(cfg).Optimize(context.Background(), prob, initial)

	if improved.CostTicks > initial.CostTicks {
		t.Fatalf("优化后成本不应上升: %f -> %f", initial.CostTicks, improved.CostTicks)
	}
	gotCost, feasible := Evaluate(prob, improved)
	if !feasible {
		t.Fatal("优化结果必须可行")
	}
	if gotCost != improved.CostTicks {
		t.Errorf("记录成本 %f 与重评成本 %f 不一致", improved.CostTicks, gotCost)
	}
	// 合并到单一麻醉师与手术室后成本显著下降
	if improved.CostTicks >= cost {
		t.Errorf("期望找到更优方案，初始 %f，结果 %f", cost, improved.CostTicks)
	}
}

func TestPortfolio_NotWorseThanInitial(t *testing.T) {
	prob := testProblem(t)

	initial := &Solution{Anesthetist: []int{0, 1, 2}, Room: []int{0, 1, 2}}
	cost, feasible := Evaluate(prob, initial)
	if !feasible {
		t.Fatal("初始解应可行")
	}
	initial.CostTicks = cost
	initial.Feasible = true

	cfg := DefaultConfig()
	cfg.MaxTime = time.Second
	cfg.RandomSeed = 5

	best := NewPortfolio(cfg, 3).Optimize(context.Background(), prob, initial)
	if best.CostTicks > initial.CostTicks {
		t.Errorf("组合优化结果劣于初始解: %f -> %f", initial.CostTicks, best.CostTicks)
	}
}

func TestTabuList_Eviction(t *testing.T) {
	tabu := NewTabuList(2)
	tabu.Add(1)
	tabu.Add(2)
	tabu.Add(3) // 挤出最旧的 1

	if tabu.Contains(1) {
		t.Error("最旧条目应被移除")
	}
	if !tabu.Contains(2) || !tabu.Contains(3) {
		t.Error("新条目应保留")
	}

	tabu.Clear()
	if tabu.Contains(2) {
		t.Error("清空后不应包含任何条目")
	}
}
