// Package stats 提供排程结果的指标统计
package stats

import (
	"fmt"
	"math"
	"sort"

	"github.com/opmed/opmed/internal/config"
	"github.com/opmed/opmed/pkg/errors"
	"github.com/opmed/opmed/pkg/model"
)

// MetricsCollector 从求解结果推导汇总指标
type MetricsCollector struct {
	cfg *config.ScheduleConfig
}

// NewMetricsCollector 创建指标收集器
func NewMetricsCollector(cfg *config.ScheduleConfig) *MetricsCollector {
	return &MetricsCollector{cfg: cfg}
}

// Collect 计算一次求解的汇总指标
// 任一指标为 NaN 或无穷时返回 DataError，这类值意味着上游建模缺陷而非用户输入问题
func (c *MetricsCollector) Collect(result *model.SolveResult, surgeries []model.Surgery) (*model.Metrics, error) {
	if result == nil {
		return nil, errors.DataError("缺少求解结果")
	}

	m := &model.Metrics{
		Status:         result.Status,
		NumSurgeries:   len(surgeries),
		RuntimeSeconds: result.Duration.Seconds(),
	}

	if result.Status.HasSolution() {
		m.NumAnesthetists = result.UsedAnesthetists()
		m.NumRoomsUsed = result.UsedRooms()
		if result.Objective != nil {
			m.TotalCost = *result.Objective
		}
		m.Utilization = c.utilization(result, surgeries)
	}

	if err := checkFinite(m); err != nil {
		return nil, err
	}
	return m, nil
}

// utilization 手术总时长与麻醉师班次成本总量之比
func (c *MetricsCollector) utilization(result *model.SolveResult, surgeries []model.Surgery) float64 {
	byID := make(map[string]model.Surgery, len(surgeries))
	for _, s := range surgeries {
		byID[s.ID] = s
	}

	var totalSurgery float64
	spans := make(map[string][2]int) // 麻醉师 -> (首台开始, 末台结束)
	for _, a := range result.Assignments {
		s, ok := byID[a.SurgeryID]
		if !ok {
			continue
		}
		totalSurgery += float64(s.Duration())
		if cur, seen := spans[a.Anesthetist]; seen {
			if s.Start < cur[0] {
				cur[0] = s.Start
			}
			if s.End > cur[1] {
				cur[1] = s.End
			}
			spans[a.Anesthetist] = cur
		} else {
			spans[a.Anesthetist] = [2]int{s.Start, s.End}
		}
	}

	names := make([]string, 0, len(spans))
	for name := range spans {
		names = append(names, name)
	}
	sort.Strings(names)

	var totalCost float64
	for _, name := range names {
		span := spans[name][1] - spans[name][0]
		base := span
		if base < c.cfg.ShiftMinTicks {
			base = c.cfg.ShiftMinTicks
		}
		overtime := span - c.cfg.ShiftOvertimeTicks
		if overtime < 0 {
			overtime = 0
		}
		totalCost += float64(base) + (c.cfg.OvertimeMultiplier-1)*float64(overtime)
	}

	if totalCost == 0 {
		return 0
	}
	return totalSurgery / totalCost
}

// checkFinite 守卫所有浮点指标均为有限值
func checkFinite(m *model.Metrics) error {
	values := map[string]float64{
		"total_cost":      m.TotalCost,
		"utilization":     m.Utilization,
		"runtime_seconds": m.RuntimeSeconds,
	}
	for name, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.DataError(fmt.Sprintf("指标 %s 为非有限值 %v", name, v))
		}
	}
	return nil
}
