// Package validator 提供排程结果的独立校验
package validator

import (
	"fmt"
	"sort"

	"github.com/opmed/opmed/internal/config"
	"github.com/opmed/opmed/pkg/errors"
	"github.com/opmed/opmed/pkg/model"
)

// 校验项名称，按固定顺序执行
const (
	CheckDataIntegrity      = "DataIntegrity"
	CheckRoomOverlap        = "RoomOverlap"
	CheckAnesthetistOverlap = "AnesthetistOverlap"
	CheckBuffer             = "Buffer"
	CheckShiftLimits        = "ShiftLimits"
	CheckDurationLimit      = "DurationLimit"
	CheckUtilization        = "Utilization"
)

// 校验项执行状态
const (
	StatusPassed  = "passed"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Violation 单条违规
type Violation struct {
	CheckName          string   `json:"check_name"`
	Severity           string   `json:"severity"` // error/warning
	Message            string   `json:"message"`
	OffendingEntityIDs []string `json:"offending_entity_ids"`
}

// CheckResult 单个校验项的执行结果
type CheckResult struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	Violations int    `json:"violations"`
}

// ValidationReport 校验报告
// 同一输入反复校验产生字节一致的报告：违规按 (实体ID, 校验项, 消息) 排序
type ValidationReport struct {
	Valid    bool               `json:"valid"`
	Errors   []Violation        `json:"errors"`
	Warnings []Violation        `json:"warnings"`
	Metrics  map[string]float64 `json:"metrics"`
	Checks   []CheckResult      `json:"checks"`
}

// Validator 独立校验器
// 不信任求解器的内部记录，仅依据手术集合、分配方案与配置重新推导每条约束
type Validator struct {
	cfg *config.ScheduleConfig
}

// New 创建校验器
func New(cfg *config.ScheduleConfig) *Validator {
	return &Validator{cfg: cfg}
}

// assignedSurgery 分配方案与手术记录的连接视图
type assignedSurgery struct {
	surgery     model.Surgery
	anesthetist string
	room        string
}

// Validate 校验一份分配方案
// 业务违规写入报告，不作为 error 返回；仅结构性非法输入（引用不存在的
// 手术 ID、输入手术 ID 重复）返回错误
func (v *Validator) Validate(surgeries []model.Surgery, assignments []model.Assignment) (*ValidationReport, error) {
	byID := make(map[string]model.Surgery, len(surgeries))
	for _, s := range surgeries {
		if _, dup := byID[s.ID]; dup {
			return nil, errors.ValidationError(s.ID, "输入手术 ID 重复")
		}
		byID[s.ID] = s
	}
	for _, a := range assignments {
		if _, ok := byID[a.SurgeryID]; !ok {
			return nil, errors.ValidationError(a.SurgeryID, "分配方案引用不存在的手术")
		}
	}

	report := &ValidationReport{
		Valid:    true,
		Errors:   []Violation{},
		Warnings: []Violation{},
		Metrics:  map[string]float64{},
	}

	integrity := v.checkDataIntegrity(surgeries, assignments)
	report.record(CheckDataIntegrity, integrity)
	if len(integrity) > 0 {
		// 完整性失败为致命，后续校验全部跳过
		for _, name := range []string{
			CheckRoomOverlap, CheckAnesthetistOverlap, CheckBuffer,
			CheckShiftLimits, CheckDurationLimit, CheckUtilization,
		} {
			report.Checks = append(report.Checks, CheckResult{Name: name, Status: StatusSkipped})
		}
		report.finalize()
		return report, nil
	}

	joined := joinAssignments(byID, assignments)

	report.record(CheckRoomOverlap, v.checkRoomOverlap(joined))
	report.record(CheckAnesthetistOverlap, v.checkAnesthetistOverlap(joined))
	report.record(CheckBuffer, v.checkBuffer(joined))
	report.record(CheckShiftLimits, v.checkShiftLimits(joined))
	if v.cfg.EnforceDurationLimit {
		report.record(CheckDurationLimit, v.checkDurationLimit(joined))
	}
	report.record(CheckUtilization, v.checkUtilization(joined, report.Metrics))

	report.finalize()
	return report, nil
}

// record 将一个校验项的违规并入报告
func (r *ValidationReport) record(name string, violations []Violation) {
	status := StatusPassed
	if len(violations) > 0 {
		status = StatusFailed
	}
	r.Checks = append(r.Checks, CheckResult{Name: name, Status: status, Violations: len(violations)})
	for _, vio := range violations {
		if vio.Severity == "warning" {
			r.Warnings = append(r.Warnings, vio)
		} else {
			r.Errors = append(r.Errors, vio)
		}
	}
}

// finalize 排序违规并确定整体结论
func (r *ValidationReport) finalize() {
	sortViolations(r.Errors)
	sortViolations(r.Warnings)
	r.Valid = len(r.Errors) == 0
}

// sortViolations 按首个实体 ID、校验项、消息排序
func sortViolations(vs []Violation) {
	sort.Slice(vs, func(i, j int) bool {
		a, b := vs[i], vs[j]
		ka, kb := "", ""
		if len(a.OffendingEntityIDs) > 0 {
			ka = a.OffendingEntityIDs[0]
		}
		if len(b.OffendingEntityIDs) > 0 {
			kb = b.OffendingEntityIDs[0]
		}
		if ka != kb {
			return ka < kb
		}
		if a.CheckName != b.CheckName {
			return a.CheckName < b.CheckName
		}
		return a.Message < b.Message
	})
}

// checkDataIntegrity 每台手术恰好分配一次
func (v *Validator) checkDataIntegrity(surgeries []model.Surgery, assignments []model.Assignment) []Violation {
	counts := make(map[string]int, len(surgeries))
	for _, a := range assignments {
		counts[a.SurgeryID]++
	}

	var violations []Violation
	for _, s := range sortedByID(surgeries) {
		switch counts[s.ID] {
		case 1:
		case 0:
			violations = append(violations, Violation{
				CheckName:          CheckDataIntegrity,
				Severity:           "error",
				Message:            fmt.Sprintf("手术 %s 未被分配", s.ID),
				OffendingEntityIDs: []string{s.ID},
			})
		default:
			violations = append(violations, Violation{
				CheckName:          CheckDataIntegrity,
				Severity:           "error",
				Message:            fmt.Sprintf("手术 %s 被分配 %d 次", s.ID, counts[s.ID]),
				OffendingEntityIDs: []string{s.ID},
			})
		}
	}
	return violations
}

// checkRoomOverlap 同一手术室的区间不得相交
func (v *Validator) checkRoomOverlap(joined []assignedSurgery) []Violation {
	return v.checkResourceOverlap(joined, CheckRoomOverlap, "手术室",
		func(a assignedSurgery) string { return a.room })
}

// checkAnesthetistOverlap 同一麻醉师的区间不得相交
func (v *Validator) checkAnesthetistOverlap(joined []assignedSurgery) []Violation {
	return v.checkResourceOverlap(joined, CheckAnesthetistOverlap, "麻醉师",
		func(a assignedSurgery) string { return a.anesthetist })
}

// checkResourceOverlap 按资源分组后相邻扫描检测区间相交
// 相邻扫描保证存在冲突的资源至少报告一条违规（valid 结论不受影响），
// 一条长区间跨越多台后续手术时不逐对枚举全部冲突对
func (v *Validator) checkResourceOverlap(joined []assignedSurgery, check, label string, key func(assignedSurgery) string) []Violation {
	var violations []Violation
	for _, group := range groupSorted(joined, key) {
		for i := 0; i < len(group.items)-1; i++ {
			cur, next := group.items[i], group.items[i+1]
			if cur.surgery.Overlaps(next.surgery) {
				violations = append(violations, Violation{
					CheckName: check,
					Severity:  "error",
					Message: fmt.Sprintf("%s %s 上手术 %s 与 %s 时间重叠",
						label, group.key, cur.surgery.ID, next.surgery.ID),
					OffendingEntityIDs: []string{cur.surgery.ID, next.surgery.ID},
				})
			}
		}
	}
	return violations
}

// checkBuffer 同一麻醉师换室连台需满足缓冲间隔
func (v *Validator) checkBuffer(joined []assignedSurgery) []Violation {
	var violations []Violation
	for _, group := range groupSorted(joined, func(a assignedSurgery) string { return a.anesthetist }) {
		for i := 0; i < len(group.items)-1; i++ {
			cur, next := group.items[i], group.items[i+1]
			gap := next.surgery.Start - cur.surgery.End
			if gap < 0 {
				continue // 重叠由 AnesthetistOverlap 负责
			}
			switchRoom := cur.room != next.room
			if (switchRoom || v.cfg.BufferSameRoom) && gap < v.cfg.BufferTicks {
				violations = append(violations, Violation{
					CheckName: CheckBuffer,
					Severity:  "error",
					Message: fmt.Sprintf("麻醉师 %s 从手术 %s 到 %s 的间隔 %d 刻度小于缓冲 %d 刻度",
						group.key, cur.surgery.ID, next.surgery.ID, gap, v.cfg.BufferTicks),
					OffendingEntityIDs: []string{cur.surgery.ID, next.surgery.ID},
				})
			}
		}
	}
	return violations
}

// checkShiftLimits 每个启用麻醉师的班次跨度须落在 [shift_min, shift_max] 内
func (v *Validator) checkShiftLimits(joined []assignedSurgery) []Violation {
	var violations []Violation
	for _, group := range groupSorted(joined, func(a assignedSurgery) string { return a.anesthetist }) {
		span := shiftSpan(group.items)
		if span > v.cfg.ShiftMaxTicks {
			violations = append(violations, Violation{
				CheckName: CheckShiftLimits,
				Severity:  "error",
				Message: fmt.Sprintf("麻醉师 %s 班次跨度 %d 刻度超出上限 %d 刻度",
					group.key, span, v.cfg.ShiftMaxTicks),
				OffendingEntityIDs: []string{group.key},
			})
		} else if span < v.cfg.ShiftMinTicks {
			violations = append(violations, Violation{
				CheckName: CheckShiftLimits,
				Severity:  "error",
				Message: fmt.Sprintf("麻醉师 %s 班次跨度 %d 刻度低于下限 %d 刻度",
					group.key, span, v.cfg.ShiftMinTicks),
				OffendingEntityIDs: []string{group.key},
			})
		}
	}
	return violations
}

// checkDurationLimit 单台手术时长不得超过上限
func (v *Validator) checkDurationLimit(joined []assignedSurgery) []Violation {
	var violations []Violation
	for _, a := range joined {
		if a.surgery.Duration() > v.cfg.DurationMaxTicks {
			violations = append(violations, Violation{
				CheckName: CheckDurationLimit,
				Severity:  "error",
				Message: fmt.Sprintf("手术 %s 时长 %d 刻度超出上限 %d 刻度",
					a.surgery.ID, a.surgery.Duration(), v.cfg.DurationMaxTicks),
				OffendingEntityIDs: []string{a.surgery.ID},
			})
		}
	}
	return violations
}

// checkUtilization 利用率为软指标，不达标只产生警告
func (v *Validator) checkUtilization(joined []assignedSurgery, metrics map[string]float64) []Violation {
	utilization, totalSurgery, totalCost := v.utilization(joined)
	metrics["utilization"] = utilization
	metrics["total_surgery_hours"] = totalSurgery / float64(v.cfg.TicksPerHour)
	metrics["total_cost_hours"] = totalCost / float64(v.cfg.TicksPerHour)
	metrics["num_surgeries"] = float64(len(joined))

	if totalCost == 0 || utilization >= v.cfg.UtilizationTarget {
		return nil
	}
	return []Violation{{
		CheckName: CheckUtilization,
		Severity:  "warning",
		Message: fmt.Sprintf("利用率 %.3f 低于目标 %.3f",
			utilization, v.cfg.UtilizationTarget),
	}}
}

// utilization 手术总时长与麻醉师班次成本总量之比（刻度）
func (v *Validator) utilization(joined []assignedSurgery) (ratio, totalSurgery, totalCost float64) {
	for _, a := range joined {
		totalSurgery += float64(a.surgery.Duration())
	}
	for _, group := range groupSorted(joined, func(a assignedSurgery) string { return a.anesthetist }) {
		span := shiftSpan(group.items)
		base := span
		if base < v.cfg.ShiftMinTicks {
			base = v.cfg.ShiftMinTicks
		}
		overtime := span - v.cfg.ShiftOvertimeTicks
		if overtime < 0 {
			overtime = 0
		}
		totalCost += float64(base) + (v.cfg.OvertimeMultiplier-1)*float64(overtime)
	}
	if totalCost > 0 {
		ratio = totalSurgery / totalCost
	}
	return ratio, totalSurgery, totalCost
}

// shiftSpan 班次跨度 = 末台结束刻度 - 首台开始刻度（入参已按开始刻度排序）
func shiftSpan(items []assignedSurgery) int {
	first := items[0].surgery.Start
	last := items[0].surgery.End
	for _, a := range items[1:] {
		if a.surgery.End > last {
			last = a.surgery.End
		}
	}
	return last - first
}

// resourceGroup 单个资源名下按开始刻度排序的手术
type resourceGroup struct {
	key   string
	items []assignedSurgery
}

// groupSorted 按资源分组，组间按资源名排序，组内按开始刻度排序
func groupSorted(joined []assignedSurgery, key func(assignedSurgery) string) []resourceGroup {
	byKey := make(map[string][]assignedSurgery)
	for _, a := range joined {
		k := key(a)
		byKey[k] = append(byKey[k], a)
	}

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	groups := make([]resourceGroup, 0, len(keys))
	for _, k := range keys {
		items := byKey[k]
		sort.Slice(items, func(i, j int) bool {
			if items[i].surgery.Start != items[j].surgery.Start {
				return items[i].surgery.Start < items[j].surgery.Start
			}
			return items[i].surgery.ID < items[j].surgery.ID
		})
		groups = append(groups, resourceGroup{key: k, items: items})
	}
	return groups
}

// joinAssignments 连接分配方案与手术记录，按开始刻度排序
func joinAssignments(byID map[string]model.Surgery, assignments []model.Assignment) []assignedSurgery {
	joined := make([]assignedSurgery, 0, len(assignments))
	for _, a := range assignments {
		joined = append(joined, assignedSurgery{
			surgery:     byID[a.SurgeryID],
			anesthetist: a.Anesthetist,
			room:        a.Room,
		})
	}
	sort.Slice(joined, func(i, j int) bool {
		if joined[i].surgery.Start != joined[j].surgery.Start {
			return joined[i].surgery.Start < joined[j].surgery.Start
		}
		return joined[i].surgery.ID < joined[j].surgery.ID
	})
	return joined
}

// sortedByID 手术按 ID 排序的副本
func sortedByID(surgeries []model.Surgery) []model.Surgery {
	out := make([]model.Surgery, len(surgeries))
	copy(out, surgeries)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
