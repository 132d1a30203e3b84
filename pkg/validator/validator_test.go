package validator

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/opmed/opmed/internal/config"
	"github.com/opmed/opmed/pkg/errors"
	"github.com/opmed/opmed/pkg/model"
)

func testConfig() config.ScheduleConfig {
	cfg := config.DefaultScheduleConfig()
	cfg.ShiftMinTicks = 0
	cfg.BufferTicks = 0
	return cfg
}

func TestValidate_ValidAssignment(t *testing.T) {
	cfg := testConfig()
	surgeries := []model.Surgery{
		{ID: "s1", Start: 0, End: 24},
		{ID: "s2", Start: 24, End: 48},
	}
	assignments := []model.Assignment{
		{SurgeryID: "s1", Anesthetist: "a1", Room: "r1"},
		{SurgeryID: "s2", Anesthetist: "a1", Room: "r1"},
	}

	report, err := New(&cfg).Validate(surgeries, assignments)
	if err != nil {
		t.Fatalf("校验失败: %v", err)
	}
	if !report.Valid {
		t.Fatalf("期望通过，错误: %+v", report.Errors)
	}
	// 所有校验项均应执行且通过
	if len(report.Checks) != 7 {
		t.Errorf("expected 7 checks, got %d", len(report.Checks))
	}
	for _, c := range report.Checks {
		if c.Status != StatusPassed {
			t.Errorf("check %s: expected passed, got %s", c.Name, c.Status)
		}
	}
}

func TestValidate_ShiftSpanOverMax(t *testing.T) {
	cfg := testConfig()
	// 跨度 700 刻度远超上限 144
	surgeries := []model.Surgery{
		{ID: "s1", Start: 0, End: 100},
		{ID: "s2", Start: 600, End: 700},
	}
	assignments := []model.Assignment{
		{SurgeryID: "s1", Anesthetist: "a1", Room: "r1"},
		{SurgeryID: "s2", Anesthetist: "a1", Room: "r1"},
	}

	report, err := New(&cfg).Validate(surgeries, assignments)
	if err != nil {
		t.Fatalf("校验失败: %v", err)
	}
	if report.Valid {
		t.Fatal("期望校验失败")
	}

	found := false
	for _, v := range report.Errors {
		if v.CheckName == CheckShiftLimits {
			found = true
			// 违规实体是麻醉师而非手术
			if len(v.OffendingEntityIDs) != 1 || v.OffendingEntityIDs[0] != "a1" {
				t.Errorf("expected offending entity a1, got %v", v.OffendingEntityIDs)
			}
		}
	}
	if !found {
		t.Errorf("期望 ShiftLimits 违规，实际: %+v", report.Errors)
	}
}

func TestValidate_ShiftSpanUnderMin(t *testing.T) {
	cfg := testConfig()
	cfg.ShiftMinTicks = 60

	surgeries := []model.Surgery{{ID: "s1", Start: 0, End: 10}}
	assignments := []model.Assignment{{SurgeryID: "s1", Anesthetist: "a1", Room: "r1"}}

	report, err := New(&cfg).Validate(surgeries, assignments)
	if err != nil {
		t.Fatalf("校验失败: %v", err)
	}
	if report.Valid {
		t.Fatal("班次跨度低于下限应判定失败")
	}
	if report.Errors[0].CheckName != CheckShiftLimits {
		t.Errorf("期望 ShiftLimits，实际: %s", report.Errors[0].CheckName)
	}
}

func TestValidate_BufferViolation(t *testing.T) {
	cfg := testConfig()
	cfg.BufferTicks = 6

	surgeries := []model.Surgery{
		{ID: "s1", Start: 0, End: 10},
		{ID: "s2", Start: 13, End: 20},
	}
	// 间隔 3 刻度且换室
	assignments := []model.Assignment{
		{SurgeryID: "s1", Anesthetist: "a1", Room: "r1"},
		{SurgeryID: "s2", Anesthetist: "a1", Room: "r2"},
	}

	report, err := New(&cfg).Validate(surgeries, assignments)
	if err != nil {
		t.Fatalf("校验失败: %v", err)
	}
	if report.Valid {
		t.Fatal("换室缓冲不足应判定失败")
	}
	if report.Errors[0].CheckName != CheckBuffer {
		t.Errorf("期望 Buffer，实际: %s", report.Errors[0].CheckName)
	}

	// 同室连台默认不受缓冲约束
	assignments[1].Room = "r1"
	report, err = New(&cfg).Validate(surgeries, assignments)
	if err != nil {
		t.Fatalf("校验失败: %v", err)
	}
	if !report.Valid {
		t.Errorf("同室连台不应违反缓冲: %+v", report.Errors)
	}

	// 开启 BufferSameRoom 后同室连台同样受约束
	cfg.BufferSameRoom = true
	report, err = New(&cfg).Validate(surgeries, assignments)
	if err != nil {
		t.Fatalf("校验失败: %v", err)
	}
	if report.Valid {
		t.Error("开启 BufferSameRoom 后同室连台应违反缓冲")
	}
}

func TestValidate_RoomOverlap(t *testing.T) {
	cfg := testConfig()
	surgeries := []model.Surgery{
		{ID: "s1", Start: 0, End: 10},
		{ID: "s2", Start: 5, End: 15},
	}
	assignments := []model.Assignment{
		{SurgeryID: "s1", Anesthetist: "a1", Room: "r1"},
		{SurgeryID: "s2", Anesthetist: "a2", Room: "r1"},
	}

	report, err := New(&cfg).Validate(surgeries, assignments)
	if err != nil {
		t.Fatalf("校验失败: %v", err)
	}
	if report.Valid {
		t.Fatal("同室重叠应判定失败")
	}
	if report.Errors[0].CheckName != CheckRoomOverlap {
		t.Errorf("期望 RoomOverlap，实际: %s", report.Errors[0].CheckName)
	}
}

func TestValidate_DataIntegrityFatal(t *testing.T) {
	cfg := testConfig()
	surgeries := []model.Surgery{
		{ID: "s1", Start: 0, End: 10},
		{ID: "s2", Start: 5, End: 15},
	}
	// s2 未分配，且方案中存在同室重叠也不应被检查
	assignments := []model.Assignment{
		{SurgeryID: "s1", Anesthetist: "a1", Room: "r1"},
	}

	report, err := New(&cfg).Validate(surgeries, assignments)
	if err != nil {
		t.Fatalf("校验失败: %v", err)
	}
	if report.Valid {
		t.Fatal("缺少分配应判定失败")
	}

	// 完整性失败后其余校验全部标记为跳过
	skipped := 0
	for _, c := range report.Checks {
		if c.Status == StatusSkipped {
			skipped++
		}
	}
	if skipped != 6 {
		t.Errorf("expected 6 skipped checks, got %d", skipped)
	}
}

func TestValidate_DuplicateAssignment(t *testing.T) {
	cfg := testConfig()
	surgeries := []model.Surgery{{ID: "s1", Start: 0, End: 10}}
	assignments := []model.Assignment{
		{SurgeryID: "s1", Anesthetist: "a1", Room: "r1"},
		{SurgeryID: "s1", Anesthetist: "a2", Room: "r2"},
	}

	report, err := New(&cfg).Validate(surgeries, assignments)
	if err != nil {
		t.Fatalf("校验失败: %v", err)
	}
	if report.Valid {
		t.Fatal("重复分配应判定失败")
	}
	if report.Errors[0].CheckName != CheckDataIntegrity {
		t.Errorf("期望 DataIntegrity，实际: %s", report.Errors[0].CheckName)
	}
}

func TestValidate_UnknownSurgeryID(t *testing.T) {
	cfg := testConfig()
	surgeries := []model.Surgery{{ID: "s1", Start: 0, End: 10}}
	assignments := []model.Assignment{
		{SurgeryID: "ghost", Anesthetist: "a1", Room: "r1"},
	}

	// 结构性非法输入返回错误而非报告
	_, err := New(&cfg).Validate(surgeries, assignments)
	if !errors.Is(err, errors.CodeValidationFailed) {
		t.Fatalf("期望 VALIDATION_FAILED，实际: %v", err)
	}
}

func TestValidate_DurationLimitConditional(t *testing.T) {
	cfg := testConfig()
	cfg.ShiftMaxTicks = 500
	cfg.DurationMaxTicks = 100
	surgeries := []model.Surgery{{ID: "s1", Start: 0, End: 200}}
	assignments := []model.Assignment{{SurgeryID: "s1", Anesthetist: "a1", Room: "r1"}}

	report, err := New(&cfg).Validate(surgeries, assignments)
	if err != nil {
		t.Fatalf("校验失败: %v", err)
	}
	if report.Valid {
		t.Fatal("时长超限应判定失败")
	}

	// 关闭开关后该校验不执行
	cfg.EnforceDurationLimit = false
	report, err = New(&cfg).Validate(surgeries, assignments)
	if err != nil {
		t.Fatalf("校验失败: %v", err)
	}
	if !report.Valid {
		t.Errorf("关闭时长上限后应通过: %+v", report.Errors)
	}
	for _, c := range report.Checks {
		if c.Name == CheckDurationLimit {
			t.Error("关闭开关后不应出现 DurationLimit 校验项")
		}
	}
}

func TestValidate_UtilizationWarningOnly(t *testing.T) {
	cfg := testConfig()
	// 两台短手术拉开很长跨度，利用率必然偏低
	surgeries := []model.Surgery{
		{ID: "s1", Start: 0, End: 6},
		{ID: "s2", Start: 130, End: 140},
	}
	assignments := []model.Assignment{
		{SurgeryID: "s1", Anesthetist: "a1", Room: "r1"},
		{SurgeryID: "s2", Anesthetist: "a1", Room: "r1"},
	}

	report, err := New(&cfg).Validate(surgeries, assignments)
	if err != nil {
		t.Fatalf("校验失败: %v", err)
	}
	// 利用率只产生警告，整体结论仍为通过
	if !report.Valid {
		t.Fatalf("利用率不达标不应导致失败: %+v", report.Errors)
	}
	if len(report.Warnings) == 0 {
		t.Fatal("期望利用率警告")
	}
	if report.Warnings[0].CheckName != CheckUtilization {
		t.Errorf("期望 Utilization 警告，实际: %s", report.Warnings[0].CheckName)
	}
	if report.Metrics["utilization"] >= cfg.UtilizationTarget {
		t.Errorf("利用率指标应低于目标: %f", report.Metrics["utilization"])
	}
}

func TestValidate_ReportDeterministic(t *testing.T) {
	cfg := testConfig()
	cfg.BufferTicks = 6
	surgeries := []model.Surgery{
		{ID: "s1", Start: 0, End: 10},
		{ID: "s2", Start: 5, End: 15},
		{ID: "s3", Start: 16, End: 30},
	}
	assignments := []model.Assignment{
		{SurgeryID: "s1", Anesthetist: "a1", Room: "r1"},
		{SurgeryID: "s2", Anesthetist: "a2", Room: "r1"},
		{SurgeryID: "s3", Anesthetist: "a2", Room: "r2"},
	}

	v := New(&cfg)
	first, err := v.Validate(surgeries, assignments)
	if err != nil {
		t.Fatalf("校验失败: %v", err)
	}
	second, err := v.Validate(surgeries, assignments)
	if err != nil {
		t.Fatalf("校验失败: %v", err)
	}

	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if !bytes.Equal(a, b) {
		t.Errorf("同一输入的报告应字节一致:\n%s\n%s", a, b)
	}
}
