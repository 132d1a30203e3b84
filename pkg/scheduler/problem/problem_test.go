package problem

import (
	"testing"

	"github.com/opmed/opmed/internal/config"
	"github.com/opmed/opmed/pkg/errors"
	"github.com/opmed/opmed/pkg/model"
)

func testConfig() config.ScheduleConfig {
	return config.DefaultScheduleConfig()
}

func TestBuild_SortsAndCopies(t *testing.T) {
	cfg := testConfig()
	surgeries := []model.Surgery{
		{ID: "s2", Start: 20, End: 30},
		{ID: "s1", Start: 0, End: 10},
	}

	prob, err := Build(surgeries, &cfg)
	if err != nil {
		t.Fatalf("构建失败: %v", err)
	}

	if prob.NumSurgeries() != 2 {
		t.Fatalf("expected 2 surgeries, got %d", prob.NumSurgeries())
	}
	if prob.Surgeries[0].ID != "s1" || prob.Surgeries[1].ID != "s2" {
		t.Errorf("手术未按开始刻度排序: %v", prob.Surgeries)
	}
	// 入参不应被修改
	if surgeries[0].ID != "s2" {
		t.Errorf("入参顺序被改变: %v", surgeries)
	}
	// 麻醉师池规模等于手术数量
	if len(prob.Anesthetists) != 2 {
		t.Errorf("expected 2 anesthetists, got %d", len(prob.Anesthetists))
	}
}

func TestBuild_RoomPool(t *testing.T) {
	cfg := testConfig()
	orB := "or-b"
	orA := "or-a"
	surgeries := []model.Surgery{
		{ID: "s1", Start: 0, End: 10, RoomHint: &orB},
		{ID: "s2", Start: 20, End: 30, RoomHint: &orA},
		{ID: "s3", Start: 40, End: 50},
	}

	prob, err := Build(surgeries, &cfg)
	if err != nil {
		t.Fatalf("构建失败: %v", err)
	}

	// 指定房间按名称排序在前，匿名房间补足到手术数量
	if prob.HintedRooms != 2 {
		t.Fatalf("expected 2 hinted rooms, got %d", prob.HintedRooms)
	}
	if len(prob.Rooms) != 3 {
		t.Fatalf("expected pool of 3 rooms, got %v", prob.Rooms)
	}
	if prob.Rooms[0] != "or-a" || prob.Rooms[1] != "or-b" {
		t.Errorf("指定房间顺序错误: %v", prob.Rooms)
	}

	// 钉定下标指向排序后的手术
	if prob.RoomPin[0] != 1 { // s1 -> or-b
		t.Errorf("s1 expected pin 1, got %d", prob.RoomPin[0])
	}
	if prob.RoomPin[1] != 0 { // s2 -> or-a
		t.Errorf("s2 expected pin 0, got %d", prob.RoomPin[1])
	}
	if prob.RoomPin[2] != -1 {
		t.Errorf("s3 expected no pin, got %d", prob.RoomPin[2])
	}
}

func TestBuild_RoomsMaxZero(t *testing.T) {
	cfg := testConfig()
	cfg.RoomsMax = 0

	_, err := Build([]model.Surgery{{ID: "s1", Start: 0, End: 10}}, &cfg)
	if !errors.Is(err, errors.CodeModelBuildFailed) {
		t.Fatalf("期望 MODEL_BUILD_FAILED，实际: %v", err)
	}

	// 空列表时 rooms_max 为 0 合法
	prob, err := Build(nil, &cfg)
	if err != nil {
		t.Fatalf("空列表构建失败: %v", err)
	}
	if prob.NumSurgeries() != 0 {
		t.Errorf("expected empty problem, got %d surgeries", prob.NumSurgeries())
	}
}

func TestBuild_TooManyHintedRooms(t *testing.T) {
	cfg := testConfig()
	cfg.RoomsMax = 1
	r1, r2 := "or-1", "or-2"

	_, err := Build([]model.Surgery{
		{ID: "s1", Start: 0, End: 10, RoomHint: &r1},
		{ID: "s2", Start: 20, End: 30, RoomHint: &r2},
	}, &cfg)
	if !errors.Is(err, errors.CodeModelBuildFailed) {
		t.Fatalf("期望 MODEL_BUILD_FAILED，实际: %v", err)
	}
}

func TestBuild_RejectsNonMonotoneCost(t *testing.T) {
	// 倍率小于 1 或负惩罚会让成本随跨度下降，剪枝不再保守，必须在入口拒绝
	cfg := testConfig()
	cfg.OvertimeMultiplier = -2.0
	_, err := Build([]model.Surgery{{ID: "s1", Start: 0, End: 10}}, &cfg)
	if !errors.Is(err, errors.CodeConfigError) {
		t.Fatalf("期望 CONFIG_ERROR，实际: %v", err)
	}

	cfg = testConfig()
	cfg.ActivationPenaltyHours = -0.5
	_, err = Build([]model.Surgery{{ID: "s1", Start: 0, End: 10}}, &cfg)
	if !errors.Is(err, errors.CodeConfigError) {
		t.Fatalf("期望 CONFIG_ERROR，实际: %v", err)
	}
}

func TestBuild_DuplicateID(t *testing.T) {
	cfg := testConfig()
	_, err := Build([]model.Surgery{
		{ID: "s1", Start: 0, End: 10},
		{ID: "s1", Start: 20, End: 30},
	}, &cfg)
	if !errors.Is(err, errors.CodeModelBuildFailed) {
		t.Fatalf("期望 MODEL_BUILD_FAILED，实际: %v", err)
	}
}

func TestBuild_InvalidSurgery(t *testing.T) {
	cfg := testConfig()
	_, err := Build([]model.Surgery{{ID: "s1", Start: 10, End: 10}}, &cfg)
	if !errors.Is(err, errors.CodeModelBuildFailed) {
		t.Fatalf("期望 MODEL_BUILD_FAILED，实际: %v", err)
	}
}

func TestBuild_HintCollidesWithAnonymousName(t *testing.T) {
	cfg := testConfig()
	r1 := "r1"
	surgeries := []model.Surgery{
		{ID: "s1", Start: 0, End: 10, RoomHint: &r1},
		{ID: "s2", Start: 20, End: 30},
	}

	prob, err := Build(surgeries, &cfg)
	if err != nil {
		t.Fatalf("构建失败: %v", err)
	}

	// 匿名房间命名跳过与指定房间重名的编号
	seen := make(map[string]bool)
	for _, room := range prob.Rooms {
		if seen[room] {
			t.Fatalf("房间名重复: %v", prob.Rooms)
		}
		seen[room] = true
	}
}
