// Package problem 将手术列表与排程配置构建为约束分配问题
package problem

import (
	"fmt"
	"sort"

	"github.com/opmed/opmed/internal/config"
	"github.com/opmed/opmed/pkg/errors"
	"github.com/opmed/opmed/pkg/model"
)

// Problem 求解器消费的约束问题
// 手术区间固定不动，决策变量只有资源分配；构建完成后只读
type Problem struct {
	Surgeries    []model.Surgery        // 按开始刻度升序
	Anesthetists []string               // 麻醉师池（编号即下标）
	Rooms        []string               // 手术室池（指定房间在前，匿名房间补足）
	RoomPin      []int                  // 每台手术的指定手术室下标，-1 表示不限
	HintedRooms  int                    // Rooms 中来自 room_hint 的数量
	Cfg          *config.ScheduleConfig // 共享只读配置
}

// NumSurgeries 返回手术数量
func (p *Problem) NumSurgeries() int {
	return len(p.Surgeries)
}

// Build 构建约束问题
// 入参手术列表不会被修改；返回的 Problem 持有自己的副本
func Build(surgeries []model.Surgery, cfg *config.ScheduleConfig) (*Problem, error) {
	if cfg == nil {
		return nil, errors.ModelBuildError("缺少排程配置")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(surgeries) > 0 && cfg.RoomsMax == 0 {
		return nil, errors.ModelBuildError("rooms_max 为 0 但手术列表非空，资源池无法覆盖需求")
	}

	sorted := make([]model.Surgery, len(surgeries))
	copy(sorted, surgeries)
	model.SortSurgeriesByStart(sorted)

	seen := make(map[string]bool, len(sorted))
	for _, s := range sorted {
		if err := s.Validate(); err != nil {
			return nil, errors.ModelBuildError(err.Error())
		}
		if seen[s.ID] {
			return nil, errors.ModelBuildError(fmt.Sprintf("手术 ID 重复: %s", s.ID))
		}
		seen[s.ID] = true
	}

	rooms, roomIndex, err := buildRoomPool(sorted, cfg)
	if err != nil {
		return nil, err
	}

	pins := make([]int, len(sorted))
	for i, s := range sorted {
		pins[i] = -1
		if s.RoomHint != nil {
			pins[i] = roomIndex[*s.RoomHint]
		}
	}

	anesthetists := make([]string, len(sorted))
	for i := range anesthetists {
		anesthetists[i] = fmt.Sprintf("a%d", i+1)
	}

	return &Problem{
		Surgeries:    sorted,
		Anesthetists: anesthetists,
		Rooms:        rooms,
		RoomPin:      pins,
		HintedRooms:  len(roomIndex),
		Cfg:          cfg,
	}, nil
}

// buildRoomPool 收集指定手术室并补足匿名手术室，总数不超过 rooms_max
// 指定房间按名称排序在前，保证同一输入产生同一房间编号
func buildRoomPool(surgeries []model.Surgery, cfg *config.ScheduleConfig) ([]string, map[string]int, error) {
	hintSet := make(map[string]bool)
	for _, s := range surgeries {
		if s.RoomHint != nil {
			hintSet[*s.RoomHint] = true
		}
	}
	if len(hintSet) > cfg.RoomsMax {
		return nil, nil, errors.ModelBuildError(
			fmt.Sprintf("指定手术室数量 %d 超出 rooms_max %d", len(hintSet), cfg.RoomsMax))
	}

	hints := make([]string, 0, len(hintSet))
	for h := range hintSet {
		hints = append(hints, h)
	}
	sort.Strings(hints)

	poolSize := cfg.RoomsMax
	if len(surgeries) < poolSize {
		poolSize = len(surgeries)
	}
	if poolSize < len(hints) {
		poolSize = len(hints)
	}

	rooms := make([]string, 0, poolSize)
	rooms = append(rooms, hints...)
	next := 1
	for len(rooms) < poolSize {
		name := fmt.Sprintf("r%d", next)
		next++
		if hintSet[name] {
			continue
		}
		rooms = append(rooms, name)
	}

	index := make(map[string]int, len(hints))
	for i, h := range hints {
		index[h] = i
	}
	return rooms, index, nil
}
