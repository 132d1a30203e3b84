// Package model 定义手术排程引擎的核心数据模型
package model

import (
	"fmt"
	"sort"
)

// Surgery 手术（时间单位为刻度 tick）
// Start/End 为左闭右开区间 [Start, End)，由输入数据固定，求解器不会移动它们
type Surgery struct {
	ID       string  `json:"id" db:"surgery_id"`
	Start    int     `json:"start" db:"start_tick"`
	End      int     `json:"end" db:"end_tick"`
	RoomHint *string `json:"room_hint,omitempty" db:"room_hint"` // 指定手术室（硬约束）
}

// Duration 返回手术时长（刻度）
func (s Surgery) Duration() int {
	return s.End - s.Start
}

// Overlaps 检查两台手术的时间区间是否重叠
func (s Surgery) Overlaps(other Surgery) bool {
	return s.Start < other.End && other.Start < s.End
}

// Validate 检查手术自身字段是否合法
func (s Surgery) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("手术缺少 ID")
	}
	if s.End <= s.Start {
		return fmt.Errorf("手术 %s 区间非法: [%d, %d)", s.ID, s.Start, s.End)
	}
	if s.RoomHint != nil && *s.RoomHint == "" {
		return fmt.Errorf("手术 %s 指定手术室为空", s.ID)
	}
	return nil
}

// SortSurgeriesByStart 按开始刻度升序排序（同开始时间按 ID 次序），原地排序
func SortSurgeriesByStart(surgeries []Surgery) {
	sort.Slice(surgeries, func(i, j int) bool {
		if surgeries[i].Start != surgeries[j].Start {
			return surgeries[i].Start < surgeries[j].Start
		}
		return surgeries[i].ID < surgeries[j].ID
	})
}
