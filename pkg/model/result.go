package model

import "time"

// Status 求解结果状态
type Status string

const (
	StatusOptimal    Status = "OPTIMAL"    // 搜索空间穷尽，已证明最优
	StatusFeasible   Status = "FEASIBLE"   // 超时前找到可行解，未证明最优
	StatusInfeasible Status = "INFEASIBLE" // 搜索空间穷尽，不存在可行解
	StatusUnknown    Status = "UNKNOWN"    // 超时且未找到任何可行解
)

// HasSolution 判断该状态是否携带可用的分配方案
func (s Status) HasSolution() bool {
	return s == StatusOptimal || s == StatusFeasible
}

// Assignment 单台手术的资源分配
type Assignment struct {
	SurgeryID   string `json:"surgery_id" db:"surgery_id"`
	Anesthetist string `json:"anesthetist" db:"anesthetist"`
	Room        string `json:"room" db:"room"`
}

// SolveResult 求解结果
type SolveResult struct {
	Status      Status        `json:"status"`
	Objective   *float64      `json:"objective,omitempty"` // 目标值（小时），无解时为 nil
	Assignments []Assignment  `json:"assignments"`
	Duration    time.Duration `json:"duration"`
	Explored    int64         `json:"explored"` // 搜索节点数
	Workers     int           `json:"workers"`
}

// AssignmentMap 按手术 ID 建立分配索引
func (r *SolveResult) AssignmentMap() map[string]Assignment {
	m := make(map[string]Assignment, len(r.Assignments))
	for _, a := range r.Assignments {
		m[a.SurgeryID] = a
	}
	return m
}

// UsedAnesthetists 返回分配方案使用的麻醉师数量
func (r *SolveResult) UsedAnesthetists() int {
	seen := make(map[string]bool)
	for _, a := range r.Assignments {
		seen[a.Anesthetist] = true
	}
	return len(seen)
}

// UsedRooms 返回分配方案使用的手术室数量
func (r *SolveResult) UsedRooms() int {
	seen := make(map[string]bool)
	for _, a := range r.Assignments {
		seen[a.Room] = true
	}
	return len(seen)
}
