package model

// Metrics 一次求解的汇总指标
// 小时值均由刻度换算得出，Utilization 为手术总时长与麻醉师成本总量之比
type Metrics struct {
	Status          Status  `json:"status"`
	NumSurgeries    int     `json:"num_surgeries"`
	NumAnesthetists int     `json:"num_anesthetists"`
	NumRoomsUsed    int     `json:"num_rooms_used"`
	TotalCost       float64 `json:"total_cost"`
	Utilization     float64 `json:"utilization"`
	RuntimeSeconds  float64 `json:"runtime_seconds"`
}
