package model

import (
	"math"
	"time"

	"github.com/opmed/opmed/pkg/errors"
)

// TimeConverter 墙钟时间与整数刻度之间的双向换算
// 舍入规则固定为四舍五入（远离零方向），跨平台一致
type TimeConverter struct {
	dayStart time.Time
	deltaT   time.Duration // 单个刻度的时长
}

// NewTimeConverter 创建时间换算器，deltaT 必须为正
func NewTimeConverter(dayStart time.Time, deltaT time.Duration) (*TimeConverter, error) {
	if deltaT <= 0 {
		return nil, errors.ConversionError("delta_t 必须为正")
	}
	return &TimeConverter{dayStart: dayStart, deltaT: deltaT}, nil
}

// ToTick 时间戳换算为刻度: round((t - dayStart) / deltaT)
func (c *TimeConverter) ToTick(t time.Time) int {
	ratio := float64(t.Sub(c.dayStart)) / float64(c.deltaT)
	return int(math.Round(ratio))
}

// ToTimestamp 刻度换算为时间戳，与 ToTick 互逆（精度为一个刻度）
func (c *TimeConverter) ToTimestamp(tick int) time.Time {
	return c.dayStart.Add(time.Duration(tick) * c.deltaT)
}

// TicksToHours 刻度换算为小时
func (c *TimeConverter) TicksToHours(ticks int) float64 {
	return float64(ticks) * c.deltaT.Hours()
}

// HoursToTicks 小时换算为刻度（四舍五入）
func (c *TimeConverter) HoursToTicks(hours float64) int {
	return int(math.Round(hours / c.deltaT.Hours()))
}

// TicksPerHour 每小时的刻度数（四舍五入为整数）
func (c *TimeConverter) TicksPerHour() int {
	return int(math.Round(1 / c.deltaT.Hours()))
}
