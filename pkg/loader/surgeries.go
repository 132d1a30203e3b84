// Package loader 提供手术清单的 CSV 加载
package loader

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/opmed/opmed/pkg/errors"
	"github.com/opmed/opmed/pkg/model"
)

// 必需列名
const (
	columnID    = "surgery_id"
	columnStart = "start"
	columnEnd   = "end"
	columnRoom  = "room"
)

// Issue 单行数据问题，问题行被跳过而不中断整批加载
type Issue struct {
	Row     int    `json:"row"` // 1 起，含表头
	Message string `json:"message"`
}

// Result 加载结果
type Result struct {
	Surgeries []model.Surgery
	Converter *model.TimeConverter
	Issues    []Issue
}

// LoadSurgeries 从 CSV 文件加载手术清单
// start/end 列为 RFC3339 时间戳；基准时刻取最早开始时间所在日的零点（UTC），
// 随后统一换算为刻度。文件不存在或表头缺列返回 DataError
func LoadSurgeries(path string, deltaT time.Duration) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.DataError(fmt.Sprintf("无法打开手术清单 %s", path)).WithCause(err)
	}
	defer f.Close()

	return ParseSurgeries(f, deltaT)
}

// ParseSurgeries 从数据流解析手术清单
func ParseSurgeries(r io.Reader, deltaT time.Duration) (*Result, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, errors.DataError("手术清单为空或表头不可读").WithCause(err)
	}
	cols, err := indexColumns(header)
	if err != nil {
		return nil, err
	}

	type rawRow struct {
		row      int
		id       string
		start    time.Time
		end      time.Time
		roomHint string
	}

	var rows []rawRow
	var issues []Issue
	rowNum := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		rowNum++
		if err != nil {
			issues = append(issues, Issue{Row: rowNum, Message: fmt.Sprintf("行解析失败: %v", err)})
			continue
		}

		id := strings.TrimSpace(record[cols[columnID]])
		if id == "" {
			issues = append(issues, Issue{Row: rowNum, Message: "surgery_id 为空"})
			continue
		}
		start, err := time.Parse(time.RFC3339, strings.TrimSpace(record[cols[columnStart]]))
		if err != nil {
			issues = append(issues, Issue{Row: rowNum, Message: fmt.Sprintf("start 时间戳非法: %v", err)})
			continue
		}
		end, err := time.Parse(time.RFC3339, strings.TrimSpace(record[cols[columnEnd]]))
		if err != nil {
			issues = append(issues, Issue{Row: rowNum, Message: fmt.Sprintf("end 时间戳非法: %v", err)})
			continue
		}
		if !end.After(start) {
			issues = append(issues, Issue{Row: rowNum, Message: fmt.Sprintf("手术 %s 结束时间不晚于开始时间", id)})
			continue
		}

		room := ""
		if idx, ok := cols[columnRoom]; ok && idx < len(record) {
			room = strings.TrimSpace(record[idx])
		}
		rows = append(rows, rawRow{row: rowNum, id: id, start: start, end: end, roomHint: room})
	}

	if len(rows) == 0 {
		return &Result{Surgeries: []model.Surgery{}, Issues: issues}, nil
	}

	dayStart := rows[0].start
	for _, r := range rows[1:] {
		if r.start.Before(dayStart) {
			dayStart = r.start
		}
	}
	dayStart = dayStart.UTC().Truncate(24 * time.Hour)

	conv, err := model.NewTimeConverter(dayStart, deltaT)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(rows))
	surgeries := make([]model.Surgery, 0, len(rows))
	for _, r := range rows {
		if seen[r.id] {
			issues = append(issues, Issue{Row: r.row, Message: fmt.Sprintf("surgery_id 重复: %s", r.id)})
			continue
		}
		seen[r.id] = true

		s := model.Surgery{
			ID:    r.id,
			Start: conv.ToTick(r.start),
			End:   conv.ToTick(r.end),
		}
		if s.End <= s.Start {
			issues = append(issues, Issue{Row: r.row, Message: fmt.Sprintf("手术 %s 换算后时长为零", r.id)})
			continue
		}
		if r.roomHint != "" {
			hint := r.roomHint
			s.RoomHint = &hint
		}
		surgeries = append(surgeries, s)
	}

	model.SortSurgeriesByStart(surgeries)
	return &Result{Surgeries: surgeries, Converter: conv, Issues: issues}, nil
}

// indexColumns 解析表头并定位必需列
func indexColumns(header []string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{columnID, columnStart, columnEnd} {
		if _, ok := cols[required]; !ok {
			return nil, errors.DataError(fmt.Sprintf("手术清单缺少必需列 %s", required))
		}
	}
	return cols, nil
}
