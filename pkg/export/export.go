// Package export 将求解与校验产物落盘
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/opmed/opmed/pkg/model"
	"github.com/opmed/opmed/pkg/validator"
)

// WriteSolutionCSV 导出分配方案为 CSV
// 列: surgery_id,anesthetist,room,start_tick,end_tick
func WriteSolutionCSV(path string, result *model.SolveResult, surgeries []model.Surgery) error {
	byID := make(map[string]model.Surgery, len(surgeries))
	for _, s := range surgeries {
		byID[s.ID] = s
	}

	records := [][]string{{"surgery_id", "anesthetist", "room", "start_tick", "end_tick"}}
	for _, a := range result.Assignments {
		s := byID[a.SurgeryID]
		records = append(records, []string{
			a.SurgeryID,
			a.Anesthetist,
			a.Room,
			fmt.Sprintf("%d", s.Start),
			fmt.Sprintf("%d", s.End),
		})
	}

	return writeAtomic(path, func(f *os.File) error {
		w := csv.NewWriter(f)
		if err := w.WriteAll(records); err != nil {
			return err
		}
		w.Flush()
		return w.Error()
	})
}

// WriteReportJSON 导出校验报告为 JSON
func WriteReportJSON(path string, report *validator.ValidationReport) error {
	return writeJSON(path, report)
}

// WriteMetricsJSON 导出指标为 JSON
func WriteMetricsJSON(path string, metrics *model.Metrics) error {
	return writeJSON(path, metrics)
}

// writeJSON 以缩进 JSON 落盘
func writeJSON(path string, v interface{}) error {
	return writeAtomic(path, func(f *os.File) error {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	})
}

// writeAtomic 先写临时文件再原地改名，避免读到半成品
func writeAtomic(path string, write func(*os.File) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
