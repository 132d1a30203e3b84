package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeFile 写入测试输入文件
func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("写入测试文件失败: %v", err)
	}
}

// TestRun_WritesArtifacts 测试流水线命令产出全部结果文件
func TestRun_WritesArtifacts(t *testing.T) {
	dir := t.TempDir()

	csvPath := filepath.Join(dir, "surgeries.csv")
	writeFile(t, csvPath, strings.Join([]string{
		"surgery_id,start,end,room",
		"s1,2026-03-02T08:00:00Z,2026-03-02T10:00:00Z,",
		"s2,2026-03-02T10:30:00Z,2026-03-02T12:00:00Z,",
	}, "\n"))

	cfgPath := filepath.Join(dir, "schedule.yaml")
	writeFile(t, cfgPath, "shift_min: 0\nbuffer: 0\n")

	out := filepath.Join(dir, "out")
	if err := run(csvPath, cfgPath, out, 10*time.Second, 2, 1, false); err != nil {
		t.Fatalf("流水线运行失败: %v", err)
	}

	for _, name := range []string{"solution.csv", "report.json", "metrics.json"} {
		if _, err := os.Stat(filepath.Join(out, name)); err != nil {
			t.Errorf("期望产出 %s: %v", name, err)
		}
	}

	data, err := os.ReadFile(filepath.Join(out, "solution.csv"))
	if err != nil {
		t.Fatalf("读取方案失败: %v", err)
	}
	if !strings.Contains(string(data), "s1") || !strings.Contains(string(data), "s2") {
		t.Errorf("方案缺少手术记录: %s", string(data))
	}
}

// TestRun_InfeasibleSkipsSolution 不可行输入仍产出指标，但不产出方案与报告
func TestRun_InfeasibleSkipsSolution(t *testing.T) {
	dir := t.TempDir()

	csvPath := filepath.Join(dir, "surgeries.csv")
	writeFile(t, csvPath, strings.Join([]string{
		"surgery_id,start,end,room",
		"s1,2026-03-02T08:00:00Z,2026-03-02T10:00:00Z,or-1",
		"s2,2026-03-02T09:00:00Z,2026-03-02T11:00:00Z,or-1",
	}, "\n"))

	cfgPath := filepath.Join(dir, "schedule.yaml")
	writeFile(t, cfgPath, "rooms_max: 1\nshift_min: 0\nbuffer: 0\n")

	out := filepath.Join(dir, "out")
	if err := run(csvPath, cfgPath, out, 10*time.Second, 2, 0, false); err != nil {
		t.Fatalf("不可行不是错误，运行应成功: %v", err)
	}

	if _, err := os.Stat(filepath.Join(out, "metrics.json")); err != nil {
		t.Errorf("期望产出 metrics.json: %v", err)
	}
	if _, err := os.Stat(filepath.Join(out, "solution.csv")); !os.IsNotExist(err) {
		t.Errorf("不可行时不应产出 solution.csv: %v", err)
	}
}
