package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/opmed/opmed/internal/config"
	"github.com/opmed/opmed/pkg/model"
	"github.com/opmed/opmed/pkg/validator"
)

func testHandler(t *testing.T) *ScheduleHandler {
	t.Helper()
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	cfg.Schedule.ShiftMinTicks = 0
	cfg.Schedule.BufferTicks = 0
	return NewScheduleHandler(cfg, nil)
}

func post(t *testing.T, h http.HandlerFunc, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("序列化请求失败: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	h(recorder, req)
	return recorder
}

func TestSolve_MethodNotAllowed(t *testing.T) {
	h := testHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/schedule/solve", nil)
	recorder := httptest.NewRecorder()

	h.Solve(recorder, req)

	if recorder.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", recorder.Code)
	}
}

func TestSolve_InvalidJSON(t *testing.T) {
	h := testHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/schedule/solve", strings.NewReader("{not json"))
	recorder := httptest.NewRecorder()

	h.Solve(recorder, req)

	if recorder.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", recorder.Code)
	}
}

func TestSolve_EmptySurgeries(t *testing.T) {
	h := testHandler(t)
	recorder := post(t, h.Solve, "/api/v1/schedule/solve", SolveRequest{})

	if recorder.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", recorder.Code)
	}
}

func TestSolve_Success(t *testing.T) {
	h := testHandler(t)
	recorder := post(t, h.Solve, "/api/v1/schedule/solve", SolveRequest{
		Surgeries: []SurgeryInput{
			{ID: "s1", Start: 0, End: 24},
			{ID: "s2", Start: 24, End: 48},
		},
		Options: &SolveOptions{TimeoutSeconds: 10, NumWorkers: 2},
	})

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	var resp SolveResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if resp.Status != model.StatusOptimal {
		t.Errorf("expected OPTIMAL, got %s", resp.Status)
	}
	if resp.Objective == nil {
		t.Error("期望目标值非空")
	}
	if resp.Metrics == nil || resp.Metrics.NumSurgeries != 2 {
		t.Errorf("指标缺失或错误: %+v", resp.Metrics)
	}
	if resp.Report == nil || !resp.Report.Valid {
		t.Errorf("期望通过校验的报告: %+v", resp.Report)
	}
}

func TestSolve_ConfigOverride(t *testing.T) {
	h := testHandler(t)
	roomsMax := 0
	recorder := post(t, h.Solve, "/api/v1/schedule/solve", SolveRequest{
		Surgeries: []SurgeryInput{{ID: "s1", Start: 0, End: 24}},
		Config:    &ScheduleConfigInput{RoomsMax: &roomsMax},
	})

	// rooms_max 为 0 且手术非空时建模失败
	if recorder.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d: %s", recorder.Code, recorder.Body.String())
	}
}

func TestValidate_Success(t *testing.T) {
	h := testHandler(t)
	recorder := post(t, h.Validate, "/api/v1/schedule/validate", ValidateRequest{
		Surgeries: []SurgeryInput{
			{ID: "s1", Start: 0, End: 24},
		},
		Assignments: []model.Assignment{
			{SurgeryID: "s1", Anesthetist: "a1", Room: "r1"},
		},
	})

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	var report validator.ValidationReport
	if err := json.Unmarshal(recorder.Body.Bytes(), &report); err != nil {
		t.Fatalf("解析响应失败: %v", err)
	}
	if !report.Valid {
		t.Errorf("期望通过，错误: %+v", report.Errors)
	}
}

func TestValidate_StructuralError(t *testing.T) {
	h := testHandler(t)
	recorder := post(t, h.Validate, "/api/v1/schedule/validate", ValidateRequest{
		Surgeries: []SurgeryInput{{ID: "s1", Start: 0, End: 24}},
		Assignments: []model.Assignment{
			{SurgeryID: "ghost", Anesthetist: "a1", Room: "r1"},
		},
	})

	// 引用不存在的手术属结构性错误
	if recorder.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d: %s", recorder.Code, recorder.Body.String())
	}
}

func TestListRuns_WithoutDatabase(t *testing.T) {
	h := testHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/schedule/runs", nil)
	recorder := httptest.NewRecorder()

	h.ListRuns(recorder, req)

	if recorder.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", recorder.Code)
	}
}
