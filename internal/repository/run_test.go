package repository

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/uuid"
	"github.com/opmed/opmed/pkg/model"
)

// fakeDB 记录执行的语句，不访问真实数据库
type fakeDB struct {
	execs []string
}

func (f *fakeDB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	f.execs = append(f.execs, query)
	return nil, nil
}

func (f *fakeDB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return nil, nil
}

func (f *fakeDB) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return nil
}

// fakeTxDB 额外支持事务接口
type fakeTxDB struct {
	fakeDB
	txCalls int
}

func (f *fakeTxDB) Transaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	f.txCalls++
	return nil
}

// TestCreateAssignments_FallbackWithoutTx 无事务支持时逐条写入
func TestCreateAssignments_FallbackWithoutTx(t *testing.T) {
	db := &fakeDB{}
	repo := NewRunRepository(db)

	surgeries := []model.Surgery{
		{ID: "s1", Start: 0, End: 10},
		{ID: "s2", Start: 20, End: 30},
	}
	assignments := []model.Assignment{
		{SurgeryID: "s1", Anesthetist: "a1", Room: "r1"},
		{SurgeryID: "s2", Anesthetist: "a1", Room: "r1"},
	}

	if err := repo.CreateAssignments(context.Background(), uuid.New(), assignments, surgeries); err != nil {
		t.Fatalf("写入分配记录失败: %v", err)
	}
	if len(db.execs) != 2 {
		t.Errorf("期望 2 条插入语句，实际: %d", len(db.execs))
	}
}

// TestCreateAssignments_UsesTransaction 支持事务时整批在事务内写入
func TestCreateAssignments_UsesTransaction(t *testing.T) {
	db := &fakeTxDB{}
	repo := NewRunRepository(db)

	surgeries := []model.Surgery{{ID: "s1", Start: 0, End: 10}}
	assignments := []model.Assignment{{SurgeryID: "s1", Anesthetist: "a1", Room: "r1"}}

	if err := repo.CreateAssignments(context.Background(), uuid.New(), assignments, surgeries); err != nil {
		t.Fatalf("写入分配记录失败: %v", err)
	}
	if db.txCalls != 1 {
		t.Errorf("期望走事务路径 1 次，实际: %d", db.txCalls)
	}
	if len(db.execs) != 0 {
		t.Errorf("事务路径下不应有直接插入: %d", len(db.execs))
	}
}
