package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type fakeState struct {
	begins      int64
	commitCalls int64
	rollbacks   int64
	failCommits int64
	failCode    string
}

type fakeDriver struct {
	state *fakeState
}

func (d *fakeDriver) Open(string) (driver.Conn, error) {
	return &fakeConn{state: d.state}, nil
}

type fakeConn struct {
	state *fakeState
}

func (c *fakeConn) Prepare(string) (driver.Stmt, error) { return &fakeStmt{}, nil }
func (c *fakeConn) Close() error                        { return nil }
func (c *fakeConn) Begin() (driver.Tx, error)           { return c.begin() }

func (c *fakeConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	return c.begin()
}

func (c *fakeConn) begin() (driver.Tx, error) {
	atomic.AddInt64(&c.state.begins, 1)
	return &fakeTx{state: c.state}, nil
}

type fakeTx struct {
	state *fakeState
}

func (t *fakeTx) Commit() error {
	call := atomic.AddInt64(&t.state.commitCalls, 1)
	if call <= t.state.failCommits {
		code := t.state.failCode
		if code == "" {
			code = "40001"
		}
		return &pq.Error{Code: pq.ErrorCode(code)}
	}
	return nil
}

func (t *fakeTx) Rollback() error {
	atomic.AddInt64(&t.state.rollbacks, 1)
	return nil
}

type fakeStmt struct{}

func (s *fakeStmt) Close() error                                 { return nil }
func (s *fakeStmt) NumInput() int                                { return -1 }
func (s *fakeStmt) Exec([]driver.Value) (driver.Result, error)   { return nil, nil }
func (s *fakeStmt) Query([]driver.Value) (driver.Rows, error)    { return nil, nil }

var driverCounter uint64

func openFake(t *testing.T, state *fakeState) *sqlx.DB {
	t.Helper()
	name := fmt.Sprintf("prepaid-fake-%d", atomic.AddUint64(&driverCounter, 1))
	sql.Register(name, &fakeDriver{state: state})
	sqlDB, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return sqlx.NewDb(sqlDB, name)
}

func TestWithTxCommits(t *testing.T) {
	state := &fakeState{}
	xdb := openFake(t, state)
	if err := WithTx(context.Background(), xdb, func(*sqlx.Tx) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.commitCalls != 1 || state.rollbacks != 0 {
		t.Fatalf("expected commit=1 rollback=0, got %d/%d", state.commitCalls, state.rollbacks)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	state := &fakeState{}
	xdb := openFake(t, state)
	boom := errors.New("boom")
	err := WithTx(context.Background(), xdb, func(*sqlx.Tx) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if state.rollbacks != 1 || state.begins != 1 {
		t.Fatalf("expected one rolled back attempt, got begins=%d rollbacks=%d", state.begins, state.rollbacks)
	}
}

func TestWithTxRetriesFnOnLockTimeout(t *testing.T) {
	state := &fakeState{}
	xdb := openFake(t, state)
	calls := 0
	err := WithTx(context.Background(), xdb, func(*sqlx.Tx) error {
		calls++
		if calls == 1 {
			return &pq.Error{Code: "55P03"}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 || state.commitCalls != 1 {
		t.Fatalf("expected fn twice and one commit, got %d/%d", calls, state.commitCalls)
	}
}

func TestWithTxRetriesOnSerializationConflict(t *testing.T) {
	state := &fakeState{failCommits: 1}
	xdb := openFake(t, state)
	if err := WithTx(context.Background(), xdb, func(*sqlx.Tx) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.commitCalls != 2 {
		t.Fatalf("expected 2 commits, got %d", state.commitCalls)
	}
}

func TestWithTxRetryCapExceeded(t *testing.T) {
	state := &fakeState{failCommits: 10, failCode: "40P01"}
	xdb := openFake(t, state)
	if err := WithTx(context.Background(), xdb, func(*sqlx.Tx) error { return nil }); err == nil {
		t.Fatalf("expected retry limit error")
	}
	if state.commitCalls != 5 {
		t.Fatalf("expected 5 commits, got %d", state.commitCalls)
	}
}

func TestWithTxDoesNotRetryOtherCodes(t *testing.T) {
	state := &fakeState{}
	xdb := openFake(t, state)
	calls := 0
	err := WithTx(context.Background(), xdb, func(*sqlx.Tx) error {
		calls++
		return &pq.Error{Code: "23505"}
	})
	if err == nil || calls != 1 {
		t.Fatalf("expected single failed attempt, got calls=%d err=%v", calls, err)
	}
}
