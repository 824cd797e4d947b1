package tracestore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bintelAI/ai-workflow/core"
	"github.com/bintelAI/ai-workflow/runtime"
	"github.com/bintelAI/ai-workflow/variables"
)

var base = time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

// testDSN returns a unique shared-memory DSN for test isolation.
func testDSN(t *testing.T) string {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	return fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
}

func newSQLite(t *testing.T, cfg ...SQLiteConfig) *SQLiteStore {
	t.Helper()
	var c SQLiteConfig
	if len(cfg) > 0 {
		c = cfg[0]
	}
	if c.DSN == "" {
		c.DSN = testDSN(t)
	}
	store, err := OpenSQLite(c)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func makeResult(runID string, started time.Time, failed bool) *runtime.Result {
	res := &runtime.Result{
		RunID:      runID,
		WorkflowID: "wf-1",
		State:      runtime.StateCompleted,
		Status:     map[string]runtime.Status{"start": runtime.StatusSuccess, "call": runtime.StatusSuccess},
		Outputs: map[string]map[string]any{
			"start": {"output": map[string]any{"amount": float64(10)}},
		},
		Log: []runtime.LogEntry{
			{
				StepID: "step-0001", NodeID: "start", NodeLabel: "Start", NodeType: core.NodeTypeStart,
				Status: runtime.StatusSuccess, Output: map[string]any{"amount": float64(10)},
				DurationMs: 5, Timestamp: started,
			},
			{
				StepID:     "step-0002",
				NodeID:     "call",
				NodeLabel:  "Call",
				NodeType:   core.NodeTypeAPICall,
				Status:     runtime.StatusSuccess,
				Warnings:   []variables.Warning{{Path: "start.output.user", Message: "not found"}},
				DurationMs: 1200,
				Timestamp:  started.Add(5 * time.Millisecond),
			},
		},
		Started:  started,
		Finished: started.Add(1205 * time.Millisecond),
	}
	if failed {
		res.State = runtime.StateAborted
		res.StructuralError = runtime.ErrStepBudgetExceeded
		res.Error = runtime.ErrStepBudgetExceeded.Error()
		res.Log[1].Status = runtime.StatusFailed
		res.Log[1].ErrorMessage = "boom"
		res.Status["call"] = runtime.StatusFailed
	}
	return res
}

func makeEvent(runID string, seq uint64, kind runtime.EventKind) runtime.Event {
	e := runtime.NewEvent(kind, runID).WithTime(base.Add(time.Duration(seq) * time.Millisecond))
	e.Seq = seq
	return e
}

func stores() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"mem":    func(*testing.T) Store { return NewMemStore() },
		"sqlite": func(t *testing.T) Store { return newSQLite(t) },
	}
}

func TestStore_SaveAndGetRun(t *testing.T) {
	for name, open := range stores() {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			ctx := context.Background()

			if err := store.SaveRun(ctx, makeResult("run-1", base, true)); err != nil {
				t.Fatalf("SaveRun: %v", err)
			}
			got, err := store.GetRun(ctx, "run-1")
			if err != nil {
				t.Fatalf("GetRun: %v", err)
			}
			if got.State != runtime.StateAborted || got.WorkflowID != "wf-1" {
				t.Errorf("got state %s workflow %q", got.State, got.WorkflowID)
			}
			if got.StructuralError == nil || got.StructuralError.Error() != runtime.ErrStepBudgetExceeded.Error() {
				t.Errorf("StructuralError = %v, want restored budget error", got.StructuralError)
			}
			if len(got.Log) != 2 || got.Log[1].ErrorMessage != "boom" {
				t.Fatalf("log = %+v", got.Log)
			}
			if len(got.Log[1].Warnings) != 1 || got.Log[1].Warnings[0].Path != "start.output.user" {
				t.Errorf("warnings = %+v", got.Log[1].Warnings)
			}
			if !got.Log[1].Timestamp.Equal(base.Add(5 * time.Millisecond)) {
				t.Errorf("timestamp = %v", got.Log[1].Timestamp)
			}
			if got.Status["call"] != runtime.StatusFailed {
				t.Errorf("status[call] = %s, want failed", got.Status["call"])
			}
			amount := got.Outputs["start"]["output"].(map[string]any)["amount"]
			if amount != float64(10) {
				t.Errorf("outputs amount = %v", amount)
			}
		})
	}
}

func TestStore_SaveRunReplaces(t *testing.T) {
	for name, open := range stores() {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			ctx := context.Background()
			_ = store.SaveRun(ctx, makeResult("run-1", base, true))
			if err := store.SaveRun(ctx, makeResult("run-1", base, false)); err != nil {
				t.Fatalf("SaveRun: %v", err)
			}
			got, err := store.GetRun(ctx, "run-1")
			if err != nil {
				t.Fatalf("GetRun: %v", err)
			}
			if got.State != runtime.StateCompleted || got.StructuralError != nil {
				t.Errorf("got %s / %v, want the replacement", got.State, got.StructuralError)
			}
			runs, _ := store.ListRuns(ctx, 0)
			if len(runs) != 1 {
				t.Errorf("ListRuns = %d runs, want 1", len(runs))
			}
		})
	}
}

func TestStore_GetRunNotFound(t *testing.T) {
	for name, open := range stores() {
		t.Run(name, func(t *testing.T) {
			_, err := open(t).GetRun(context.Background(), "ghost")
			if !errors.Is(err, ErrRunNotFound) {
				t.Errorf("err = %v, want ErrRunNotFound", err)
			}
		})
	}
}

func TestStore_ListRunsNewestFirst(t *testing.T) {
	for name, open := range stores() {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			ctx := context.Background()
			for i, id := range []string{"run-a", "run-b", "run-c"} {
				if err := store.SaveRun(ctx, makeResult(id, base.Add(time.Duration(i)*time.Minute), i == 1)); err != nil {
					t.Fatalf("SaveRun(%s): %v", id, err)
				}
			}

			runs, err := store.ListRuns(ctx, 0)
			if err != nil {
				t.Fatalf("ListRuns: %v", err)
			}
			var ids []string
			for _, r := range runs {
				ids = append(ids, r.RunID)
			}
			if strings.Join(ids, ",") != "run-c,run-b,run-a" {
				t.Errorf("order = %v, want newest first", ids)
			}
			if runs[1].Failed != 1 || runs[1].Steps != 2 || runs[1].State != runtime.StateAborted {
				t.Errorf("summary = %+v", runs[1])
			}
			if !runs[0].Finished.Equal(base.Add(2*time.Minute + 1205*time.Millisecond)) {
				t.Errorf("finished = %v", runs[0].Finished)
			}

			limited, _ := store.ListRuns(ctx, 2)
			if len(limited) != 2 || limited[0].RunID != "run-c" {
				t.Errorf("ListRuns(2) = %+v", limited)
			}
		})
	}
}

func TestStore_Events(t *testing.T) {
	for name, open := range stores() {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			ctx := context.Background()

			for i := uint64(1); i <= 5; i++ {
				e := makeEvent("run-1", i, runtime.EventNodeStarted).
					WithNode(fmt.Sprintf("node-%d", i), core.NodeTypeDelay).
					WithStep(fmt.Sprintf("step-%04d", i)).
					WithElapsed(time.Duration(i) * time.Millisecond).
					WithPayload("index", float64(i))
				e.TraceID = "trace-abc"
				e.SpanID = "span-def"
				if err := store.AppendEvent(ctx, e); err != nil {
					t.Fatalf("AppendEvent(%d): %v", i, err)
				}
			}
			_ = store.AppendEvent(ctx, makeEvent("run-2", 1, runtime.EventRunStarted))

			events, err := store.Events(ctx, "run-1", 0, 0)
			if err != nil {
				t.Fatalf("Events: %v", err)
			}
			if len(events) != 5 {
				t.Fatalf("got %d events, want 5", len(events))
			}
			e := events[2]
			if e.Seq != 3 || e.NodeID != "node-3" || e.NodeType != core.NodeTypeDelay || e.StepID != "step-0003" {
				t.Errorf("event = %+v", e)
			}
			if e.Elapsed != 3*time.Millisecond || e.TraceID != "trace-abc" || e.SpanID != "span-def" {
				t.Errorf("event timing/trace = %+v", e)
			}
			if !e.Time.Equal(base.Add(3 * time.Millisecond)) {
				t.Errorf("time = %v", e.Time)
			}
			if e.Payload["index"] != float64(3) {
				t.Errorf("payload = %v", e.Payload)
			}

			after, _ := store.Events(ctx, "run-1", 3, 0)
			if len(after) != 2 || after[0].Seq != 4 {
				t.Errorf("afterSeq=3 returned %d events", len(after))
			}
			limited, _ := store.Events(ctx, "run-1", 0, 2)
			if len(limited) != 2 || limited[1].Seq != 2 {
				t.Errorf("limit=2 returned %d events", len(limited))
			}

			seq, err := store.LatestSeq(ctx, "run-1")
			if err != nil || seq != 5 {
				t.Errorf("LatestSeq = %d, %v; want 5", seq, err)
			}
			seq, _ = store.LatestSeq(ctx, "nope")
			if seq != 0 {
				t.Errorf("LatestSeq(unknown) = %d, want 0", seq)
			}
		})
	}
}

func TestSQLiteStore_DuplicateSeq(t *testing.T) {
	store := newSQLite(t)
	ctx := context.Background()
	if err := store.AppendEvent(ctx, makeEvent("run-1", 1, runtime.EventRunStarted)); err != nil {
		t.Fatal(err)
	}
	if err := store.AppendEvent(ctx, makeEvent("run-1", 1, runtime.EventRunStarted)); err == nil {
		t.Error("expected unique constraint violation for duplicate seq")
	}
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces.db")
	ctx := context.Background()

	first, err := OpenSQLite(SQLiteConfig{DSN: path})
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := first.SaveRun(ctx, makeResult("run-1", base, false)); err != nil {
		t.Fatal(err)
	}
	if err := first.AppendEvent(ctx, makeEvent("run-1", 1, runtime.EventRunStarted)); err != nil {
		t.Fatal(err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second, err := OpenSQLite(SQLiteConfig{DSN: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()
	if _, err := second.GetRun(ctx, "run-1"); err != nil {
		t.Errorf("GetRun after reopen: %v", err)
	}
	if seq, _ := second.LatestSeq(ctx, "run-1"); seq != 1 {
		t.Errorf("LatestSeq after reopen = %d, want 1", seq)
	}
}

func TestSQLiteStore_PruneByCount(t *testing.T) {
	store := newSQLite(t, SQLiteConfig{RetentionCount: 2, PruneInterval: time.Hour})
	store.now = func() time.Time { return base.Add(24 * time.Hour) }
	ctx := context.Background()

	for i, id := range []string{"run-a", "run-b", "run-c"} {
		_ = store.SaveRun(ctx, makeResult(id, base.Add(time.Duration(i)*time.Minute), false))
		_ = store.AppendEvent(ctx, makeEvent(id, 1, runtime.EventRunStarted))
	}
	if err := store.Prune(ctx); err != nil {
		t.Fatalf("Prune: %v", err)
	}

	runs, _ := store.ListRuns(ctx, 0)
	if len(runs) != 2 || runs[1].RunID != "run-b" {
		t.Errorf("runs after prune = %+v", runs)
	}
	if _, err := store.GetRun(ctx, "run-a"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("run-a survived pruning: %v", err)
	}
	if events, _ := store.Events(ctx, "run-a", 0, 0); len(events) != 0 {
		t.Errorf("run-a kept %d events", len(events))
	}
	if events, _ := store.Events(ctx, "run-c", 0, 0); len(events) != 1 {
		t.Errorf("run-c has %d events, want 1", len(events))
	}
}

func TestSQLiteStore_PruneByAge(t *testing.T) {
	store := newSQLite(t, SQLiteConfig{RetentionAge: time.Hour, PruneInterval: time.Hour})
	store.now = func() time.Time { return base.Add(90 * time.Minute) }
	ctx := context.Background()

	_ = store.SaveRun(ctx, makeResult("old", base, false))
	_ = store.SaveRun(ctx, makeResult("new", base.Add(time.Hour), false))
	if err := store.Prune(ctx); err != nil {
		t.Fatalf("Prune: %v", err)
	}
	runs, _ := store.ListRuns(ctx, 0)
	if len(runs) != 1 || runs[0].RunID != "new" {
		t.Errorf("runs after prune = %+v", runs)
	}
}

func TestSQLiteStore_CloseIdempotentPruner(t *testing.T) {
	store, err := OpenSQLite(SQLiteConfig{DSN: testDSN(t), RetentionCount: 1, PruneInterval: 10 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(30 * time.Millisecond)
	if err := store.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestOpenSQLite_EmptyDSN(t *testing.T) {
	if _, err := OpenSQLite(SQLiteConfig{}); err == nil {
		t.Error("expected error for empty DSN")
	}
}

func TestRecorder(t *testing.T) {
	store := NewMemStore()
	rec := NewRecorder(store, nil)
	h := rec.Handler()
	for i := uint64(1); i <= 3; i++ {
		h(makeEvent("run-1", i, runtime.EventNodeFinished))
	}
	events, _ := store.Events(context.Background(), "run-1", 0, 0)
	if len(events) != 3 {
		t.Errorf("recorded %d events, want 3", len(events))
	}
}

func TestRecorder_SwallowsStoreErrors(t *testing.T) {
	store := newSQLite(t)
	rec := NewRecorder(store, nil)
	_ = store.Close()
	rec.Handle(makeEvent("run-1", 1, runtime.EventRunStarted))
}
