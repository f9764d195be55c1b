package report

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"chekitimer/internal/engine"
	"chekitimer/internal/ledger"
	logx "chekitimer/pkg/logx"
)

func seeded(t *testing.T) ledger.Store {
	t.Helper()
	st := ledger.NewMemory()
	ctx := context.Background()
	recs := []engine.SessionRecord{
		{TimerID: "a", GroupKey: "G1", EntityKey: "Alice", ItemNames: "photo", TotalUnits: 2, TotalSeconds: 40, OvertimeSeconds: 5, Status: engine.StatusCompleted},
		{TimerID: "b", GroupKey: "G1", EntityKey: "Bob", ItemNames: "sign", TotalSeconds: 60, Status: engine.StatusCancelled},
	}
	for _, r := range recs {
		if _, err := st.Append(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	return st
}

func TestRunOnceWritesExport(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "exports")
	s := New(Config{ExportDir: dir, Timezone: "UTC"}, seeded(t), logx.Nop())
	s.now = func() time.Time { return time.Date(2026, 3, 4, 21, 30, 0, 0, time.UTC) }

	res, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Summary.Count != 2 || res.Summary.Completed != 1 || res.Summary.NetOvertime != 5 {
		t.Fatalf("summary = %+v", res.Summary)
	}
	want := filepath.Join(dir, "ledger-20260304-2130.xlsx")
	if res.File != want {
		t.Fatalf("file = %q, want %q", res.File, want)
	}
	b, err := os.ReadFile(want)
	if err != nil || len(b) == 0 {
		t.Fatalf("read export: %v (%d bytes)", err, len(b))
	}
	if last, lerr := s.Last(); lerr != nil || last.File != want {
		t.Fatalf("last = %+v %v", last, lerr)
	}
}

func TestRunOnceSkipsEmptyLedgerAndMissingDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s := New(Config{ExportDir: dir}, ledger.NewMemory(), logx.Nop())
	res, err := s.RunOnce(context.Background())
	if err != nil || res.File != "" {
		t.Fatalf("empty ledger: %+v %v", res, err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("unexpected files: %v", entries)
	}

	s = New(Config{}, seeded(t), logx.Nop())
	if res, err := s.RunOnce(context.Background()); err != nil || res.File != "" || res.Summary.Count != 2 {
		t.Fatalf("no export dir: %+v %v", res, err)
	}

	s = New(Config{}, nil, logx.Nop())
	if _, err := s.RunOnce(context.Background()); err == nil {
		t.Fatal("nil store should error")
	}
}

func TestValidateSchedule(t *testing.T) {
	t.Parallel()
	cases := []struct {
		spec string
		ok   bool
	}{
		{"", true},
		{"@daily", true},
		{"@every 1h", true},
		{"0 21 * * *", true},
		{"30 0 21 * * *", true},
		{"not a schedule", false},
		{"61 * * * *", false},
	}
	for _, c := range cases {
		if err := ValidateSchedule(c.spec); (err == nil) != c.ok {
			t.Fatalf("ValidateSchedule(%q) = %v", c.spec, err)
		}
	}
}

func TestScheduledRunAndApply(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s := New(Config{Enabled: true, Schedule: "* * * * * *", ExportDir: dir}, seeded(t), logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer s.Stop(context.Background())
	if s.Next().IsZero() {
		t.Fatal("next run not scheduled")
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		if last, _ := s.Last(); strings.HasSuffix(last.File, ".xlsx") {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("scheduled run did not export")
		}
		time.Sleep(20 * time.Millisecond)
	}

	if err := s.Apply(Config{Enabled: false}); err != nil {
		t.Fatal(err)
	}
	if !s.Next().IsZero() {
		t.Fatal("disabled report should not be scheduled")
	}
	if err := s.Apply(Config{Enabled: true, Schedule: "@daily"}); err != nil {
		t.Fatal(err)
	}
	if next := s.Next(); next.IsZero() || time.Until(next) > 25*time.Hour {
		t.Fatalf("next = %v", next)
	}
	if err := s.Apply(Config{Enabled: true, Schedule: "bogus"}); err == nil {
		t.Fatal("bad schedule should fail to apply")
	}
}

func TestKVFields(t *testing.T) {
	t.Parallel()
	if got := len(kvFields([]interface{}{"a", 1, "b"})); got != 1 {
		t.Fatalf("kvFields odd = %d", got)
	}
	if got := len(kvFields([]interface{}{1, 2, "c", 3})); got != 2 {
		t.Fatalf("kvFields = %d", got)
	}
}
