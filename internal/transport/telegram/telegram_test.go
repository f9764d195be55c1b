package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	"chekitimer/internal/catalog"
	"chekitimer/internal/engine"
	"chekitimer/internal/ledger"
	kit "chekitimer/internal/transport"
	logx "chekitimer/pkg/logx"
)

type fixture struct {
	cmds  *Commands
	reg   *engine.Registry
	clk   *engine.ManualClock
	store ledger.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := engine.NewManualClock(time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC))
	store := ledger.NewMemory()
	n := 0
	reg := engine.NewRegistry(
		engine.WithClock(clk),
		engine.WithIDFunc(func() string { n++; return fmt.Sprintf("t%d", n) }),
		engine.WithLedger(engine.LedgerFunc(func(r engine.SessionRecord) {
			_, _ = store.Append(context.Background(), r)
		})),
	)
	cat := catalog.New("test", []catalog.Template{
		{Group: "G1", Entity: "Alice", Name: "photo", Units: 2, Distribution: 2, Seconds: 40, MarginSeconds: 10, MemberColor: "#4169e1"},
		{Group: "G1", Entity: "Alice", Name: "sign", Seconds: 60, MarginSeconds: 10},
		{Group: "G1", Entity: "Bob", Name: "photo", Units: 1, Distribution: 1, Seconds: 30, MarginSeconds: 5},
	})
	cmds := NewCommands(reg, func() *catalog.Catalog { return cat }, store)
	cmds.Now = clk.Now
	return &fixture{cmds: cmds, reg: reg, clk: clk, store: store}
}

func (f *fixture) run(t *testing.T, line string) kit.Reply {
	t.Helper()
	rep, err := f.cmds.Handle(context.Background(), kit.Message{Text: line})
	if err != nil {
		t.Fatalf("%s: %v", line, err)
	}
	return rep
}

func mustContain(t *testing.T, rep kit.Reply, want string) {
	t.Helper()
	if !strings.Contains(rep.Text, want) {
		t.Fatalf("reply %q does not contain %q", rep.Text, want)
	}
}

func TestStartQueueStopFlow(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	mustContain(t, f.run(t, "/start G1 Alice photo"), "started t1")
	mustContain(t, f.run(t, "/start G1 Alice sign photo"), "queued sign,photo (position 1)")
	mustContain(t, f.run(t, "/queue G1 Alice"), "1. sign,photo (1:40)")
	mustContain(t, f.run(t, "/timers"), "t1 G1 / Alice 0:40")

	f.clk.Advance(45 * time.Second)
	f.reg.Tick()
	mustContain(t, f.run(t, "/timers"), "-0:05 [over]")

	rep := f.run(t, "/stop G1 Alice")
	mustContain(t, rep, "+0:05 over")
	mustContain(t, rep, "next: t2 G1 / Alice 1:40")

	recs, _ := f.store.List(context.Background())
	if len(recs) != 1 || recs[0].OvertimeSeconds != 5 || recs[0].TotalUnits != 2 {
		t.Fatalf("ledger = %+v", recs)
	}
}

func TestPauseResumeByID(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.run(t, "/start G1 Bob photo")
	f.clk.Advance(10 * time.Second)
	f.reg.Tick()
	mustContain(t, f.run(t, "/pause t1"), "0:20 [paused]")
	f.clk.Advance(time.Minute)
	f.reg.Tick()
	mustContain(t, f.run(t, "/resume G1 Bob"), "t1 G1 / Bob 0:20")
	f.clk.Advance(5 * time.Second)
	f.reg.Tick()
	mustContain(t, f.run(t, "/timers"), "t1 G1 / Bob 0:15")
	mustContain(t, f.run(t, "/pause nope"), "no active timer nope")
}

func TestCancelThenNext(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.run(t, "/start G1 Alice photo")
	f.run(t, "/start G1 Alice sign")
	mustContain(t, f.run(t, "/next G1 Alice"), "still running")

	rep := f.run(t, "/cancel G1 Alice")
	mustContain(t, rep, "cancelled")
	mustContain(t, rep, "/next G1 Alice")
	if _, ok := f.reg.Lookup(engine.JoinKey("G1", "Alice")); ok {
		t.Fatal("cancel must not auto-advance")
	}
	mustContain(t, f.run(t, "/next G1 Alice"), "t2 G1 / Alice 1:00")
	f.run(t, "/cancel t2")
	mustContain(t, f.run(t, "/next G1 Alice"), "queue is empty")

	recs, _ := f.store.List(context.Background())
	if len(recs) != 2 || recs[0].Status != engine.StatusCancelled || recs[0].TotalUnits != 0 {
		t.Fatalf("ledger = %+v", recs)
	}
}

func TestUsageAndUnknown(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	cases := []struct{ line, want string }{
		{"/start", "usage: /start"},
		{"/start G1 Alice dance", "unknown template"},
		{"/start G9 Zed photo", "unknown group/entity"},
		{"/menu G1", "usage: /menu"},
		{"/bogus", "unknown command /bogus"},
		{"/delete x", "usage: /delete"},
		{"/reset", "usage: /reset"},
		{"/ledger -1", "usage: /ledger"},
	}
	for _, c := range cases {
		mustContain(t, f.run(t, c.line), c.want)
	}
	if rep := f.run(t, "hello"); rep.Text != "" {
		t.Fatalf("plain text reply = %q", rep.Text)
	}
}

func TestCatalogCommands(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	mustContain(t, f.run(t, "/groups"), "G1: Alice, Bob")
	rep := f.run(t, "/menu G1 Alice")
	mustContain(t, rep, "photo: 0:40, 2 units, margin 10s")
	mustContain(t, rep, "sign: 1:00, 0 units")
	mustContain(t, f.run(t, "/menu G1 Nobody"), "no templates")
	mustContain(t, f.run(t, "/help"), "/export [--reset]")
}

func TestAlertsCommand(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	mustContain(t, f.run(t, "/alerts"), "no active alerts")
	f.run(t, "/start G1 Alice photo")
	f.clk.Advance(31 * time.Second)
	f.reg.Tick()
	mustContain(t, f.run(t, "/alerts"), "G1 / Alice: ending soon")
}

func TestLedgerDeleteResetExport(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.run(t, "/start G1 Alice photo")
	f.clk.Advance(30 * time.Second)
	f.run(t, "/stop t1")
	f.run(t, "/start G1 Bob photo")
	f.run(t, "/cancel t2")

	rep := f.run(t, "/ledger")
	mustContain(t, rep, "2 sessions (1 completed, 1 cancelled)")
	mustContain(t, rep, "#1 ")
	mustContain(t, rep, "0:10 early")

	rep = f.run(t, "/export --reset")
	if len(rep.Documents) != 2 || !strings.HasSuffix(rep.Documents[0].Name, ".xlsx") || len(rep.Documents[1].Data) == 0 {
		t.Fatalf("export documents = %+v", rep.Documents)
	}
	mustContain(t, rep, "removed 2 records")
	mustContain(t, f.run(t, "/export"), "ledger is empty")

	f.run(t, "/start G1 Alice photo")
	f.run(t, "/stop G1 Alice")
	mustContain(t, f.run(t, "/delete #3"), "deleted #3")
	mustContain(t, f.run(t, "/delete 3"), "no record #3")
	mustContain(t, f.run(t, "/reset confirm"), "removed 0 records")
}

type brokenStore struct{ ledger.Store }

func (brokenStore) List(context.Context) ([]ledger.Record, error) {
	return nil, errors.New("disk on fire")
}

func TestInternalErrorsSurface(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.cmds.Ledger = brokenStore{f.store}
	if _, err := f.cmds.Handle(context.Background(), kit.Message{Text: "/ledger"}); err == nil || !strings.Contains(err.Error(), "disk on fire") {
		t.Fatalf("err = %v", err)
	}
}

func TestParseCommand(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		name string
		args []string
	}{
		{"/start G1 Alice photo", "start", []string{"G1", "Alice", "photo"}},
		{"/Start@chekibot  G1", "start", []string{"G1"}},
		{`/start "G 1" 'A B' x\ y`, "start", []string{"G 1", "A B", "x y"}},
		{"/start　シンダーエラ　みかねあみ 写メ", "start", []string{"シンダーエラ", "みかねあみ", "写メ"}},
		{"not a command", "", nil},
		{"", "", nil},
	}
	for _, c := range cases {
		name, args := parseCommand(c.in)
		if name != c.name || strings.Join(args, "|") != strings.Join(c.args, "|") {
			t.Fatalf("parseCommand(%q) = %q %q", c.in, name, args)
		}
	}

	pos, flags, bools := parseFlags([]string{"a", "--reset", "--n=3", "--k", "v", "b"})
	if strings.Join(pos, ",") != "a,b" || flags["n"] != "3" || flags["k"] != "v" || !bools["reset"] {
		t.Fatalf("parseFlags = %v %v %v", pos, flags, bools)
	}
}

func TestOwnerOnly(t *testing.T) {
	t.Parallel()
	calls := 0
	h := Chain(func(context.Context, kit.Message) (kit.Reply, error) {
		calls++
		return kit.Reply{Text: "ok"}, nil
	}, MWOwnerOnly([]int64{42}, logx.Nop()))

	if rep, _ := h(context.Background(), kit.Message{FromID: 7}); rep.Text != "" || calls != 0 {
		t.Fatal("non-owner must be ignored")
	}
	if rep, _ := h(context.Background(), kit.Message{FromID: 42}); rep.Text != "ok" || calls != 1 {
		t.Fatal("owner must pass")
	}
}

func TestPanicRecover(t *testing.T) {
	t.Parallel()
	h := Chain(func(context.Context, kit.Message) (kit.Reply, error) {
		panic("boom")
	}, MWPanicRecover(logx.Nop()))
	if _, err := h(context.Background(), kit.Message{}); err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("err = %v", err)
	}
}

func TestSplitTelegramText(t *testing.T) {
	t.Parallel()
	if got := splitTelegramText("short", 10); len(got) != 1 {
		t.Fatalf("short = %v", got)
	}
	long := strings.Repeat("line of text\n", 30)
	chunks := splitTelegramText(long, 100)
	if len(chunks) < 4 {
		t.Fatalf("chunks = %d", len(chunks))
	}
	for _, c := range chunks {
		if len([]rune(c)) > 100 || strings.HasSuffix(c, "\n") {
			t.Fatalf("bad chunk %q", c)
		}
	}
	if got := strings.Join(chunks, "\n"); got != strings.TrimRight(long, "\n") {
		t.Fatal("chunks lost text")
	}
}

type fakeAPI struct {
	sent []interface{}
	opts []*tele.SendOptions
}

func (f *fakeAPI) Send(_ tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	f.sent = append(f.sent, what)
	if len(opts) > 0 {
		if o, ok := opts[0].(*tele.SendOptions); ok {
			f.opts = append(f.opts, o)
		}
	}
	return &tele.Message{ID: len(f.sent)}, nil
}

func TestDeliverAndSendAlert(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{}
	a := &Adapter{cfg: Config{AlertChat: kit.ChatTarget{ChatID: 1, ThreadID: 9}}, log: logx.Nop(), api: api}

	rep := kit.Reply{
		Text:      strings.Repeat("x\n", 3000),
		Documents: []kit.Document{{Name: "ledger.xlsx", Data: []byte("PK")}},
	}
	if err := a.deliver(context.Background(), kit.ChatTarget{ChatID: 5}, rep); err != nil {
		t.Fatal(err)
	}
	if len(api.sent) != 3 {
		t.Fatalf("sent %d messages, want 2 text chunks + 1 document", len(api.sent))
	}
	if doc, ok := api.sent[2].(*tele.Document); !ok || doc.FileName != "ledger.xlsx" {
		t.Fatalf("document = %#v", api.sent[2])
	}

	if err := a.SendAlert(context.Background(), "🚨 time is up"); err != nil {
		t.Fatal(err)
	}
	if last := api.opts[len(api.opts)-1]; last.ThreadID != 9 {
		t.Fatalf("alert thread = %d", last.ThreadID)
	}

	none := &Adapter{log: logx.Nop(), api: api}
	if err := none.SendAlert(context.Background(), "x"); err == nil {
		t.Fatal("expected error without alert chat")
	}
}

func TestHandleAppendsErrorText(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{}
	a := &Adapter{log: logx.Nop(), api: api}
	a.handler = func(context.Context, kit.Message) (kit.Reply, error) {
		return kit.Reply{}, errors.New("ledger list: boom")
	}
	a.handle(context.Background(), kit.Message{ChatID: 3, Text: "/ledger"})
	if len(api.sent) != 1 || !strings.Contains(api.sent[0].(string), "❌ ledger list: boom") {
		t.Fatalf("sent = %v", api.sent)
	}
}
