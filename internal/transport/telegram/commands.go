package telegram

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"chekitimer/internal/catalog"
	"chekitimer/internal/engine"
	"chekitimer/internal/ledger"
	"chekitimer/internal/ledger/export"
	"chekitimer/internal/notifier"
	kit "chekitimer/internal/transport"
)

// Engine is the registry surface the commands drive.
type Engine interface {
	Start(key string, spec engine.Spec) (id string, queued bool)
	Pause(id string)
	Resume(id string)
	Stop(id string) (engine.SessionRecord, bool)
	Cancel(id string) (engine.SessionRecord, bool)
	Advance(key string) (id string, ok bool)
	Snapshot() []engine.View
	Get(id string) (engine.View, bool)
	Lookup(key string) (engine.View, bool)
	Alerts() *engine.AlertBus
	Queue() *engine.QueueStore
}

// Commands implements the chat command set without any transport.
type Commands struct {
	Engine  Engine
	Catalog func() *catalog.Catalog
	Ledger  ledger.Store
	// History, when set, lists recently delivered alert notifications.
	History func() []notifier.HistoryItem
	// PDFFont is an optional TTF font for PDF exports.
	PDFFont string
	Now     func() time.Time

	table map[string]command
}

type command struct {
	usage string
	desc  string
	run   func(ctx context.Context, args []string) (kit.Reply, error)
}

var errUsage = errors.New("usage")

func NewCommands(eng Engine, cat func() *catalog.Catalog, store ledger.Store) *Commands {
	c := &Commands{Engine: eng, Catalog: cat, Ledger: store, Now: time.Now}
	c.table = map[string]command{
		"help":   {"/help", "list commands", c.help},
		"groups": {"/groups", "list groups and entities", c.groups},
		"menu":   {"/menu <group> <entity>", "list an entity's templates", c.menu},
		"start":  {"/start <group> <entity> <item>...", "start a timer (queues if busy)", c.start},
		"timers": {"/timers", "active timers, most urgent first", c.timers},
		"queue":  {"/queue <group> <entity>", "queued selections for an entity", c.queue},
		"pause":  {"/pause <group> <entity> | <id>", "pause a timer", c.pause},
		"resume": {"/resume <group> <entity> | <id>", "resume a timer", c.resume},
		"stop":   {"/stop <group> <entity> | <id>", "complete a timer and start the next queued", c.stop},
		"cancel": {"/cancel <group> <entity> | <id>", "cancel without distribution", c.cancel},
		"next":   {"/next <group> <entity>", "start the next queued selection", c.next},
		"alerts": {"/alerts", "current alerts and recent notifications", c.alerts},
		"ledger": {"/ledger [n]", "ledger summary and the last n records", c.ledger},
		"delete": {"/delete <seq>", "delete a ledger record", c.deleteRecord},
		"reset":  {"/reset confirm", "delete every ledger record", c.reset},
		"export": {"/export [--reset]", "export the ledger as XLSX and PDF", c.export},
	}
	return c
}

// BotCommands lists the command menu entries, sorted.
func (c *Commands) BotCommands() []kit.BotCommand {
	out := make([]kit.BotCommand, 0, len(c.table))
	for name, cmd := range c.table {
		out = append(out, kit.BotCommand{Command: name, Description: cmd.desc})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Command < out[j].Command })
	return out
}

// Handle runs one command line. Usage mistakes come back as reply text;
// the error is reserved for internal failures.
func (c *Commands) Handle(ctx context.Context, msg kit.Message) (kit.Reply, error) {
	name, args := parseCommand(msg.Text)
	if name == "" {
		return kit.Reply{}, nil
	}
	cmd, ok := c.table[name]
	if !ok {
		return kit.Reply{Text: "❓ unknown command /" + name + "; try /help"}, nil
	}
	rep, err := cmd.run(ctx, args)
	if errors.Is(err, errUsage) {
		return kit.Reply{Text: "usage: " + cmd.usage}, nil
	}
	return rep, err
}

func (c *Commands) help(context.Context, []string) (kit.Reply, error) {
	names := make([]string, 0, len(c.table))
	for n := range c.table {
		names = append(names, n)
	}
	sort.Strings(names)
	lines := []string{"📚 Commands"}
	for _, n := range names {
		lines = append(lines, fmt.Sprintf("%s: %s", c.table[n].usage, c.table[n].desc))
	}
	return text(lines...), nil
}

func (c *Commands) groups(context.Context, []string) (kit.Reply, error) {
	cat := c.Catalog()
	groups := cat.Groups()
	if len(groups) == 0 {
		return text("catalog is empty"), nil
	}
	lines := []string{fmt.Sprintf("📂 %d groups (%s)", len(groups), cat.Source())}
	for _, g := range groups {
		lines = append(lines, fmt.Sprintf("%s: %s", g, strings.Join(cat.Entities(g), ", ")))
	}
	return text(lines...), nil
}

func (c *Commands) menu(_ context.Context, args []string) (kit.Reply, error) {
	if len(args) != 2 {
		return kit.Reply{}, errUsage
	}
	ts := c.Catalog().Lookup(args[0], args[1])
	if len(ts) == 0 {
		return text(fmt.Sprintf("no templates for %s / %s", args[0], args[1])), nil
	}
	key := engine.JoinKey(args[0], args[1])
	lines := []string{fmt.Sprintf("🎫 %s / %s", args[0], args[1])}
	for _, t := range ts {
		lines = append(lines, fmt.Sprintf("%s: %s, %d units, margin %ds", t.Name, engine.FormatClock(t.Seconds), t.Units, t.MarginSeconds))
	}
	if v, ok := c.Engine.Lookup(key); ok {
		lines = append(lines, "", "active: "+timerLine(v))
	}
	if n := c.Engine.Queue().Len(key); n > 0 {
		lines = append(lines, fmt.Sprintf("queued: %d", n))
	}
	return text(lines...), nil
}

func (c *Commands) start(_ context.Context, args []string) (kit.Reply, error) {
	if len(args) < 3 {
		return kit.Reply{}, errUsage
	}
	group, entity := args[0], args[1]
	spec, err := c.Catalog().Build(group, entity, args[2:]...)
	if err != nil {
		return text("⚠️ " + err.Error()), nil
	}
	key := engine.JoinKey(group, entity)
	id, queued := c.Engine.Start(key, spec)
	if queued {
		return text(fmt.Sprintf("⏳ %s / %s is busy; queued %s (position %d)", group, entity, spec.ItemNames(), c.Engine.Queue().Len(key))), nil
	}
	return text(fmt.Sprintf("▶️ started %s for %s / %s: %s", id, group, entity, engine.FormatClock(spec.TotalSeconds()))), nil
}

func (c *Commands) timers(context.Context, []string) (kit.Reply, error) {
	views := c.Engine.Snapshot()
	if len(views) == 0 {
		return text("no active timers"), nil
	}
	lines := []string{fmt.Sprintf("⏱ %d active", len(views))}
	for _, v := range views {
		lines = append(lines, timerLine(v))
	}
	return text(lines...), nil
}

func (c *Commands) queue(_ context.Context, args []string) (kit.Reply, error) {
	if len(args) != 2 {
		return kit.Reply{}, errUsage
	}
	specs := c.Engine.Queue().List(engine.JoinKey(args[0], args[1]))
	if len(specs) == 0 {
		return text("queue is empty"), nil
	}
	lines := []string{fmt.Sprintf("📋 %s / %s: %d queued", args[0], args[1], len(specs))}
	for i, s := range specs {
		lines = append(lines, fmt.Sprintf("%d. %s (%s)", i+1, s.ItemNames(), engine.FormatClock(s.TotalSeconds())))
	}
	return text(lines...), nil
}

func (c *Commands) pause(_ context.Context, args []string) (kit.Reply, error) {
	v, msg := c.resolve(args)
	if msg != "" {
		return text(msg), nil
	}
	c.Engine.Pause(v.ID)
	v, _ = c.Engine.Get(v.ID)
	return text("⏸ " + timerLine(v)), nil
}

func (c *Commands) resume(_ context.Context, args []string) (kit.Reply, error) {
	v, msg := c.resolve(args)
	if msg != "" {
		return text(msg), nil
	}
	c.Engine.Resume(v.ID)
	v, _ = c.Engine.Get(v.ID)
	return text("▶️ " + timerLine(v)), nil
}

func (c *Commands) stop(_ context.Context, args []string) (kit.Reply, error) {
	v, msg := c.resolve(args)
	if msg != "" {
		return text(msg), nil
	}
	rec, ok := c.Engine.Stop(v.ID)
	if !ok {
		return text("timer already ended"), nil
	}
	lines := []string{fmt.Sprintf("⏹ %s / %s done: %s, %d units", rec.GroupKey, rec.EntityKey, overtimeLabel(rec.OvertimeSeconds), rec.TotalUnits)}
	if next, ok := c.Engine.Lookup(v.Key); ok {
		lines = append(lines, "next: "+timerLine(next))
	}
	return text(lines...), nil
}

func (c *Commands) cancel(_ context.Context, args []string) (kit.Reply, error) {
	v, msg := c.resolve(args)
	if msg != "" {
		return text(msg), nil
	}
	if _, ok := c.Engine.Cancel(v.ID); !ok {
		return text("timer already ended"), nil
	}
	lines := []string{fmt.Sprintf("✖️ %s / %s cancelled", v.Group(), v.Entity())}
	if n := c.Engine.Queue().Len(v.Key); n > 0 {
		lines = append(lines, fmt.Sprintf("%d queued; /next %s %s to continue", n, v.Group(), v.Entity()))
	}
	return text(lines...), nil
}

func (c *Commands) next(_ context.Context, args []string) (kit.Reply, error) {
	if len(args) != 2 {
		return kit.Reply{}, errUsage
	}
	key := engine.JoinKey(args[0], args[1])
	id, ok := c.Engine.Advance(key)
	if !ok {
		if v, busy := c.Engine.Lookup(key); busy {
			return text("still running: " + timerLine(v)), nil
		}
		return text("queue is empty"), nil
	}
	v, _ := c.Engine.Get(id)
	return text("▶️ " + timerLine(v)), nil
}

func (c *Commands) alerts(context.Context, []string) (kit.Reply, error) {
	var lines []string
	for ev := range c.Engine.Alerts().List() {
		lines = append(lines, notifier.Render(ev))
	}
	if len(lines) == 0 {
		lines = append(lines, "no active alerts")
	}
	if c.History != nil {
		hist := c.History()
		if n := len(hist); n > 0 {
			if n > 10 {
				hist = hist[n-10:]
			}
			lines = append(lines, "", "recent:")
			for _, h := range hist {
				lines = append(lines, h.At.Format("15:04:05")+" "+h.Text)
			}
		}
	}
	return text(lines...), nil
}

func (c *Commands) ledger(ctx context.Context, args []string) (kit.Reply, error) {
	n := 10
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v < 0 {
			return kit.Reply{}, errUsage
		}
		n = v
	}
	recs, err := c.Ledger.List(ctx)
	if err != nil {
		return kit.Reply{}, fmt.Errorf("ledger list: %w", err)
	}
	sum := ledger.Summarize(recs)
	lines := []string{"📒 " + sum.String()}
	if n > len(recs) {
		n = len(recs)
	}
	for _, r := range recs[len(recs)-n:] {
		lines = append(lines, fmt.Sprintf("#%d %s %s / %s %s %s %s",
			r.Seq, r.Timestamp.Format("01-02 15:04"), r.GroupKey, r.EntityKey, r.ItemNames, r.Status, overtimeLabel(r.OvertimeSeconds)))
	}
	return text(lines...), nil
}

func (c *Commands) deleteRecord(ctx context.Context, args []string) (kit.Reply, error) {
	if len(args) != 1 {
		return kit.Reply{}, errUsage
	}
	seq, err := strconv.ParseInt(strings.TrimPrefix(args[0], "#"), 10, 64)
	if err != nil {
		return kit.Reply{}, errUsage
	}
	ok, err := c.Ledger.Delete(ctx, seq)
	if err != nil {
		return kit.Reply{}, fmt.Errorf("ledger delete: %w", err)
	}
	if !ok {
		return text(fmt.Sprintf("no record #%d", seq)), nil
	}
	return text(fmt.Sprintf("🗑 deleted #%d", seq)), nil
}

func (c *Commands) reset(ctx context.Context, args []string) (kit.Reply, error) {
	if len(args) != 1 || args[0] != "confirm" {
		return kit.Reply{}, errUsage
	}
	n, err := c.Ledger.Reset(ctx)
	if err != nil {
		return kit.Reply{}, fmt.Errorf("ledger reset: %w", err)
	}
	return text(fmt.Sprintf("🗑 removed %d records", n)), nil
}

func (c *Commands) export(ctx context.Context, args []string) (kit.Reply, error) {
	_, _, bools := parseFlags(args)
	recs, err := c.Ledger.List(ctx)
	if err != nil {
		return kit.Reply{}, fmt.Errorf("ledger list: %w", err)
	}
	if len(recs) == 0 {
		return text("ledger is empty"), nil
	}
	sum := ledger.Summarize(recs)
	now := c.Now()

	xlsx, err := export.XLSX(recs, sum)
	if err != nil {
		return kit.Reply{}, fmt.Errorf("export xlsx: %w", err)
	}
	pdf, err := export.PDF(recs, sum, export.PDFOptions{GeneratedAt: now, FontFile: c.PDFFont})
	if err != nil {
		return kit.Reply{}, fmt.Errorf("export pdf: %w", err)
	}
	rep := kit.Reply{
		Text: "📤 " + sum.String(),
		Documents: []kit.Document{
			{Name: export.FileName("ledger", "xlsx", now), MIME: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", Data: xlsx},
			{Name: export.FileName("ledger", "pdf", now), MIME: "application/pdf", Data: pdf},
		},
	}
	if bools["reset"] {
		n, err := c.Ledger.Reset(ctx)
		if err != nil {
			return rep, fmt.Errorf("ledger reset after export: %w", err)
		}
		rep.Text += fmt.Sprintf("\n🗑 removed %d records", n)
	}
	return rep, nil
}

// resolve finds the timer named by "<group> <entity>" or "<id>".
// A non-empty message means the lookup failed.
func (c *Commands) resolve(args []string) (engine.View, string) {
	switch len(args) {
	case 1:
		if v, ok := c.Engine.Get(args[0]); ok {
			return v, ""
		}
		return engine.View{}, "no active timer " + args[0]
	case 2:
		if v, ok := c.Engine.Lookup(engine.JoinKey(args[0], args[1])); ok {
			return v, ""
		}
		return engine.View{}, fmt.Sprintf("no active timer for %s / %s", args[0], args[1])
	default:
		return engine.View{}, "name a timer: <group> <entity> or <id>"
	}
}

func timerLine(v engine.View) string {
	clock := engine.FormatClock(v.RemainingSeconds)
	if v.Overtime {
		clock = engine.FormatClock(-v.OvertimeSeconds)
	}
	state := ""
	switch {
	case v.Paused:
		state = " [paused]"
	case v.Overtime:
		state = " [over]"
	case v.Warned:
		state = " [soon]"
	}
	return fmt.Sprintf("%s %s / %s %s%s %s", v.ID, v.Group(), v.Entity(), clock, state, v.Spec.ItemNames())
}

func overtimeLabel(sec int) string {
	switch {
	case sec > 0:
		return "+" + engine.FormatClock(sec) + " over"
	case sec < 0:
		return engine.FormatClock(-sec) + " early"
	default:
		return "on time"
	}
}

func text(lines ...string) kit.Reply { return kit.Reply{Text: strings.Join(lines, "\n")} }
