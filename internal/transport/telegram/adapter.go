package telegram

import (
	"bytes"
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"chekitimer/internal/notifier"
	rtsup "chekitimer/internal/runtime/supervisor"
	kit "chekitimer/internal/transport"
	logx "chekitimer/pkg/logx"
)

// Config configures the bot connection.
type Config struct {
	Token        string
	PollTimeout  time.Duration
	OwnerUserIDs []int64
	// AlertChat receives engine alerts. A zero ChatID disables SendAlert.
	AlertChat kit.ChatTarget
	// HandlerTimeout bounds one command (default 30s).
	HandlerTimeout time.Duration
}

// botAPI is the part of *tele.Bot used for outgoing messages.
type botAPI interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Adapter connects Commands to Telegram long polling.
type Adapter struct {
	cfg     Config
	log     logx.Logger
	bot     *tele.Bot
	api     botAPI
	handler HandlerFunc

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	inflight sync.WaitGroup
	handled  atomic.Uint64

	menuMu   sync.Mutex
	menuHash uint64
}

var _ notifier.Sender = (*Adapter)(nil)

// New builds the bot. Commands from anyone outside cfg.OwnerUserIDs are
// ignored.
func New(cfg Config, cmds *Commands, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "telegram"))

	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout},
		OnError: func(err error, c tele.Context) {
			log.Warn("telebot error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	a := &Adapter{cfg: cfg, log: log, bot: b, api: b}
	a.handler = Chain(cmds.Handle,
		MWRequestLog(log),
		MWPanicRecover(log),
		MWOwnerOnly(cfg.OwnerUserIDs, log),
		MWTimeout(cfg.HandlerTimeout),
	)
	a.bot.Handle(tele.OnText, a.onText)
	return a, nil
}

// Supervisor returns the adapter's internal supervisor (nil if not started).
func (a *Adapter) Supervisor() *rtsup.Supervisor {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.sup
}

func (a *Adapter) onText(c tele.Context) error {
	m := c.Message()
	if m == nil || m.Sender == nil || !strings.HasPrefix(m.Text, "/") {
		return nil
	}
	a.runMu.Lock()
	sup := a.sup
	a.runMu.Unlock()
	if sup == nil {
		return nil
	}

	a.inflight.Add(1)
	defer a.inflight.Done()
	msg := kit.Message{
		ID:           m.ID,
		ChatID:       m.Chat.ID,
		ThreadID:     m.ThreadID,
		FromID:       m.Sender.ID,
		FromUsername: m.Sender.Username,
		Text:         m.Text,
	}
	a.handle(sup.Context(), msg)
	return nil
}

func (a *Adapter) handle(ctx context.Context, msg kit.Message) {
	a.handled.Add(1)
	rep, err := a.handler(ctx, msg)
	if err != nil {
		rep.Text = strings.TrimSpace(rep.Text + "\n❌ " + err.Error())
	}
	if rep.Text == "" && len(rep.Documents) == 0 {
		return
	}
	to := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	if err := a.deliver(ctx, to, rep); err != nil {
		a.log.Warn("reply failed", logx.Int64("chat_id", msg.ChatID), logx.Err(err))
	}
}

// Start launches polling under a restart loop. It is idempotent.
func (a *Adapter) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(a.log),
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// Start blocks until Stop; an early return while the context is live is
	// a failure worth restarting.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		if c.Err() != nil {
			return nil
		}
		return errors.New("telebot poller exited")
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
	)
	return nil
}

// Stop ends polling. Never blocks shutdown on a pending long poll for more
// than a short grace window.
func (a *Adapter) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	a.runMu.Unlock()
	if !wasRunning || sup == nil {
		return nil
	}

	a.log.Info("stopping", logx.Uint64("handled", a.handled.Load()))
	sup.Cancel()
	go a.bot.Stop()

	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Wait(wctx); err != nil && wctx.Err() != nil {
		a.log.Warn("telegram stop timed out", logx.Err(err))
	}

	done := make(chan struct{})
	go func() {
		a.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-wctx.Done():
	}
	return nil
}

// SendAlert implements notifier.Sender.
func (a *Adapter) SendAlert(ctx context.Context, text string) error {
	if a.cfg.AlertChat.ChatID == 0 {
		return errors.New("telegram alert chat not configured")
	}
	return a.deliver(ctx, a.cfg.AlertChat, kit.Reply{Text: text})
}

func (a *Adapter) deliver(ctx context.Context, to kit.ChatTarget, rep kit.Reply) error {
	chat := &tele.Chat{ID: to.ChatID}
	if rep.Text != "" {
		for _, chunk := range splitTelegramText(rep.Text, telegramTextLimit) {
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, err := a.api.Send(chat, chunk, &tele.SendOptions{ThreadID: to.ThreadID, DisableWebPagePreview: true}); err != nil {
				return err
			}
		}
	}
	for _, d := range rep.Documents {
		if err := ctx.Err(); err != nil {
			return err
		}
		doc := &tele.Document{
			File:     tele.FromReader(bytes.NewReader(d.Data)),
			FileName: d.Name,
			MIME:     d.MIME,
			Caption:  d.Caption,
		}
		if _, err := a.api.Send(chat, doc, &tele.SendOptions{ThreadID: to.ThreadID}); err != nil {
			return err
		}
	}
	return nil
}

// UpdateMenuCommands sets the bot command list. It only calls Telegram when
// the list changed since the last successful call.
func (a *Adapter) UpdateMenuCommands(cmds []kit.BotCommand) error {
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	h := fnv.New64a()
	out := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		_, _ = h.Write([]byte(c.Command))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(c.Description))
		_, _ = h.Write([]byte{0})
		out = append(out, tele.Command{Text: c.Command, Description: c.Description})
	}
	sum := h.Sum64()
	if sum == a.menuHash {
		return nil
	}
	if err := a.bot.SetCommands(out); err != nil {
		return err
	}
	a.menuHash = sum
	a.log.Info("menu commands updated", logx.Int("count", len(out)))
	return nil
}

const telegramTextLimit = 4000

// splitTelegramText splits long messages into chunks Telegram accepts,
// preferring newline boundaries.
func splitTelegramText(s string, limit int) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				// Avoid extremely small chunks.
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
