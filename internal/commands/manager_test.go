package commands

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"notificationbot/internal/reminder"
	"notificationbot/internal/storage"
	kit "notificationbot/internal/transport"
	logx "notificationbot/pkg/logx"
)

const testChat = int64(-100)

type sentText struct {
	to   kit.ChatTarget
	text string
}

type fakeAdapter struct {
	mu   sync.Mutex
	sent []sentText
	menu []kit.BotCommand
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentText{to: to, text: text})
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	f.mu.Lock()
	f.menu = cmds
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeAdapter) at(i int) (sentText, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.sent) {
		return sentText{}, false
	}
	return f.sent[i], true
}

type harness struct {
	m       *CommandManager
	svc     *reminder.Service
	reg     *reminder.Registry
	clk     *clock.Mock
	ad      *fakeAdapter
	updates chan kit.Update
}

func newHarness(t *testing.T, owners []int64, store storage.Store) *harness {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))
	noop := reminder.NotifierFunc(func(context.Context, kit.ChatTarget, string) error { return nil })
	reg := reminder.NewRegistry(noop, reminder.WithClock(clk))
	h := &harness{
		svc:     reminder.NewService(reg, nil, nil),
		reg:     reg,
		clk:     clk,
		ad:      &fakeAdapter{},
		updates: make(chan kit.Update),
	}
	h.m = NewCommandManager(logx.Nop(), h.ad, owners)
	h.m.SetRegistry(ReminderCommands(Deps{Reminders: h.svc, Audit: store}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = h.m.DispatchLoop(ctx, h.updates)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

// send delivers one message from user and returns the first reply to it.
func (h *harness) send(t *testing.T, from int64, text string) string {
	t.Helper()
	before := h.ad.count()
	h.updates <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ChatID: testChat, FromID: from, FromUsername: "alice", Text: text,
	}}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s, ok := h.ad.at(before); ok {
			if s.to.ChatID != testChat {
				t.Fatalf("reply went to %d", s.to.ChatID)
			}
			return s.text
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no reply to %q", text)
	return ""
}

func mustContain(t *testing.T, got, want string) {
	t.Helper()
	if !strings.Contains(got, want) {
		t.Fatalf("reply %q does not contain %q", got, want)
	}
}

func TestReminderLifecycle(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil, nil)

	mustContain(t, h.send(t, 1, "/create standup 1 minute"), `created "standup" (1 minute)`)
	mustContain(t, h.send(t, 1, "/start standup"), "has no text")
	mustContain(t, h.send(t, 1, `/set standup "Daily standup" https://meet.example/abc`), "set: Daily standup and https://meet.example/abc")
	mustContain(t, h.send(t, 1, "/start standup"), `started "standup" (1 minute)`)

	r, err := h.reg.Lookup("standup")
	if err != nil {
		t.Fatal(err)
	}
	if r.Destination().ChatID != testChat {
		t.Fatalf("destination = %+v", r.Destination())
	}
	if _, err := r.Fire(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.clk.Add(20 * time.Second)

	st := h.send(t, 1, "/status standup")
	mustContain(t, st, "standup: running")
	mustContain(t, st, "text: Daily standup")
	mustContain(t, st, "last sent: 20 seconds ago")
	mustContain(t, st, "next: 40 seconds from now")

	mustContain(t, h.send(t, 1, "/stop standup"), `stopped "standup"`)
	mustContain(t, h.send(t, 1, "/list"), "• standup [stopped] 1 minute - Daily standup")
	mustContain(t, h.send(t, 1, "/rm standup"), `deleted "standup"`)
	mustContain(t, h.send(t, 1, "/status standup"), "no such reminder")
}

func TestTextKeepsFreeForm(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil, nil)
	h.send(t, 1, "/create standup")
	mustContain(t, h.send(t, 1, "/text standup don't --forget the notes"), "set: don't --forget the notes")
	st, err := h.svc.Status("standup")
	if err != nil {
		t.Fatal(err)
	}
	if st.Text != "don't --forget the notes" {
		t.Fatalf("text = %q", st.Text)
	}
}

func TestIntervalReplies(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil, nil)
	h.send(t, 1, "/create standup --text hi")

	mustContain(t, h.send(t, 1, "/interval standup daily"), `interval of "standup" set to daily`)
	mustContain(t, h.send(t, 1, "/every standup @every 1h30m"), "5400 seconds")
	mustContain(t, h.send(t, 1, "/interval standup soon"), `"soon" is not a number`)
	mustContain(t, h.send(t, 1, "/interval standup 1"), "too short")
	mustContain(t, h.send(t, 1, "/interval standup -5 minutes"), "too short")
	mustContain(t, h.send(t, 1, "/interval standup"), "usage: /interval")

	st, _ := h.svc.Status("standup")
	if st.Interval != 90*time.Minute {
		t.Fatalf("interval = %v, want the last valid value", st.Interval)
	}
}

func TestCreateErrors(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil, nil)
	h.send(t, 1, "/create standup")
	mustContain(t, h.send(t, 1, "/create standup"), "already exists")
	mustContain(t, h.send(t, 1, "/create"), "usage: /create")
	mustContain(t, h.send(t, 1, "/set standup only-text"), "usage: /set")
}

func TestOwnerOnlyCommands(t *testing.T) {
	t.Parallel()
	h := newHarness(t, []int64{1}, nil)

	mustContain(t, h.send(t, 2, "/create standup"), "unauthorized")
	mustContain(t, h.send(t, 1, "/create standup"), "created")
	// read-only commands stay open
	mustContain(t, h.send(t, 2, "/list"), "standup")

	h.m.SetOwners([]int64{2})
	mustContain(t, h.send(t, 2, "/delete standup"), "deleted")
}

func TestUnknownCommandAndHelp(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil, nil)
	mustContain(t, h.send(t, 1, "/nope"), "unknown command")
	top := h.send(t, 1, "/help")
	mustContain(t, top, "<code>/list</code>")
	mustContain(t, top, "🔒 <code>/create</code>")
	mustContain(t, h.send(t, 1, "/help@my_bot create"), "<b>Usage</b>")
}

func TestMutationsAreAudited(t *testing.T) {
	t.Parallel()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	h := newHarness(t, nil, st)

	h.send(t, 7, "/create standup")
	h.send(t, 7, "/start standup")
	h.send(t, 7, "/list")

	entries, err := st.RecentAudit(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %+v, want 2 (read-only commands are not audited)", entries)
	}
	start, create := entries[0], entries[1]
	if create.Action != "create" || !create.OK || create.ActorID != 7 || create.ActorUsername != "alice" || create.ChatID != testChat {
		t.Fatalf("create entry = %+v", create)
	}
	if create.RequestID == "" {
		t.Fatal("missing request id")
	}
	if start.Action != "start" || start.OK || !strings.Contains(start.Error, "not ready") {
		t.Fatalf("start entry = %+v", start)
	}

	mustContain(t, h.send(t, 7, "/audit 1"), "start standup FAILED by @alice")
}

func TestMenu(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	m := NewCommandManager(logx.Nop(), ad, nil)
	m.SetRegistry([]Command{
		{Route: "list", Description: "list things", Handle: func(context.Context, *Request) error { return nil }},
		{Route: "audit recent", Description: "recent", Access: AccessOwnerOnly, Handle: func(context.Context, *Request) error { return nil }},
	})
	if err := m.UpdateMenu(context.Background()); err != nil {
		t.Fatal(err)
	}
	got := map[string]string{}
	for _, c := range ad.menu {
		got[c.Command] = c.Description
	}
	if got["list"] != "list things" || got["help"] != "show commands" {
		t.Fatalf("menu = %v", got)
	}
	if got["audit_recent"] != "🔒 recent" {
		t.Fatalf("menu = %v", got)
	}
	if _, ok := got["audit"]; !ok {
		t.Fatalf("group entry missing: %v", got)
	}
}
