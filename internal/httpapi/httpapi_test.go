package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notificationbot/internal/notifier"
	"notificationbot/internal/reminder"
	rtsup "notificationbot/internal/runtime/supervisor"
	"notificationbot/internal/storage"
	"notificationbot/internal/transport"
	logx "notificationbot/pkg/logx"
)

type fakeHistory []notifier.HistoryItem

func (f fakeHistory) History() []notifier.HistoryItem { return f }

func newDeps(t *testing.T) Deps {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))
	noop := reminder.NotifierFunc(func(context.Context, transport.ChatTarget, string) error { return nil })
	reg := reminder.NewRegistry(noop, reminder.WithClock(clk))
	svc := reminder.NewService(reg, nil, nil)

	_, err := svc.Create("standup", transport.ChatTarget{ChatID: -100, ThreadID: 3}, reminder.CreateRequest{
		Text: "Daily standup", Magnitude: "daily",
	})
	require.NoError(t, err)
	require.NoError(t, svc.Start("standup"))
	_, err = svc.Create("draft", transport.ChatTarget{ChatID: 5}, reminder.CreateRequest{})
	require.NoError(t, err)

	return Deps{Reminders: svc, Dispatcher: reminder.NewDispatcher(reg)}
}

func get(t *testing.T, h http.Handler, target string, out any) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec
}

func TestReminderEndpoints(t *testing.T) {
	t.Parallel()
	h := New(Config{}, newDeps(t), logx.Nop()).Handler()

	var list []reminder.Status
	rec := get(t, h, "/reminders", &list)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, list, 2)
	assert.Equal(t, "standup", list[0].Key)
	assert.Equal(t, "draft", list[1].Key)
	assert.True(t, list[0].Running)
	assert.Equal(t, 24*time.Hour, list[0].Interval)
	assert.Equal(t, "daily", list[0].IntervalStr)

	var one reminder.Status
	rec = get(t, h, "/reminders/standup", &one)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Daily standup", one.Text)
	assert.Equal(t, transport.ChatTarget{ChatID: -100, ThreadID: 3}, one.Destination)

	var e errorBody
	rec = get(t, h, "/reminders/nope", &e)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, e.Error, "not found")
	assert.NotEmpty(t, e.RequestID)
}

func TestHealth(t *testing.T) {
	t.Parallel()
	deps := newDeps(t)
	sup := rtsup.New(context.Background())
	defer sup.Cancel()
	sup.Go0("idle", func(ctx context.Context) { <-ctx.Done() })
	deps.Goroutines = sup.Counters
	h := New(Config{}, deps, logx.Nop()).Handler()

	var out health
	rec := get(t, h, "/healthz", &out)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", out.Status)
	assert.Equal(t, 2, out.Reminders)
	require.NotNil(t, out.Dispatcher)
	assert.False(t, out.Dispatcher.Running)
	require.NotNil(t, out.Goroutines)
	assert.Equal(t, uint64(1), out.Goroutines.Started)
}

func TestAuditEndpoint(t *testing.T) {
	t.Parallel()
	deps := newDeps(t)

	rec := get(t, New(Config{}, deps, logx.Nop()).Handler(), "/audit", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()
	for _, a := range []string{"create", "start", "delete"} {
		require.NoError(t, st.AppendAudit(ctx, storage.AuditEntry{Action: a, Key: "standup", OK: true}))
	}
	deps.Audit = st
	h := New(Config{}, deps, logx.Nop()).Handler()

	var entries []storage.AuditEntry
	rec = get(t, h, "/audit?limit=2", &entries)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, entries, 2)
	assert.Equal(t, "delete", entries[0].Action)

	for _, bad := range []string{"0", "-1", "abc", "1001"} {
		rec = get(t, h, "/audit?limit="+bad, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}
}

func TestDeliveries(t *testing.T) {
	t.Parallel()
	deps := newDeps(t)

	var items []notifier.HistoryItem
	get(t, New(Config{}, deps, logx.Nop()).Handler(), "/deliveries", &items)
	assert.Empty(t, items)

	deps.Deliveries = fakeHistory{{ChatID: -100, Text: "Daily standup\n", Attempts: 2, Error: "timeout"}}
	get(t, New(Config{}, deps, logx.Nop()).Handler(), "/deliveries", &items)
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].Attempts)
}

func TestBearerAuth(t *testing.T) {
	t.Parallel()
	h := New(Config{Token: "s3cret"}, newDeps(t), logx.Nop()).Handler()

	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/reminders", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/reminders?token=wrong", nil).Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/reminders?token=s3cret", nil).Code)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPprofIsOptIn(t *testing.T) {
	t.Parallel()
	deps := newDeps(t)
	assert.Equal(t, http.StatusNotFound, get(t, New(Config{}, deps, logx.Nop()).Handler(), "/debug/pprof/", nil).Code)
	assert.Equal(t, http.StatusOK, get(t, New(Config{Pprof: true}, deps, logx.Nop()).Handler(), "/debug/pprof/", nil).Code)
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	s := New(Config{Addr: "127.0.0.1:0"}, newDeps(t), logx.Nop())
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()), "second Start is a no-op")
	addr := s.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.Empty(t, s.Addr())
	require.NoError(t, s.Stop(ctx))
}

func TestRefusesInsecureBind(t *testing.T) {
	t.Parallel()
	s := New(Config{Addr: "0.0.0.0:0"}, newDeps(t), logx.Nop())
	require.ErrorIs(t, s.Start(context.Background()), ErrInsecureBind)

	assert.True(t, isLoopbackAddr("localhost:80"))
	assert.True(t, isLoopbackAddr("[::1]:80"))
	assert.False(t, isLoopbackAddr(":80"))
	assert.False(t, isLoopbackAddr("10.0.0.1:80"))
}
