package reminder

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notificationbot/internal/eventbus"
	"notificationbot/internal/transport"
)

func newTestService(t *testing.T) (*Service, *Registry) {
	t.Helper()
	reg, _ := newTestRegistry(t, &fakeNotifier{})
	return NewService(reg, nil, nil), reg
}

func TestServiceCreateParsesInterval(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	r, err := svc.Create("standup", chat, CreateRequest{Text: "Standup!", Magnitude: "15", Unit: "min"})
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, r.Interval().Duration)
	assert.False(t, r.Running(), "new reminders start stopped")

	_, err = svc.Create("bad", chat, CreateRequest{Magnitude: "soon"})
	assert.True(t, errors.Is(err, ErrInvalidInterval))
	assert.Equal(t, []string{"standup"}, svc.List(), "a rejected create inserts nothing")
}

func TestServiceStartRequiresTextAndInterval(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	_, err := svc.Create("r", chat, CreateRequest{})
	require.NoError(t, err)

	assert.True(t, errors.Is(svc.Start("r"), ErrNotReady))
	require.NoError(t, svc.SetText("r", "hello"))
	assert.True(t, errors.Is(svc.Start("r"), ErrNotReady))

	_, err = svc.SetInterval("r", "1", "second")
	assert.True(t, errors.Is(err, ErrInvalidInterval))

	iv, err := svc.SetInterval("r", "daily", "")
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, iv.Duration)

	require.NoError(t, svc.Start("r"))
	st, err := svc.Status("r")
	require.NoError(t, err)
	assert.True(t, st.Running)

	require.NoError(t, svc.Stop("r"))
	st, _ = svc.Status("r")
	assert.False(t, st.Running)
}

func TestServiceUnknownKey(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	checks := map[string]error{
		"Delete":  svc.Delete("nope"),
		"SetText": svc.SetText("nope", "x"),
		"SetLink": svc.SetLink("nope", "x"),
		"Start":   svc.Start("nope"),
		"Stop":    svc.Stop("nope"),
		"Rebind":  svc.Rebind("nope", chat),
	}
	_, checks["SetInterval"] = svc.SetInterval("nope", "5", "min")
	_, checks["Status"] = svc.Status("nope")
	for name, err := range checks {
		assert.True(t, errors.Is(err, ErrNotFound), name)
	}
}

func TestServiceSetIntervalFailureKeepsOld(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	_, err := svc.Create("r", chat, CreateRequest{Magnitude: "hourly"})
	require.NoError(t, err)

	_, err = svc.SetInterval("r", "abc", "")
	require.Error(t, err)
	st, _ := svc.Status("r")
	assert.Equal(t, time.Hour, st.Interval)
	assert.Equal(t, "hourly", st.IntervalStr)
}

func TestServiceStatusAndRebind(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	_, err := svc.Create("r", chat, CreateRequest{Text: "t", Link: "l", Magnitude: "5", Unit: "minutes"})
	require.NoError(t, err)
	require.NoError(t, svc.SetTextAndLink("r", "new text", "https://x.example"))

	other := transport.ChatTarget{ChatID: -100, ThreadID: 7}
	require.NoError(t, svc.Rebind("r", other))

	st, err := svc.Status("r")
	require.NoError(t, err)
	assert.Equal(t, "new text", st.Text)
	assert.Equal(t, "https://x.example", st.Link)
	assert.Equal(t, "minute", st.UnitLabel)
	assert.Equal(t, "5 minutes", st.IntervalStr)
	assert.Equal(t, other, st.Destination)
	assert.True(t, st.LastFired.IsZero())

	all := svc.Statuses()
	require.Len(t, all, 1)
	assert.Equal(t, st, all[0])
}

func TestServicePublishesChanges(t *testing.T) {
	t.Parallel()
	reg, _ := newTestRegistry(t, &fakeNotifier{})
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(8)
	defer unsub()
	svc := NewService(reg, nil, bus)

	_, err := svc.Create("r", chat, CreateRequest{})
	require.NoError(t, err)
	require.NoError(t, svc.Delete("r"))

	for _, op := range []string{"create", "delete"} {
		ev := <-ch
		assert.Equal(t, eventbus.ReminderChanged, ev.Type)
		assert.Equal(t, ChangeEvent{Key: "r", Op: op}, ev.Data)
	}
}

func TestServiceStartExplainsShortInterval(t *testing.T) {
	t.Parallel()
	reg := NewRegistry(&fakeNotifier{}, WithTick(2*time.Hour))
	svc := NewService(reg, nil, nil)
	r, err := reg.Create("hourly", chat, CreateOptions{Text: "ping"})
	require.NoError(t, err)

	err = svc.Start("hourly")
	require.True(t, errors.Is(err, ErrNotReady))
	assert.Contains(t, err.Error(), "has no interval")

	r.SetInterval(Interval{Duration: time.Hour, Magnitude: 1, Unit: "hour"})
	err = svc.Start("hourly")
	require.True(t, errors.Is(err, ErrNotReady))
	assert.Contains(t, err.Error(), "must be longer than the tick")
	assert.NotContains(t, err.Error(), "no interval")
	assert.False(t, r.Running())
}
