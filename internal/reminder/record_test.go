package reminder

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFireComposesTextAndLink(t *testing.T) {
	t.Parallel()
	n := &fakeNotifier{}
	reg, mock := newTestRegistry(t, n)
	r := ready(t, reg, "standup", 5*time.Second)
	r.SetLink("https://meet.example/standup")

	ok, err := r.Fire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	sent := n.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "standup text\nhttps://meet.example/standup", sent[0].Text)
	assert.Equal(t, chat, sent[0].To)
	assert.Equal(t, mock.Now(), r.LastFired())

	r.SetLink("")
	_, err = r.Fire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "standup text\n", n.Sent()[1].Text)
}

func TestFireWithoutTextDoesNothing(t *testing.T) {
	t.Parallel()
	n := &fakeNotifier{}
	reg, _ := newTestRegistry(t, n)
	r, err := reg.Create("empty", chat, CreateOptions{Interval: Interval{Duration: time.Minute}})
	require.NoError(t, err)
	r.SetRunning(true)

	ok, err := r.Fire(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, n.Sent())
	assert.True(t, r.LastFired().IsZero())
}

func TestFireFailureStillStamps(t *testing.T) {
	t.Parallel()
	n := &fakeNotifier{err: errBoom}
	reg, mock := newTestRegistry(t, n)
	r := ready(t, reg, "flaky", 5*time.Second)

	ok, err := r.Fire(context.Background())
	assert.True(t, ok)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDeliveryFailed))
	assert.True(t, errors.Is(err, errBoom))
	assert.Equal(t, mock.Now(), r.LastFired())
	assert.True(t, r.Running(), "a failed send must not stop the reminder")
}

func TestLastFiredIsMonotonic(t *testing.T) {
	t.Parallel()
	reg, mock := newTestRegistry(t, &fakeNotifier{})
	r := ready(t, reg, "mono", 5*time.Second)

	_, _ = r.Fire(context.Background())
	first := r.LastFired()

	mock.Add(-time.Minute) // clock steps backwards
	_, _ = r.Fire(context.Background())
	assert.Equal(t, first, r.LastFired())
}

func TestDue(t *testing.T) {
	t.Parallel()
	reg, mock := newTestRegistry(t, &fakeNotifier{})
	r := ready(t, reg, "due", 5*time.Second)
	t0 := mock.Now()

	assert.True(t, r.Due(t0), "never fired reminders are due at once")

	_, _ = r.Fire(context.Background())
	assert.False(t, r.Due(t0.Add(4999*time.Millisecond)))
	assert.True(t, r.Due(t0.Add(5*time.Second)))

	r.SetRunning(false)
	assert.False(t, r.Due(t0.Add(time.Hour)), "stopped reminders are never due")

	r.SetRunning(true)
	r.SetText("")
	assert.False(t, r.Due(t0.Add(time.Hour)), "reminders without text are never due")

	r.SetText("back")
	r.SetInterval(Interval{Duration: time.Second})
	assert.False(t, r.Due(t0.Add(time.Hour)), "interval must exceed the tick")
}

func TestSetIntervalKeepsLastFired(t *testing.T) {
	t.Parallel()
	reg, mock := newTestRegistry(t, &fakeNotifier{})
	r := ready(t, reg, "shrink", time.Hour)
	_, _ = r.Fire(context.Background())
	t0 := r.LastFired()

	mock.Add(10 * time.Second)
	assert.False(t, r.Due(mock.Now()))
	r.SetInterval(Interval{Duration: 5 * time.Second})
	assert.Equal(t, t0, r.LastFired())
	assert.True(t, r.Due(mock.Now()))
	assert.Equal(t, t0.Add(5*time.Second), r.NextDue())
}

// Run with -race: concurrent edits and fires must not tear the message.
func TestConcurrentSetTextAndFire(t *testing.T) {
	t.Parallel()
	n := &fakeNotifier{}
	reg, _ := newTestRegistry(t, n)
	r := ready(t, reg, "race", 5*time.Second)

	texts := []string{"alpha", "bravo", "charlie", "delta"}
	var wg sync.WaitGroup
	for i := range 4 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := range 200 {
				r.SetText(texts[(i+j)%len(texts)])
			}
		}()
		go func() {
			defer wg.Done()
			for range 200 {
				_, _ = r.Fire(context.Background())
			}
		}()
	}
	wg.Wait()

	valid := map[string]bool{"race text": true}
	for _, s := range texts {
		valid[s] = true
	}
	sent := n.Sent()
	require.NotEmpty(t, sent)
	for _, m := range sent {
		text, link, found := strings.Cut(m.Text, "\n")
		require.True(t, found)
		assert.Empty(t, link)
		assert.True(t, valid[text], "torn message %q", m.Text)
	}
}
