package reminder

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateDuplicateKeepsOriginal(t *testing.T) {
	t.Parallel()
	reg, _ := newTestRegistry(t, &fakeNotifier{})

	first, err := reg.Create("standup", chat, CreateOptions{Text: "first"})
	require.NoError(t, err)

	_, err = reg.Create("standup", chat, CreateOptions{Text: "second"})
	require.True(t, errors.Is(err, ErrDuplicateKey))

	got, err := reg.Lookup("standup")
	require.NoError(t, err)
	assert.Same(t, first, got)
	assert.Equal(t, "first", got.Text())
	assert.Equal(t, 1, reg.Len())
}

func TestConcurrentCreateSameKey(t *testing.T) {
	t.Parallel()
	reg, _ := newTestRegistry(t, &fakeNotifier{})

	var ok, dup atomic.Int32
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := reg.Create("same", chat, CreateOptions{}); err == nil {
				ok.Add(1)
			} else if errors.Is(err, ErrDuplicateKey) {
				dup.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, ok.Load())
	assert.EqualValues(t, 15, dup.Load())
}

func TestDeleteAndLookup(t *testing.T) {
	t.Parallel()
	reg, _ := newTestRegistry(t, &fakeNotifier{})
	r, err := reg.Create("gone", chat, CreateOptions{})
	require.NoError(t, err)

	require.NoError(t, reg.Delete("gone"))
	assert.True(t, r.Removed())

	_, err = reg.Lookup("gone")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(reg.Delete("gone"), ErrNotFound))

	// The key is free again.
	_, err = reg.Create("gone", chat, CreateOptions{})
	require.NoError(t, err)
}

func TestSnapshotKeepsInsertionOrder(t *testing.T) {
	t.Parallel()
	reg, _ := newTestRegistry(t, &fakeNotifier{})
	for i := range 5 {
		_, err := reg.Create(fmt.Sprintf("k%d", i), chat, CreateOptions{})
		require.NoError(t, err)
	}
	require.NoError(t, reg.Delete("k2"))

	assert.Equal(t, []string{"k0", "k1", "k3", "k4"}, reg.Keys())

	snap := reg.Snapshot()
	require.Len(t, snap, 4)
	assert.Equal(t, "k3", snap[2].Key())

	// Mutating the registry does not change a snapshot already taken.
	_, err := reg.Create("k5", chat, CreateOptions{})
	require.NoError(t, err)
	assert.Len(t, snap, 4)
}

func TestValidateKey(t *testing.T) {
	t.Parallel()
	for _, k := range []string{"standup", "team-sync_2", "日报", strings.Repeat("日", 64)} {
		assert.NoError(t, ValidateKey(k), k)
	}
	for _, k := range []string{"", "has space", "tab\there", string(make([]byte, 65)), strings.Repeat("日", 65), strings.Repeat("a", 65)} {
		assert.True(t, errors.Is(ValidateKey(k), ErrInvalidKey), "%q", k)
	}
}
