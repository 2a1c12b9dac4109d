package transport

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestOutbox_Push(t *testing.T) {
	o := NewOutbox("conn-a", 4)
	require.NoError(t, o.Push(`{"type":"doc"}`))
	assert.Equal(t, `{"type":"doc"}`, <-o.Messages())
}

func TestOutbox_PushClosed(t *testing.T) {
	o := NewOutbox("conn-a", 4)
	o.Close()
	assert.True(t, o.IsClosed())

	err := o.Push("late")
	assert.ErrorIs(t, err, ErrOutboxClosed)
	assert.Contains(t, err.Error(), "conn-a")
}

func TestOutbox_PushFull(t *testing.T) {
	o := NewOutbox("conn-a", 1)
	require.NoError(t, o.Push("first"))
	assert.ErrorIs(t, o.Push("overflow"), ErrOutboxFull)
}

func TestOutbox_CloseIdempotent(t *testing.T) {
	o := NewOutbox("conn-a", 4)
	o.Close()
	o.Close()
	assert.True(t, o.IsClosed())

	_, open := <-o.Messages()
	assert.False(t, open)
}

func TestOutbox_DrainsQueuedAfterClose(t *testing.T) {
	o := NewOutbox("conn-a", 4)
	require.NoError(t, o.Push("a"))
	require.NoError(t, o.Push("b"))
	o.Close()

	var got []string
	for msg := range o.Messages() {
		got = append(got, msg)
	}
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestOutbox_DefaultSize(t *testing.T) {
	o := NewOutbox("conn-a", 0)
	assert.Equal(t, 64, cap(o.queue))
}

func TestOutbox_ConcurrentPushAndClose(t *testing.T) {
	o := NewOutbox("conn-a", 8)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := o.Push("x")
			if err != nil && !errors.Is(err, ErrOutboxFull) && !errors.Is(err, ErrOutboxClosed) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	o.Close()
	wg.Wait()
}

// Property: the queue preserves push order and never exceeds its capacity.
func TestPropertyOutboxFIFO(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		size := rapid.IntRange(1, 16).Draw(t, "size")
		msgs := rapid.SliceOf(rapid.StringMatching(`[a-z]{1,4}`)).Draw(t, "msgs")

		o := NewOutbox("conn-p", size)
		var accepted []string
		for _, m := range msgs {
			if err := o.Push(m); err == nil {
				accepted = append(accepted, m)
			}
		}
		if len(accepted) > size {
			t.Fatalf("accepted %d messages into a queue of %d", len(accepted), size)
		}
		o.Close()

		i := 0
		for got := range o.Messages() {
			if got != accepted[i] {
				t.Fatalf("position %d: got %q want %q", i, got, accepted[i])
			}
			i++
		}
	})
}
