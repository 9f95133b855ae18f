package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueSerializesPerKey(t *testing.T) {
	q := newQueue()
	ctx := context.Background()

	release, err := q.acquire(ctx, "kb-1")
	require.NoError(t, err)

	other, err := q.acquire(ctx, "kb-2")
	require.NoError(t, err, "different keys do not block each other")
	other()

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = q.acquire(waitCtx, "kb-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	acquired := make(chan func())
	go func() {
		next, err := q.acquire(ctx, "kb-1")
		if err == nil {
			acquired <- next
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held key")
	case <-time.After(20 * time.Millisecond):
	}

	release()
	release()

	next := <-acquired
	next()
	assert.Equal(t, 0, q.size(), "idle slots are dropped")
}
