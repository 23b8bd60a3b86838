package backend

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotLifecycle(t *testing.T) {
	s := NewSlot(64, "buf")
	assert.Equal(t, 64, s.Size())
	assert.Equal(t, 1, s.Refs())

	require.NoError(t, s.Retain())
	assert.Equal(t, 2, s.Refs())

	last, err := s.Release()
	require.NoError(t, err)
	assert.False(t, last)

	last, err = s.Release()
	require.NoError(t, err)
	assert.True(t, last)

	// Every operation on a freed slot is a SlotError.
	_, err = s.Handle()
	var se *SlotError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, s.ID(), se.ID)

	assert.Error(t, s.Retain())
	_, err = s.Release()
	assert.Error(t, err)
}

func TestFutureResolve(t *testing.T) {
	f := NewFuture()
	go func() {
		time.Sleep(time.Millisecond)
		f.Complete([]byte{1, 2}, nil)
	}()
	data, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, data)

	// Resolved futures return immediately.
	data, err = Resolved([]byte{3}, nil).Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte{3}, data)
}

func TestFutureCancellation(t *testing.T) {
	f := NewFuture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemStatsString(t *testing.T) {
	m := MemStats{LiveSlots: 2, LiveBytes: 2048, PeakBytes: 1 << 20}
	assert.Contains(t, m.String(), "2 slots")
	assert.Contains(t, m.String(), "KiB")
}
