package rtc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConnectFuture(t *testing.T) {
	t.Run("pending until written", func(t *testing.T) {
		f := newConnectFuture()
		require.False(t, f.IsDone())
		_, err := f.Result()
		require.ErrorIs(t, err, ErrConnectPending)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, err = f.Wait(ctx)
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("written once", func(t *testing.T) {
		room := NewRoom(nil)
		f := newConnectFuture()
		require.True(t, f.resolve(room))
		require.False(t, f.reject(errors.New("late")))
		require.False(t, f.resolve(nil))

		select {
		case <-f.Done():
		default:
			t.Fatal("future should be done")
		}
		r, err := f.Wait(context.Background())
		require.NoError(t, err)
		require.Same(t, room, r)
	})

	t.Run("rejected", func(t *testing.T) {
		cause := errors.New("refused")
		f := FailedConnectFuture(cause)
		require.True(t, f.IsDone())
		r, err := f.Result()
		require.Nil(t, r)
		require.ErrorIs(t, err, cause)
	})

	t.Run("wait wakes on write", func(t *testing.T) {
		f := newConnectFuture()
		go func() {
			time.Sleep(5 * time.Millisecond)
			f.reject(ErrDisconnected)
		}()
		_, err := f.Wait(context.Background())
		require.ErrorIs(t, err, ErrDisconnected)
	})
}
