package workerpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClampsNonPositiveSizeToOne(t *testing.T) {
	p := New(0)
	assert.Equal(t, 1, cap(p.sem))
}

func TestDispatchReturnsResultAndError(t *testing.T) {
	p := New(2)
	result, err := Dispatch(context.Background(), p, func() (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, result)
}

func TestDispatchLimitsConcurrency(t *testing.T) {
	p := New(1)
	var active int32
	var maxActive int32

	run := func() (int, error) {
		n := atomic.AddInt32(&active, 1)
		if n > atomic.LoadInt32(&maxActive) {
			atomic.StoreInt32(&maxActive, n)
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return 0, nil
	}

	done := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, _ = Dispatch(context.Background(), p, run)
			done <- struct{}{}
		}()
	}
	<-done
	<-done

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxActive))
}

func TestDispatchReturnsContextErrorWhenCancelledBeforeSlot(t *testing.T) {
	p := New(1)
	p.sem <- struct{}{} // occupy the only slot

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Dispatch(ctx, p, func() (int, error) {
		t.Fatal("fn should not run when context is already cancelled and no slot is free")
		return 0, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDispatchReturnsContextErrorWhenCancelledWhileWaitingForSlot(t *testing.T) {
	p := New(1)
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_, _ = Dispatch(context.Background(), p, func() (int, error) {
			close(started)
			<-release
			return 0, nil
		})
	}()
	<-started

	errCh := make(chan error, 1)
	go func() {
		_, err := Dispatch(ctx, p, func() (int, error) {
			return 1, nil
		})
		errCh <- err
	}()
	cancel()

	err := <-errCh
	assert.ErrorIs(t, err, context.Canceled)
	close(release)
}
