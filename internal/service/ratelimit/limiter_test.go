package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

func newTestLimiter() (*Limiter, *clock.Mock) {
	clk := clock.NewMock()
	return NewLimiter(Policy{Window: 5 * time.Second, MaxPerWindow: 20}, clk), clk
}

func TestLimiter_BurstThenRecover(t *testing.T) {
	req := require.New(t)
	l, clk := newTestLimiter()

	for i := 0; i < 20; i++ {
		req.True(l.Admit("c1"), "message %d", i+1)
	}
	req.False(l.Admit("c1"))

	clk.Add(5*time.Second + time.Millisecond)
	req.True(l.Admit("c1"))
}

func TestLimiter_KeepsThrottlingWhileSpamming(t *testing.T) {
	req := require.New(t)
	l, clk := newTestLimiter()

	for i := 0; i < 20; i++ {
		req.True(l.Admit("c1"))
	}
	// keep hammering at 10/s: every trailing window holds more than 20 attempts
	for i := 0; i < 100; i++ {
		clk.Add(100 * time.Millisecond)
		req.False(l.Admit("c1"), "attempt %d", i)
	}
	// a full quiet window later it recovers
	clk.Add(5*time.Second + time.Millisecond)
	req.True(l.Admit("c1"))
}

func TestLimiter_SlidingWindow(t *testing.T) {
	req := require.New(t)
	l, clk := newTestLimiter()

	for i := 0; i < 10; i++ {
		req.True(l.Admit("c1"))
	}
	clk.Add(3 * time.Second)
	for i := 0; i < 10; i++ {
		req.True(l.Admit("c1"))
	}
	req.False(l.Admit("c1"))

	// the first ten fall out of the window, the rejected attempt does not
	clk.Add(2*time.Second + time.Millisecond)
	for i := 0; i < 9; i++ {
		req.True(l.Admit("c1"))
	}
	req.False(l.Admit("c1"))
}

func TestLimiter_ConnectionsAreIndependent(t *testing.T) {
	req := require.New(t)
	l, _ := newTestLimiter()

	for i := 0; i < 20; i++ {
		req.True(l.Admit("c1"))
	}
	req.False(l.Admit("c1"))
	req.True(l.Admit("c2"))
}

func TestLimiter_Forget(t *testing.T) {
	req := require.New(t)
	l, _ := newTestLimiter()

	for i := 0; i < 21; i++ {
		l.Admit("c1")
	}
	req.Equal(1, l.Tracked())

	l.Forget("c1")
	req.Equal(0, l.Tracked())
	req.True(l.Admit("c1"))
}

func TestLimiter_Concurrent(t *testing.T) {
	req := require.New(t)
	l, _ := newTestLimiter()

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if l.Admit("shared") {
					admitted.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	req.EqualValues(20, admitted.Load())
}
