package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// go test -v --run TestNextRun
func TestNextRun(t *testing.T) {
	at := func(h, m int) time.Time { return time.Date(2024, 3, 10, h, m, 0, 0, time.UTC) }

	assert.Equal(t, at(3, 0), NextRun(at(1, 30), 3))
	assert.Equal(t, at(3, 0).Add(24*time.Hour), NextRun(at(3, 0), 3))
	assert.Equal(t, at(3, 0).Add(24*time.Hour), NextRun(at(17, 5), 3))

	// non-UTC input is converted
	kst := time.FixedZone("KST", 9*3600)
	assert.Equal(t, at(3, 0), NextRun(time.Date(2024, 3, 10, 11, 0, 0, 0, kst), 3))
}

// go test -v --run TestDailyRunsAtStartupAndOnSchedule
func TestDailyRunsAtStartupAndOnSchedule(t *testing.T) {
	var runs atomic.Int32
	fire := make(chan time.Time)

	d := &Daily{
		Name:         "cleanup",
		HourUTC:      3,
		RunAtStartup: true,
		Job: func(context.Context) error {
			if runs.Add(1) == 2 {
				return errors.New("db down")
			}
			return nil
		},
		Logger: zap.NewNop(),
		after:  func(time.Duration) <-chan time.Time { return fire },
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)
	fire <- time.Now()
	fire <- time.Now()
	require.Eventually(t, func() bool { return runs.Load() == 3 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
