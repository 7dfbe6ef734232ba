package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dex-candles/internal/domain"
)

func interval(t *testing.T, name string) domain.Interval {
	t.Helper()
	iv, ok := domain.IntervalByName(name)
	require.True(t, ok)
	return iv
}

func TestNew_SchedulesEveryInterval(t *testing.T) {
	s, err := New(Options{Intervals: domain.SupportedIntervals})
	require.NoError(t, err)
	assert.Len(t, s.cron.Entries(), len(domain.SupportedIntervals))
}

func TestCronSpecs_FireOnBoundaries(t *testing.T) {
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	from := time.Date(2024, 3, 1, 10, 2, 30, 0, time.UTC)

	tests := []struct {
		name string
		want time.Time
	}{
		{"5m", time.Date(2024, 3, 1, 10, 5, 0, 0, time.UTC)},
		{"15m", time.Date(2024, 3, 1, 10, 15, 0, 0, time.UTC)},
		{"30m", time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)},
		{"1h", time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC)},
		{"4h", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
		{"12h", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
		{"1d", time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sched, err := parser.Parse(interval(t, tt.name).CronSpec())
			require.NoError(t, err)
			assert.Equal(t, tt.want, sched.Next(from))
		})
	}
}

func TestEmit_FansOutToSubscribers(t *testing.T) {
	five := interval(t, "5m")
	s, err := New(Options{Intervals: []domain.Interval{five, interval(t, "1h")}})
	require.NoError(t, err)

	a, err := s.Subscribe("5m")
	require.NoError(t, err)
	b, err := s.Subscribe("5m")
	require.NoError(t, err)
	hourly, err := s.Subscribe("1h")
	require.NoError(t, err)

	at := time.Date(2024, 3, 1, 10, 5, 0, 3_000_000, time.UTC)
	s.Emit(five, at)

	want := Event{Interval: "5m", IntervalSeconds: 300, CurrentOpenTime: time.Date(2024, 3, 1, 10, 5, 0, 0, time.UTC).Unix()}
	assert.Equal(t, want, <-a)
	assert.Equal(t, want, <-b)
	assert.Empty(t, hourly)
}

func TestEmit_DoesNotBlockOnBusySubscriber(t *testing.T) {
	five := interval(t, "5m")
	s, err := New(Options{Intervals: []domain.Interval{five}})
	require.NoError(t, err)
	ch, err := s.Subscribe("5m")
	require.NoError(t, err)

	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	done := make(chan struct{})
	go func() {
		s.Emit(five, base)
		s.Emit(five, base.Add(5*time.Minute))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("emit blocked")
	}
	assert.Equal(t, base.Unix(), (<-ch).CurrentOpenTime)
	assert.Empty(t, ch)
}

func TestSubscribe_UnknownInterval(t *testing.T) {
	s, err := New(Options{Intervals: []domain.Interval{interval(t, "5m")}})
	require.NoError(t, err)
	_, err = s.Subscribe("1d")
	assert.Error(t, err)
}

func TestStop_ClosesSubscriptions(t *testing.T) {
	s, err := New(Options{Intervals: []domain.Interval{interval(t, "5m")}})
	require.NoError(t, err)
	ch, err := s.Subscribe("5m")
	require.NoError(t, err)

	s.Start()
	s.Stop(context.Background())

	_, ok := <-ch
	assert.False(t, ok)
}

func TestRoundOpenTime(t *testing.T) {
	mark := time.Date(2024, 3, 1, 10, 5, 0, 0, time.UTC)

	assert.Equal(t, mark.Unix(), roundOpenTime(mark, 300))
	assert.Equal(t, mark.Unix(), roundOpenTime(mark.Add(800*time.Millisecond), 300))
	assert.Equal(t, mark.Unix(), roundOpenTime(mark.Add(-400*time.Millisecond), 300))
	assert.Equal(t, mark.Unix(), roundOpenTime(mark.Add(2*time.Second), 300))
}
