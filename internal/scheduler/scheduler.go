// Package scheduler emits wall-clock aligned candle close events per interval.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"dex-candles/internal/domain"
	"dex-candles/internal/observability"
)

// Event announces that the bucket before CurrentOpenTime has closed.
type Event struct {
	Interval        string
	IntervalSeconds int64
	CurrentOpenTime int64 // start of the bucket that just opened, Unix seconds
}

// Scheduler fires one cron rule per interval and fans each firing out to
// that interval's subscribers without blocking.
type Scheduler struct {
	cron      *cron.Cron
	intervals map[string]domain.Interval
	buffer    int
	logger    *zap.Logger

	mu   sync.RWMutex
	subs map[string][]chan Event
}

// Options contains configuration for creating a Scheduler.
type Options struct {
	Intervals []domain.Interval
	Buffer    int            // per subscriber channel capacity. Default: 1
	Location  *time.Location // Default: UTC
	Logger    *zap.Logger
}

// New registers a close rule for every interval. Call Start to begin firing.
func New(opts Options) (*Scheduler, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 1
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	s := &Scheduler{
		intervals: make(map[string]domain.Interval, len(opts.Intervals)),
		buffer:    buffer,
		logger:    logger,
		subs:      make(map[string][]chan Event),
	}
	cl := cronLogger{logger.Sugar()}
	s.cron = cron.New(cron.WithSeconds(), cron.WithLocation(loc), cron.WithLogger(cl), cron.WithChain(cron.Recover(cl)))

	for _, iv := range opts.Intervals {
		iv := iv
		if _, err := s.cron.AddFunc(iv.CronSpec(), func() { s.Emit(iv, time.Now()) }); err != nil {
			return nil, fmt.Errorf("schedule %s: %w", iv.Name, err)
		}
		s.intervals[iv.Name] = iv
		logger.Debug("interval scheduled", zap.String("interval", iv.Name), zap.String("spec", iv.CronSpec()))
	}
	return s, nil
}

// Subscribe returns a channel receiving every close of interval. Subscribe
// before Start; the channel is closed by Stop.
func (s *Scheduler) Subscribe(interval string) (<-chan Event, error) {
	if _, ok := s.intervals[interval]; !ok {
		return nil, fmt.Errorf("interval %q is not scheduled", interval)
	}
	ch := make(chan Event, s.buffer)
	s.mu.Lock()
	s.subs[interval] = append(s.subs[interval], ch)
	s.mu.Unlock()
	return ch, nil
}

// Emit publishes a close of iv observed at at. A subscriber whose channel is
// full misses the event.
func (s *Scheduler) Emit(iv domain.Interval, at time.Time) {
	ev := Event{
		Interval:        iv.Name,
		IntervalSeconds: iv.Seconds,
		CurrentOpenTime: roundOpenTime(at, iv.Seconds),
	}
	observability.RecordCandleClose(iv.Name)

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs[iv.Name] {
		select {
		case ch <- ev:
		default:
			observability.RecordCandleCloseDropped(iv.Name)
			s.logger.Warn("candle close dropped, subscriber busy",
				zap.String("interval", iv.Name), zap.Int64("open_time", ev.CurrentOpenTime))
		}
	}
}

// Start begins firing in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("intervals", len(s.intervals)))
}

// Stop waits for running jobs or ctx, then closes every subscriber channel.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for name, chans := range s.subs {
		for _, ch := range chans {
			close(ch)
		}
		delete(s.subs, name)
	}
}

// roundOpenTime rounds at to the nearest multiple of width so a firing a
// little early or late still names the bucket that just opened.
func roundOpenTime(at time.Time, width int64) int64 {
	unix := at.Unix()
	if at.Nanosecond() >= int(time.Second/2) {
		unix++
	}
	return domain.FloorOpenTime(unix+width/2, width)
}

// cronLogger routes cron's logging through zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
