package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Interval is a candlestick granularity together with the UTC wall-clock marks
// at which its buckets close.
type Interval struct {
	Name        string // "5m" .. "1d"
	Seconds     int64  // bucket width
	TradingView int    // resolution in minutes as used by charting clients
	Hours       []int  // UTC hours with a close mark
	Minutes     []int  // minutes within those hours with a close mark
}

// NewInterval derives the close schedule from the bucket width: minute marks
// for sub-hour widths, hour marks for wider ones. Widths must tile an hour or a day.
func NewInterval(name string, seconds int64) (Interval, error) {
	if seconds <= 0 || 86400%seconds != 0 || (seconds < 3600 && (seconds%60 != 0 || 3600%seconds != 0)) || (seconds > 3600 && seconds%3600 != 0) {
		return Interval{}, fmt.Errorf("interval %s: unsupported width %ds", name, seconds)
	}

	iv := Interval{Name: name, Seconds: seconds, TradingView: int(seconds / 60)}

	if seconds <= 3600 {
		for h := 0; h < 24; h++ {
			iv.Hours = append(iv.Hours, h)
		}
		step := int(seconds / 60)
		for m := 0; m < 60; m += step {
			iv.Minutes = append(iv.Minutes, m)
		}
		return iv, nil
	}

	step := int(seconds / 3600)
	for h := 0; h < 24; h += step {
		iv.Hours = append(iv.Hours, h)
	}
	iv.Minutes = []int{0}
	return iv, nil
}

func mustInterval(name string, seconds int64) Interval {
	iv, err := NewInterval(name, seconds)
	if err != nil {
		panic(err)
	}
	return iv
}

// SupportedIntervals is the fixed interval table, shortest first.
var SupportedIntervals = []Interval{
	mustInterval("5m", 300),
	mustInterval("15m", 900),
	mustInterval("30m", 1800),
	mustInterval("1h", 3600),
	mustInterval("4h", 14400),
	mustInterval("12h", 43200),
	mustInterval("1d", 86400),
}

// IntervalByName looks up a supported interval.
func IntervalByName(name string) (Interval, bool) {
	for _, iv := range SupportedIntervals {
		if iv.Name == name {
			return iv, true
		}
	}
	return Interval{}, false
}

// Duration returns the bucket width as a time.Duration.
func (i Interval) Duration() time.Duration {
	return time.Duration(i.Seconds) * time.Second
}

// OpenTime returns the UTC-aligned start of the bucket containing unix.
func (i Interval) OpenTime(unix int64) int64 {
	return FloorOpenTime(unix, i.Seconds)
}

// CronSpec renders the close marks as a six-field (seconds first) cron expression.
func (i Interval) CronSpec() string {
	return fmt.Sprintf("0 %s %s * * *", joinInts(i.Minutes), joinInts(i.Hours))
}

// FloorOpenTime rounds unix down to a multiple of width.
func FloorOpenTime(unix, width int64) int64 {
	if width <= 0 {
		return unix
	}
	t := unix - unix%width
	if unix < 0 && unix%width != 0 {
		t -= width
	}
	return t
}

func joinInts(vals []int) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}
