// Package timeago renders how long ago a shot was taken.
package timeago

import (
	"time"

	"github.com/dustin/go-humanize"
)

const week = 7 * 24 * time.Hour

const absoluteLayout = "2006-01-02 15:04:05"

var magnitudes = []humanize.RelTimeMagnitude{
	{D: time.Minute, Format: "%d seconds %s", DivBy: time.Second},
	{D: time.Hour, Format: "%d minutes %s", DivBy: time.Minute},
	{D: 24 * time.Hour, Format: "%d hours %s", DivBy: time.Hour},
	{D: week, Format: "%d days %s", DivBy: 24 * time.Hour},
}

// Label describes then relative to now ("5 minutes ago"). A week or more back
// it falls back to the local date and time.
func Label(then, now time.Time) string {
	if now.Sub(then) >= week {
		return then.Local().Format(absoluteLayout)
	}
	return humanize.CustomRelTime(then, now, "ago", "from now", magnitudes)
}

func FromMillis(ms int64, now time.Time) string {
	return Label(time.UnixMilli(ms), now)
}
