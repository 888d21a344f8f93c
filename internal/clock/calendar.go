package clock

import (
	"fmt"
	"sync"
	"time"
)

// DaySchedule describes one trading day's session, or its absence.
type DaySchedule struct {
	Open    bool
	Closed  bool // explicit holiday
	Start   time.Time
	End     time.Time
	Half    bool // early close (half day)
}

// CalendarSource fetches a month's worth of market-schedule data from the
// venue, e.g. the live gateway's market-calendar endpoint. Grounded on
// cmd/bot/main.go's getMarketCalendar/getTodaysMarketSchedule, which hit
// the Tradier calendar endpoint per (month, year).
type CalendarSource interface {
	// MonthSchedule returns the schedule for every day in the given
	// (year, month), keyed by "2006-01-02".
	MonthSchedule(year int, month time.Month) (map[string]DaySchedule, error)
}

// Calendar resolves trading-day arithmetic and session boundaries,
// caching each month's schedule on first use the way the teacher's
// main.go caches getMarketCalendar results behind an RWMutex, refreshing
// only on a cache miss.
type Calendar struct {
	source CalendarSource
	loc    *time.Location

	mu    sync.RWMutex
	cache map[string]map[string]DaySchedule // "2006-01" -> day -> schedule
}

// NewCalendar builds a Calendar backed by source, resolving dates in loc.
func NewCalendar(source CalendarSource, loc *time.Location) *Calendar {
	return &Calendar{
		source: source,
		loc:    loc,
		cache:  make(map[string]map[string]DaySchedule),
	}
}

// ResolveLocation loads America/New_York, falling back to a fixed -5h
// offset (no DST) if the tzdata lookup fails — grounded on the teacher's
// config.resolveLocation and dashboard's isMarketOpen fallback, both of
// which treat a missing zoneinfo database as a warning, never fatal.
func ResolveLocation() (*time.Location, bool) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.FixedZone("EST", -5*60*60), false
	}
	return loc, true
}

func monthKey(year int, month time.Month) string {
	return fmt.Sprintf("%04d-%02d", year, int(month))
}

func (c *Calendar) monthSchedule(year int, month time.Month) (map[string]DaySchedule, error) {
	key := monthKey(year, month)

	c.mu.RLock()
	sched, ok := c.cache[key]
	c.mu.RUnlock()
	if ok {
		return sched, nil
	}

	sched, err := c.source.MonthSchedule(year, month)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[key] = sched
	c.mu.Unlock()
	return sched, nil
}

func (c *Calendar) daySchedule(date time.Time) (DaySchedule, error) {
	date = date.In(c.loc)
	sched, err := c.monthSchedule(date.Year(), date.Month())
	if err != nil {
		return DaySchedule{}, err
	}
	d, ok := sched[date.Format("2006-01-02")]
	if !ok {
		// Weekend or a day the venue didn't enumerate: treat as closed.
		return DaySchedule{Closed: true}, nil
	}
	return d, nil
}

// IsTradingDay reports whether the venue is open for regular trading on
// date.
func (c *Calendar) IsTradingDay(date time.Time) (bool, error) {
	d, err := c.daySchedule(date)
	if err != nil {
		return false, err
	}
	return d.Open && !d.Closed, nil
}

// AddTradingDays returns the date n trading days after date (n >= 0),
// skipping weekends and holidays. Used for scheduled-exit and blacklist
// expiry computation per §3/§4.4.1.
func (c *Calendar) AddTradingDays(date time.Time, n int) (time.Time, error) {
	cur := date
	for remaining := n; remaining > 0; {
		cur = cur.AddDate(0, 0, 1)
		ok, err := c.IsTradingDay(cur)
		if err != nil {
			return time.Time{}, err
		}
		if ok {
			remaining--
		}
	}
	return cur, nil
}

// CountTradingDaysBetween counts trading days in (from, to], used by the
// gateway contract's count_trading_days_between per §4.2.
func (c *Calendar) CountTradingDaysBetween(from, to time.Time) (int, error) {
	if !to.After(from) {
		return 0, nil
	}
	count := 0
	cur := from
	for cur.Before(to) {
		cur = cur.AddDate(0, 0, 1)
		ok, err := c.IsTradingDay(cur)
		if err != nil {
			return 0, err
		}
		if ok {
			count++
		}
	}
	return count, nil
}

// SessionOpen returns the regular session open time for date, if trading.
func (c *Calendar) SessionOpen(date time.Time) (time.Time, error) {
	d, err := c.daySchedule(date)
	if err != nil {
		return time.Time{}, err
	}
	return d.Start, nil
}

// SessionClose returns the regular (or half-day) session close time for date.
func (c *Calendar) SessionClose(date time.Time) (time.Time, error) {
	d, err := c.daySchedule(date)
	if err != nil {
		return time.Time{}, err
	}
	return d.End, nil
}

// ToEastern converts t (in any zone) to the calendar's location. The
// engine performs this once on ingestion and keeps both timestamps
// (§4.1) rather than re-converting on every read.
func (c *Calendar) ToEastern(t time.Time) time.Time {
	return t.In(c.loc)
}
