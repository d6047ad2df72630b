package layout

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"calgrid/internal/model"
)

const defaultCacheEntries = 64

// Engine memoizes Compute per (window, template set). Identical concurrent
// requests share one computation.
type Engine struct {
	opts       Options
	maxEntries int

	group singleflight.Group

	mu    sync.Mutex
	cache map[string]Result
}

// NewEngine returns an Engine keeping at most maxEntries results
// (64 if <= 0). The cache is dropped wholesale when full.
func NewEngine(opts Options, maxEntries int) *Engine {
	if maxEntries <= 0 {
		maxEntries = defaultCacheEntries
	}
	return &Engine{
		opts:       opts,
		maxEntries: maxEntries,
		cache:      make(map[string]Result),
	}
}

func (e *Engine) Options() Options {
	return e.opts
}

// Layout returns the memoized Compute result for w and templates.
func (e *Engine) Layout(w model.Window, templates []model.Template) (Result, error) {
	key := Fingerprint(w, templates)

	e.mu.Lock()
	res, ok := e.cache[key]
	e.mu.Unlock()
	if ok {
		return res, nil
	}

	v, err, _ := e.group.Do(key, func() (any, error) {
		res, err := Compute(w, templates, e.opts)
		if err != nil {
			return nil, err
		}

		e.mu.Lock()
		if len(e.cache) >= e.maxEntries {
			clear(e.cache)
		}
		e.cache[key] = res
		e.mu.Unlock()

		return res, nil
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

// Invalidate drops every cached result.
func (e *Engine) Invalidate() {
	e.mu.Lock()
	clear(e.cache)
	e.mu.Unlock()
}

// Len is the number of cached results.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.cache)
}

// Fingerprint identifies a layout input. Any change to the window or to a
// template's timing, recurrence or payload yields a different value.
func Fingerprint(w model.Window, templates []model.Template) string {
	h := sha256.New()

	fmt.Fprintf(h, "w|%s|%d|%d|%s\n", w.String(), len(w.Days), w.RowLength, w.Loc())
	for _, t := range templates {
		fmt.Fprintf(h, "t|%s|%s|%s|%s|%s|%+v\n",
			t.ID, t.CalendarID, stamp(t.Start), stamp(t.End), t.Kind, t.Payload)
		if r := t.Recurrence; r != nil {
			fmt.Fprintf(h, "r|%d|%d|%s|", r.StepHours, r.MaxOccurrences, r.RRule)
			if r.Until != nil {
				fmt.Fprint(h, stamp(*r.Until))
			}
			writeTimes(h, r.ExDates)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeTimes(h hash.Hash, ts []time.Time) {
	for _, t := range ts {
		fmt.Fprintf(h, "|%s", stamp(t))
	}
	fmt.Fprintln(h)
}

func stamp(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}
