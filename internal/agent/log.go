package agent

import (
	"fmt"
	"time"
)

// Step is one decision-log entry: a message plus the wall-clock time since
// the previous step.
type Step struct {
	Message   string `json:"message"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

// DecisionLog is the ordered, append-only trace of one query's processing.
type DecisionLog struct {
	clock func() time.Time
	last  time.Time
	steps []Step
}

// NewDecisionLog starts a log whose first step measures from now.
func NewDecisionLog(clock func() time.Time) *DecisionLog {
	if clock == nil {
		clock = time.Now
	}
	return &DecisionLog{clock: clock, last: clock()}
}

// Append records a step with the elapsed time since the previous one.
func (l *DecisionLog) Append(format string, args ...any) {
	now := l.clock()
	l.steps = append(l.steps, Step{
		Message:   fmt.Sprintf(format, args...),
		ElapsedMS: now.Sub(l.last).Milliseconds(),
	})
	l.last = now
}

// Steps returns the recorded steps in append order.
func (l *DecisionLog) Steps() []Step {
	return l.steps
}

// Breakdown is the per-step latency accounting for one query. Sub-durations
// sum to at most TotalMS since all engine steps run sequentially.
type Breakdown struct {
	CacheCheckMS     int64 `json:"cache_check_ms"`
	LocalSearchMS    int64 `json:"local_search_ms"`
	ContextEvalMS    int64 `json:"context_eval_ms"`
	InternetSearchMS int64 `json:"internet_search_ms"`
	GenerationMS     int64 `json:"generation_ms"`
	CacheStoreMS     int64 `json:"cache_store_ms"`
	TotalMS          int64 `json:"total_ms"`
}

// SubtotalMS sums the sub-durations, excluding the total.
func (b Breakdown) SubtotalMS() int64 {
	return b.CacheCheckMS + b.LocalSearchMS + b.ContextEvalMS +
		b.InternetSearchMS + b.GenerationMS + b.CacheStoreMS
}
