package agent

import (
	"context"
	"time"

	"sift/internal/evaluate"
	"sift/internal/rag"
)

// EventType identifies one of the four event kinds on the stream.
type EventType string

const (
	EventStatus   EventType = "status"
	EventDecision EventType = "decision"
	EventResult   EventType = "result"
	EventError    EventType = "error"
)

// Event is one entry on a query's ordered event stream. Consumers observe
// events in exactly the order they were emitted; the terminal result or
// error event is always last.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// StatusData reports progress of one processing step.
type StatusData struct {
	Step    string `json:"step"`
	Message string `json:"message"`
	TimeMS  int64  `json:"time_ms,omitempty"`
}

// DecisionData reports the selected route. Quality is nil when a forced
// mode bypassed evaluation. Alternates lists the other routes the caller's
// capabilities would have permitted.
type DecisionData struct {
	Decision   Decision          `json:"decision"`
	Tag        string            `json:"tag"`
	Quality    *evaluate.Quality `json:"quality,omitempty"`
	Alternates []Decision        `json:"alternates,omitempty"`
}

// ResultData is the terminal payload of a successful query.
type ResultData struct {
	QueryID          string            `json:"query_id"`
	Query            string            `json:"query"`
	Answer           string            `json:"answer"`
	Sources          []rag.Passage     `json:"sources"`
	Mode             string            `json:"mode"`
	Cached           bool              `json:"cached"`
	CacheSimilarity  float64           `json:"cache_score,omitempty"`
	CacheAgeMinutes  int64             `json:"cache_age_minutes,omitempty"`
	Quality          *evaluate.Quality `json:"context_quality,omitempty"`
	Decision         Decision          `json:"agent_decision,omitempty"`
	DecisionTag      string            `json:"decision_tag,omitempty"`
	DecisionLog      []Step            `json:"decision_log"`
	Performance      Breakdown         `json:"performance_breakdown"`
	ProcessingTimeMS int64             `json:"processing_time_ms"`
}

// Terminal error codes carried in ErrorData, stable for API consumers.
const (
	ErrCodeInvalidRequest   = "invalid_request"
	ErrCodePermissionDenied = "permission_denied"
	ErrCodeCancelled        = "cancelled"
	ErrCodeGenerationFailed = "generation_failed"
)

// ErrorData is the terminal payload of a failed query.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// emitter serializes events onto the stream and tracks terminality so
// exactly one result or error event closes every stream.
type emitter struct {
	ctx      context.Context
	ch       chan<- Event
	terminal bool
	clock    func() time.Time
}

func (e *emitter) send(event Event) {
	if e.terminal {
		return
	}
	event.Timestamp = e.clock()
	select {
	case e.ch <- event:
	default:
		// Buffer is full: wait for the consumer, but give up if it is gone.
		select {
		case e.ch <- event:
		case <-e.ctx.Done():
			e.terminal = true
		}
	}
}

func (e *emitter) status(step, message string, elapsed time.Duration) {
	data := StatusData{Step: step, Message: message}
	if elapsed > 0 {
		data.TimeMS = elapsed.Milliseconds()
	}
	e.send(Event{Type: EventStatus, Data: data})
}

func (e *emitter) decision(data DecisionData) {
	e.send(Event{Type: EventDecision, Data: data})
}

func (e *emitter) result(data ResultData) {
	e.send(Event{Type: EventResult, Data: data})
	e.terminal = true
}

func (e *emitter) error(code, message string) {
	e.send(Event{Type: EventError, Data: ErrorData{Code: code, Message: message}})
	e.terminal = true
}
