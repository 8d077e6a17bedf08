package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sift/internal/auth"
	"sift/internal/cache"
	"sift/internal/evaluate"
	sifterrors "sift/internal/errors"
	"sift/internal/logging"
	"sift/internal/metrics"
	"sift/internal/rag"
	"sift/internal/retrieval"
)

// Mode is the caller-requested routing mode.
type Mode string

const (
	ModeAuto     Mode = "auto"
	ModeLocal    Mode = "local"
	ModeInternet Mode = "internet"
	ModeHybrid   Mode = "hybrid"
)

// Decision is the route the engine selected.
type Decision string

const (
	DecisionLocalOnly    Decision = "local_only"
	DecisionHybrid       Decision = "hybrid"
	DecisionInternetOnly Decision = "internet_only"
)

// Query is one immutable request into the engine.
type Query struct {
	Text      string
	Mode      Mode
	TopK      int
	UseMMR    bool
	Diversity float64
	Caller    auth.Capabilities
}

// Cache is the semantic cache capability.
type Cache interface {
	Lookup(ctx context.Context, query string) (*cache.Hit, error)
	Store(ctx context.Context, entry cache.Entry) error
}

// Retriever is the retrieval orchestration capability.
type Retriever interface {
	SearchLocal(ctx context.Context, query string, opts retrieval.LocalOptions) ([]rag.Passage, error)
	SearchInternet(ctx context.Context, query string, limit int) ([]rag.Passage, error)
}

// Evaluator scores retrieved context against the query.
type Evaluator interface {
	Score(ctx context.Context, query string, passages []rag.Passage) evaluate.Quality
}

// Generator produces the final answer from an assembled context block.
type Generator interface {
	Generate(ctx context.Context, contextBlock, question string) (string, error)
}

// Config holds the routing policy thresholds.
type Config struct {
	LocalOnlyThreshold    float64       // at or above: answer from local context alone
	InternetOnlyThreshold float64       // below: discard local context, search the internet
	TopK                  int           // default result count per retrieval source
	GenerationTimeout     time.Duration // upper bound for answer generation
}

// Engine is the top-level state machine: cache check, local retrieval,
// quality evaluation, permission-gated routing, generation and cache write,
// exposed as an ordered event stream.
type Engine struct {
	config    Config
	cache     Cache // nil disables caching
	retriever Retriever
	evaluator Evaluator
	generator Generator
	metrics   *metrics.Metrics
	logger    logging.Logger
	clock     func() time.Time
}

// NewEngine wires the engine's collaborators. cache may be nil to disable
// semantic caching, m may be nil to disable metrics.
func NewEngine(config Config, c Cache, retriever Retriever, evaluator Evaluator, generator Generator, m *metrics.Metrics, logger logging.Logger) *Engine {
	if config.LocalOnlyThreshold == 0 {
		config.LocalOnlyThreshold = 0.7
	}
	if config.InternetOnlyThreshold == 0 {
		config.InternetOnlyThreshold = 0.3
	}
	if config.TopK <= 0 {
		config.TopK = 5
	}
	if config.GenerationTimeout <= 0 {
		config.GenerationTimeout = 60 * time.Second
	}
	return &Engine{
		config:    config,
		cache:     c,
		retriever: retriever,
		evaluator: evaluator,
		generator: generator,
		metrics:   m,
		logger:    logging.OrNop(logger),
		clock:     time.Now,
	}
}

// Process runs the state machine for one query. The returned channel yields
// events in emission order and closes after the single terminal result or
// error event. Cancelling ctx halts progression after the current step; a
// cancelled request keeps its emitted log and never writes the cache.
func (e *Engine) Process(ctx context.Context, q Query) <-chan Event {
	events := make(chan Event, 16)
	go func() {
		defer close(events)
		e.run(ctx, q, &emitter{ctx: ctx, ch: events, clock: e.clock})
	}()
	return events
}

func (e *Engine) run(ctx context.Context, q Query, em *emitter) {
	start := e.clock()

	if q.Mode == "" {
		q.Mode = ModeAuto
	}
	if q.TopK <= 0 {
		q.TopK = e.config.TopK
	}
	if q.Text == "" {
		em.error(ErrCodeInvalidRequest, "empty query")
		e.metrics.RecordRequest("error", e.clock().Sub(start))
		return
	}

	// Capability gate runs before anything else: a forced mode the caller
	// may not use is rejected with no decision log beyond the rejection.
	if err := checkPermission(q.Mode, q.Caller); err != nil {
		code := ErrCodeInvalidRequest
		var pe *sifterrors.PermissionError
		if errors.As(err, &pe) {
			code = ErrCodePermissionDenied
		}
		em.error(code, err.Error())
		e.metrics.RecordRequest(code, e.clock().Sub(start))
		return
	}

	dlog := NewDecisionLog(e.clock)
	var perf Breakdown

	terminalError := func(code, message string, outcome string) {
		em.error(code, message)
		e.metrics.RecordRequest(outcome, e.clock().Sub(start))
	}
	cancelled := func() bool {
		if ctx.Err() == nil {
			return false
		}
		terminalError(ErrCodeCancelled, "request cancelled", "cancelled")
		return true
	}

	// CACHE_CHECK
	if e.cache != nil {
		em.status("cache_check", "Checking semantic cache...", 0)
		dlog.Append("Checking semantic cache...")

		t := e.clock()
		hit, err := e.cache.Lookup(ctx, q.Text)
		elapsed := e.clock().Sub(t)
		perf.CacheCheckMS = elapsed.Milliseconds()

		if cancelled() {
			return
		}
		if err != nil {
			e.logger.Warn("cache lookup failed: %v", err)
			dlog.Append("Cache lookup failed, treating as miss")
		}
		e.metrics.RecordCacheLookup(hit != nil)

		if hit != nil {
			e.finishFromCache(q, hit, dlog, perf, start, em, elapsed)
			return
		}
		dlog.Append("Cache MISS - processing query...")
		em.status("cache_miss", "Cache miss, processing query...", elapsed)
	}

	var (
		route   Decision
		tag     string
		quality *evaluate.Quality
		local   []rag.Passage
		inet    []rag.Passage
	)

	forced := q.Mode != ModeAuto
	if forced {
		route, tag = forcedRoute(q.Mode)
		dlog.Append("User forced mode: %s", q.Mode)
		em.decision(DecisionData{
			Decision:   route,
			Tag:        tag,
			Alternates: alternates(route, q.Caller),
		})
	}

	// LOCAL_SEARCH is a prerequisite for evaluation, so it runs for every
	// route except a forced internet-only one.
	if !forced || route != DecisionInternetOnly {
		em.status("local_search", "Searching local knowledge base...", 0)

		t := e.clock()
		found, err := e.retriever.SearchLocal(ctx, q.Text, retrieval.LocalOptions{
			TopK:            q.TopK,
			AllowRestricted: q.Caller.CanAccessRestricted,
			UseMMR:          q.UseMMR,
			Diversity:       q.Diversity,
		})
		elapsed := e.clock().Sub(t)
		perf.LocalSearchMS = elapsed.Milliseconds()

		if cancelled() {
			return
		}
		if err != nil {
			e.logger.Warn("local search degraded: %v", err)
			dlog.Append("Local search unavailable, continuing without local context")
		} else {
			local = found
			dlog.Append("Found %d local sources", len(local))
		}
		em.status("local_search_done", fmt.Sprintf("Found %d local sources", len(local)), elapsed)
	}

	// QUALITY_EVAL and ROUTE only apply when the caller left the choice to
	// the engine.
	if !forced {
		em.status("evaluation", "Evaluating context quality...", 0)

		t := e.clock()
		scored := e.evaluator.Score(ctx, q.Text, local)
		elapsed := e.clock().Sub(t)
		perf.ContextEvalMS = elapsed.Milliseconds()
		quality = &scored

		if cancelled() {
			return
		}
		dlog.Append("Quality: %.3f | Sufficient: %t", scored.OverallScore, scored.IsSufficient)
		dlog.Append("%s", scored.Reason)
		em.status("evaluation_done", fmt.Sprintf("Quality %.2f - %s", scored.OverallScore, scored.Reason), elapsed)

		route, tag = e.selectRoute(scored, q.Caller, dlog)
		em.decision(DecisionData{
			Decision:   route,
			Tag:        tag,
			Quality:    quality,
			Alternates: alternates(route, q.Caller),
		})
	}

	// INTERNET_SEARCH
	if route != DecisionLocalOnly {
		em.status("internet_search", "Searching internet...", 0)

		t := e.clock()
		found, err := e.retriever.SearchInternet(ctx, q.Text, q.TopK)
		elapsed := e.clock().Sub(t)
		perf.InternetSearchMS = elapsed.Milliseconds()

		if cancelled() {
			return
		}
		if err != nil {
			dlog.Append("Internet search unavailable, falling back to local context")
			em.status("internet_degraded", "Internet search unavailable, falling back to local context", elapsed)
		} else {
			inet = found
			dlog.Append("Internet search returned %d sources", len(inet))
			em.status("internet_search_done", fmt.Sprintf("Internet search returned %d sources", len(inet)), elapsed)
		}
	}

	// GENERATE
	genLocal, genInet := local, inet
	if route == DecisionInternetOnly {
		if len(inet) > 0 {
			// Local passages are dropped from the context but stay visible
			// in the decision log above.
			if len(local) > 0 {
				dlog.Append("Discarding %d local sources from generation context", len(local))
			}
			genLocal = nil
		}
	}

	contextBlock := retrieval.Fuse(genLocal, genInet)
	sources := make([]rag.Passage, 0, len(genLocal)+len(genInet))
	sources = append(sources, genLocal...)
	sources = append(sources, genInet...)

	em.status("generate", "Generating answer...", 0)
	gctx, cancel := context.WithTimeout(ctx, e.config.GenerationTimeout)
	t := e.clock()
	answer, err := e.generator.Generate(gctx, contextBlock, q.Text)
	cancel()
	elapsed := e.clock().Sub(t)
	perf.GenerationMS = elapsed.Milliseconds()

	if cancelled() {
		return
	}
	if err != nil {
		genErr := &sifterrors.GenerationError{Err: err}
		e.logger.Error("generation failed: %v", err)
		terminalError(ErrCodeGenerationFailed, genErr.Error(), "error")
		return
	}
	dlog.Append("Answer generated")
	em.status("generate_done", "Answer generated", elapsed)

	// CACHE_STORE is non-fatal: a failed write is logged and the response
	// proceeds unchanged.
	if e.cache != nil {
		dlog.Append("Caching result for future queries...")
		em.status("cache_store", "Caching result...", 0)

		t := e.clock()
		storeErr := e.cache.Store(ctx, cache.Entry{
			Query:   q.Text,
			Answer:  answer,
			Sources: sources,
			Mode:    routeMode(route),
		})
		perf.CacheStoreMS = e.clock().Sub(t).Milliseconds()
		if storeErr != nil {
			e.logger.Warn("cache persist failed: %v", storeErr)
			dlog.Append("Cache write failed (non-fatal)")
		}
	}

	total := e.clock().Sub(start)
	perf.TotalMS = total.Milliseconds()
	dlog.Append("Complete (total %dms)", perf.TotalMS)

	em.result(ResultData{
		QueryID:          fmt.Sprintf("agent_%d", start.UnixNano()),
		Query:            q.Text,
		Answer:           answer,
		Sources:          sources,
		Mode:             routeMode(route),
		Quality:          quality,
		Decision:         route,
		DecisionTag:      tag,
		DecisionLog:      dlog.Steps(),
		Performance:      perf,
		ProcessingTimeMS: perf.TotalMS,
	})
	e.metrics.RecordDecision(string(route), tag)
	e.metrics.RecordRequest("result", total)
}

func (e *Engine) finishFromCache(q Query, hit *cache.Hit, dlog *DecisionLog, perf Breakdown, start time.Time, em *emitter, lookupElapsed time.Duration) {
	ageMinutes := int64(hit.Age.Minutes())
	dlog.Append("Cache HIT (similarity: %.3f)", hit.Similarity)
	dlog.Append("Returning cached result (%d min old)", ageMinutes)
	em.status("cache_hit", fmt.Sprintf("Cache hit (similarity %.3f)", hit.Similarity), lookupElapsed)

	total := e.clock().Sub(start)
	perf.TotalMS = total.Milliseconds()

	em.result(ResultData{
		QueryID:          fmt.Sprintf("cached_%d", start.UnixNano()),
		Query:            q.Text,
		Answer:           hit.Answer,
		Sources:          hit.Sources,
		Mode:             hit.Mode,
		Cached:           true,
		CacheSimilarity:  hit.Similarity,
		CacheAgeMinutes:  ageMinutes,
		DecisionLog:      dlog.Steps(),
		Performance:      perf,
		ProcessingTimeMS: perf.TotalMS,
	})
	e.metrics.RecordRequest("cache_hit", total)
}

// selectRoute applies the routing policy: permission first, then the score
// bands. A caller without internet capability always stays local and the
// log records that internet was withheld for permission, not quality.
func (e *Engine) selectRoute(q evaluate.Quality, caps auth.Capabilities, dlog *DecisionLog) (Decision, string) {
	switch {
	case !caps.CanSearchInternet:
		if q.OverallScore >= e.config.LocalOnlyThreshold {
			dlog.Append("Agent decision: LOCAL ONLY (context sufficient)")
			return DecisionLocalOnly, "local_sufficient"
		}
		dlog.Append("Agent decision: LOCAL ONLY (internet withheld: no permission)")
		return DecisionLocalOnly, "local_no_permission"
	case q.OverallScore >= e.config.LocalOnlyThreshold:
		dlog.Append("Agent decision: LOCAL ONLY (context sufficient)")
		return DecisionLocalOnly, "local_sufficient"
	case q.OverallScore < e.config.InternetOnlyThreshold:
		dlog.Append("Agent decision: INTERNET ONLY (local knowledge very limited)")
		return DecisionInternetOnly, "internet_no_local"
	default:
		dlog.Append("Agent decision: HYBRID (enhancing local with internet)")
		return DecisionHybrid, "hybrid_partial_local"
	}
}

func checkPermission(mode Mode, caps auth.Capabilities) error {
	switch mode {
	case ModeAuto, ModeLocal:
		if !caps.CanSearchLocal {
			return &sifterrors.PermissionError{Capability: "can_search_local", Mode: string(mode)}
		}
	case ModeInternet, ModeHybrid:
		if !caps.CanSearchInternet {
			return &sifterrors.PermissionError{Capability: "can_search_internet", Mode: string(mode)}
		}
		if mode == ModeHybrid && !caps.CanSearchLocal {
			return &sifterrors.PermissionError{Capability: "can_search_local", Mode: string(mode)}
		}
	default:
		return fmt.Errorf("unknown mode: %q", mode)
	}
	return nil
}

func forcedRoute(mode Mode) (Decision, string) {
	switch mode {
	case ModeLocal:
		return DecisionLocalOnly, "user_override_local"
	case ModeInternet:
		return DecisionInternetOnly, "user_override_internet"
	default:
		return DecisionHybrid, "user_override_hybrid"
	}
}

func routeMode(route Decision) string {
	switch route {
	case DecisionInternetOnly:
		return "internet"
	case DecisionHybrid:
		return "hybrid"
	default:
		return "local"
	}
}

// alternates lists the routes not chosen that the caller's capabilities
// would still permit.
func alternates(chosen Decision, caps auth.Capabilities) []Decision {
	var out []Decision
	for _, d := range []Decision{DecisionLocalOnly, DecisionHybrid, DecisionInternetOnly} {
		if d == chosen {
			continue
		}
		if d != DecisionLocalOnly && !caps.CanSearchInternet {
			continue
		}
		if d != DecisionInternetOnly && !caps.CanSearchLocal {
			continue
		}
		out = append(out, d)
	}
	return out
}
