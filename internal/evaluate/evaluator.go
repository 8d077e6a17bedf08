package evaluate

import (
	"context"
	"strconv"
	"strings"

	"sift/internal/logging"
	"sift/internal/rag"
)

// Quality is the composite judgment of whether retrieved context can answer
// a query without further search. Computed once per query cycle.
type Quality struct {
	OverallScore  float64 `json:"overall_score"`
	VectorScore   float64 `json:"vector_score"`
	Coverage      float64 `json:"coverage"`
	LLMConfidence float64 `json:"llm_confidence"`
	IsSufficient  bool    `json:"is_sufficient"`
	Reason        string  `json:"reason"`
}

// Judge is the generation-backed sufficiency check.
type Judge interface {
	JudgeSufficiency(ctx context.Context, contextBlock, question string) (float64, error)
}

// Config holds the scoring weights and the sufficiency threshold. Defaults:
// 0.4 vector, 0.2 coverage, 0.4 confidence, sufficient above 0.6.
type Config struct {
	VectorWeight         float64
	CoverageWeight       float64
	ConfidenceWeight     float64
	SufficiencyThreshold float64
}

// DefaultConfig returns the documented default weights.
func DefaultConfig() Config {
	return Config{
		VectorWeight:         0.4,
		CoverageWeight:       0.2,
		ConfidenceWeight:     0.4,
		SufficiencyThreshold: 0.6,
	}
}

// Evaluator scores how well a set of retrieved passages answers a query.
type Evaluator struct {
	config Config
	judge  Judge
	logger logging.Logger
}

// New creates an evaluator. A zero-valued config falls back to defaults.
func New(config Config, judge Judge, logger logging.Logger) *Evaluator {
	if config.VectorWeight+config.CoverageWeight+config.ConfidenceWeight == 0 {
		defaults := DefaultConfig()
		config.VectorWeight = defaults.VectorWeight
		config.CoverageWeight = defaults.CoverageWeight
		config.ConfidenceWeight = defaults.ConfidenceWeight
	}
	if config.SufficiencyThreshold == 0 {
		config.SufficiencyThreshold = DefaultConfig().SufficiencyThreshold
	}
	return &Evaluator{
		config: config,
		judge:  judge,
		logger: logging.OrNop(logger),
	}
}

// maxJudgedPassages bounds the context sent to the sufficiency judge.
const maxJudgedPassages = 3

// judgedSnippetLen truncates each judged passage to keep the prompt small.
const judgedSnippetLen = 300

// Score computes a Quality for query given the retrieved passages. A failing
// judge backend never propagates: confidence degrades to neutral 0.5 and the
// reason notes the degradation.
func (e *Evaluator) Score(ctx context.Context, query string, passages []rag.Passage) Quality {
	if len(passages) == 0 {
		return Quality{
			Reason: "No relevant documents found in knowledge base",
		}
	}

	vectorScore := meanScore(passages)
	coverage := termCoverage(query, passages)

	degraded := false
	confidence, err := e.judge.JudgeSufficiency(ctx, judgeContext(passages), query)
	if err != nil {
		e.logger.Warn("sufficiency judgment failed, using neutral confidence: %v", err)
		confidence = 0.5
		degraded = true
	}

	totalWeight := e.config.VectorWeight + e.config.CoverageWeight + e.config.ConfidenceWeight
	overall := (vectorScore*e.config.VectorWeight +
		coverage*e.config.CoverageWeight +
		confidence*e.config.ConfidenceWeight) / totalWeight

	quality := Quality{
		OverallScore:  overall,
		VectorScore:   vectorScore,
		Coverage:      coverage,
		LLMConfidence: confidence,
		IsSufficient:  overall > e.config.SufficiencyThreshold,
		Reason:        reasonFor(overall),
	}
	if degraded {
		quality.Reason += " (LLM confidence degraded, using neutral estimate)"
	}
	return quality
}

func reasonFor(overall float64) string {
	switch {
	case overall >= 0.7:
		return "Local knowledge base has sufficient information"
	case overall < 0.3:
		return "Local knowledge base has very limited information"
	default:
		return "Local knowledge base has partial information, internet search recommended"
	}
}

func meanScore(passages []rag.Passage) float64 {
	sum := 0.0
	for _, p := range passages {
		sum += p.Score
	}
	return sum / float64(len(passages))
}

var stopWords = map[string]struct{}{
	"what": {}, "is": {}, "the": {}, "a": {}, "an": {}, "how": {}, "why": {},
	"when": {}, "where": {}, "who": {}, "tell": {}, "me": {}, "about": {},
}

// termCoverage is the fraction of distinct non-stop-word query terms that
// appear in the concatenated passage text.
func termCoverage(query string, passages []rag.Passage) float64 {
	queryTerms := make(map[string]struct{})
	for _, f := range strings.Fields(strings.ToLower(query)) {
		term := strings.Trim(f, ".,;:!?\"'()")
		if term == "" {
			continue
		}
		if _, stop := stopWords[term]; stop {
			continue
		}
		queryTerms[term] = struct{}{}
	}
	if len(queryTerms) == 0 {
		// Only stop words to match against.
		return 0.5
	}

	var sb strings.Builder
	for _, p := range passages {
		sb.WriteString(strings.ToLower(p.Text))
		sb.WriteString(" ")
	}
	contextWords := make(map[string]struct{})
	for _, f := range strings.Fields(sb.String()) {
		contextWords[strings.Trim(f, ".,;:!?\"'()")] = struct{}{}
	}

	matched := 0
	for term := range queryTerms {
		if _, ok := contextWords[term]; ok {
			matched++
		}
	}
	coverage := float64(matched) / float64(len(queryTerms))
	if coverage > 1 {
		coverage = 1
	}
	return coverage
}

func judgeContext(passages []rag.Passage) string {
	var sb strings.Builder
	for i, p := range passages {
		if i >= maxJudgedPassages {
			break
		}
		if i > 0 {
			sb.WriteString("\n\n")
		}
		text := p.Text
		if len(text) > judgedSnippetLen {
			text = text[:judgedSnippetLen]
		}
		sb.WriteString("[Source " + strconv.Itoa(i+1) + "] ")
		sb.WriteString(text)
	}
	return sb.String()
}
