// Package enrich correlates findings that share a vulnerability vector.
//
// A run selects a bounded batch of candidate pairs, asks the oracle whether each pair shares a
// root cause, and links the affirmative pairs with a related_to edge. Failures are scoped to a
// single pair.
package enrich

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ortelius/vulngraph/database"
	"github.com/ortelius/vulngraph/model"
	"github.com/ortelius/vulngraph/oracle"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// DefaultBatchLimit caps the number of candidate pairs evaluated by one run.
const DefaultBatchLimit = 5

// CandidatesAQL selects finding pairs with equal vulnerability vectors, lower id first.
const CandidatesAQL = `
	FOR f1 IN finding
		FOR v1 IN 1..1 OUTBOUND f1 has_vulnerability
			FILTER v1.vector != null AND v1.vector != ""
			FOR v2 IN vulnerability
				FILTER v2.vector == v1.vector
				FOR f2 IN 1..1 INBOUND v2 has_vulnerability
					FILTER f1.id < f2.id
					COLLECT id1 = f1.id, id2 = f2.id, from = f1._id, to = f2._id
						AGGREGATE vector = MIN(v1.vector)
					SORT id1, id2
					LIMIT @limit
					RETURN { id1, id2, from, to, vector }
`

// Config bounds one enrichment run.
type Config struct {
	BatchLimit    int
	Workers       int
	RatePerSecond float64
	Model         string
	System        string
}

// Pair is a candidate pair in canonical order: ID1 < ID2.
type Pair struct {
	ID1    string `json:"id1"`
	ID2    string `json:"id2"`
	From   string `json:"-"`
	To     string `json:"-"`
	Vector string `json:"vector"`
}

// candidateRow is one CandidatesAQL result.
type candidateRow struct {
	ID1    string `json:"id1"`
	ID2    string `json:"id2"`
	From   string `json:"from"`
	To     string `json:"to"`
	Vector string `json:"vector"`
}

// PairOutcome is what happened to one candidate pair.
type PairOutcome struct {
	Pair    Pair    `json:"pair"`
	Verdict Verdict `json:"verdict"`
	Reply   string  `json:"reply,omitempty"`
	Stage   string  `json:"stage,omitempty"`
	Error   string  `json:"error,omitempty"`
	Err     error   `json:"-"`
}

// Report summarizes one Run.
type Report struct {
	RunID      string        `json:"run_id"`
	Candidates int           `json:"candidates"`
	Linked     int           `json:"linked"`
	Rejected   int           `json:"rejected"`
	Failed     int           `json:"failed"`
	Outcomes   []PairOutcome `json:"outcomes"`
	Duration   time.Duration `json:"duration"`
}

// Engine runs enrichment batches.
type Engine struct {
	store   database.Querier
	oracle  oracle.Oracle
	cfg     Config
	limiter *rate.Limiter
	logger  *zap.Logger
	tracer  trace.Tracer
}

// New creates an Engine. Zero limits fall back to a batch of DefaultBatchLimit evaluated by one worker.
func New(store database.Querier, o oracle.Oracle, cfg Config, logger *zap.Logger) *Engine {
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = DefaultBatchLimit
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	e := &Engine{
		store:  store,
		oracle: o,
		cfg:    cfg,
		logger: logger.Named("enrich"),
		tracer: otel.Tracer("github.com/ortelius/vulngraph/enrich"),
	}
	if cfg.RatePerSecond > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	return e
}

// Candidates returns at most BatchLimit pairs. Rows are re-checked so that only the ascending
// orientation of a pair is ever returned, and each pair at most once.
func (e *Engine) Candidates(ctx context.Context) ([]Pair, error) {
	rows, err := e.store.Query(ctx, CandidatesAQL, map[string]any{"limit": e.cfg.BatchLimit})
	if err != nil {
		return nil, fmt.Errorf("selecting candidate pairs: %w", err)
	}

	seen := make(map[[2]string]bool, len(rows))
	pairs := make([]Pair, 0, len(rows))
	for _, row := range rows {
		var c candidateRow
		if err := database.FromDoc(row, &c); err != nil {
			e.logger.Warn("Skipping unreadable candidate row", zap.Any("row", row), zap.Error(err))
			continue
		}
		p := Pair(c)
		if p.ID1 == "" || p.ID2 == "" || p.From == "" || p.To == "" {
			e.logger.Warn("Skipping incomplete candidate row", zap.Any("row", row))
			continue
		}
		if p.ID1 == p.ID2 {
			continue
		}
		if p.ID1 > p.ID2 {
			p.ID1, p.ID2 = p.ID2, p.ID1
			p.From, p.To = p.To, p.From
		}

		key := [2]string{p.ID1, p.ID2}
		if seen[key] {
			continue
		}
		seen[key] = true
		pairs = append(pairs, p)

		if len(pairs) == e.cfg.BatchLimit {
			break
		}
	}
	return pairs, nil
}

// Run evaluates one batch. The returned error is only set when candidate selection fails;
// oracle and store failures are recorded per pair.
func (e *Engine) Run(ctx context.Context) (Report, error) {
	start := time.Now()
	report := Report{RunID: uuid.NewString(), Outcomes: []PairOutcome{}}
	logger := e.logger.With(zap.String("run_id", report.RunID))

	pairs, err := e.Candidates(ctx)
	if err != nil {
		return report, err
	}
	report.Candidates = len(pairs)
	logger.Info("Enrichment candidates selected", zap.Int("pairs", len(pairs)), zap.Int("limit", e.cfg.BatchLimit))

	outcomes := make([]PairOutcome, len(pairs))
	var g errgroup.Group
	g.SetLimit(e.cfg.Workers)
	for i, p := range pairs {
		g.Go(func() error {
			outcomes[i] = e.evaluate(ctx, logger, p)
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range outcomes {
		switch o.Verdict {
		case Affirmative:
			report.Linked++
		case Negative:
			report.Rejected++
		default:
			report.Failed++
		}
	}
	report.Outcomes = outcomes
	report.Duration = time.Since(start)

	logger.Info("Enrichment finished",
		zap.Int("candidates", report.Candidates),
		zap.Int("linked", report.Linked),
		zap.Int("rejected", report.Rejected),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", report.Duration))
	return report, nil
}

func (e *Engine) evaluate(ctx context.Context, logger *zap.Logger, p Pair) PairOutcome {
	ctx, span := e.tracer.Start(ctx, "enrich.pair", trace.WithAttributes(
		attribute.String("finding.id1", p.ID1),
		attribute.String("finding.id2", p.ID2),
		attribute.String("vulnerability.vector", p.Vector),
	))
	defer span.End()

	out := PairOutcome{Pair: p}
	fields := []zap.Field{zap.String("id1", p.ID1), zap.String("id2", p.ID2), zap.String("vector", p.Vector)}

	fail := func(stage string, err error) PairOutcome {
		span.RecordError(err)
		span.SetStatus(codes.Error, stage+" failed")
		logger.Error("Skipping candidate pair", append(fields, zap.String("stage", stage), zap.Error(err))...)
		out.Verdict = Failed
		out.Stage = stage
		out.Error = err.Error()
		out.Err = err
		return out
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return fail("rate_limit", err)
		}
	}

	reply, err := e.oracle.Complete(ctx, oracle.Request{
		System: e.cfg.System,
		Prompt: BuildPrompt(p),
		Model:  e.cfg.Model,
	})
	if err != nil {
		return fail("oracle", err)
	}
	out.Reply = reply
	out.Verdict = Classify(reply)
	span.SetAttributes(attribute.String("enrich.verdict", out.Verdict.String()))

	if out.Verdict != Affirmative {
		logger.Info("Pair not related", fields...)
		return out
	}

	doc, err := database.ToDoc(model.RelatedTo{Reason: reply})
	if err != nil {
		return fail("store", err)
	}
	if _, err := database.UpsertEdge(ctx, e.store, model.EdgeRelatedTo, p.From, p.To, doc); err != nil {
		return fail("store", err)
	}
	logger.Info("Linked related findings", fields...)
	return out
}

// BuildPrompt asks whether the two findings share a root cause.
func BuildPrompt(p Pair) string {
	var b strings.Builder
	b.WriteString("Given two findings:\n")
	b.WriteString("- " + p.ID1 + "\n")
	b.WriteString("- " + p.ID2 + "\n")
	b.WriteString("Both have a vulnerability vector of '" + p.Vector + "'. ")
	b.WriteString("Do they likely share a root cause or attack pattern? Respond with either:\n\n")
	b.WriteString("YES - with a reason\n")
	b.WriteString("NO - and why not")
	return b.String()
}
