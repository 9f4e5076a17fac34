// Package orchestrator drives fraud decision runs: it validates a request,
// fans out to the scoring adapters under deadlines, aggregates their results
// into a cost-sensitive decision and hands the record to explanation and
// audit.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/domain"
)

const instrumentationName = "github.com/opensource-finance/kestrel/internal/orchestrator"

// Fallback explanation used when the explainer fails.
const (
	FallbackSummary     = "Explanation unavailable"
	FallbackExplanation = "A detailed explanation could not be produced for this decision. " +
		"The decision and its risk assessment are unaffected; see the case record for the scores and findings."
)

// Recorder receives every decision record once it is final. Submit must not
// block the run.
type Recorder interface {
	Submit(rec domain.DecisionRecord)
}

// Settings supplies the engine snapshot a run uses.
type Settings interface {
	Current() *config.Snapshot
}

// Options configures an Orchestrator.
type Options struct {
	Scorers   []domain.Scorer
	Settings  Settings
	Explainer domain.Explainer
	Reporter  domain.Reporter
	Recorder  Recorder
	Logger    *slog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// Orchestrator runs the quick, standard, investigation and batch workflows.
// It is safe for concurrent use; each call owns its own WorkflowRun.
type Orchestrator struct {
	scorers   map[domain.Adapter]domain.Scorer
	settings  Settings
	explainer domain.Explainer
	reporter  domain.Reporter
	recorder  Recorder
	logger    *slog.Logger
	tracer    trace.Tracer
	metrics   *instruments
	now       func() time.Time
}

// New builds an Orchestrator. A transaction scorer is required.
func New(opts Options) (*Orchestrator, error) {
	if opts.Settings == nil || opts.Settings.Current() == nil {
		return nil, domain.Configurationf("orchestrator needs engine settings")
	}

	scorers := make(map[domain.Adapter]domain.Scorer, len(opts.Scorers))
	for _, s := range opts.Scorers {
		name := s.Name()
		if !name.Valid() {
			return nil, domain.Configurationf("unknown scorer %q", name)
		}
		if _, dup := scorers[name]; dup {
			return nil, domain.Configurationf("scorer %s registered twice", name)
		}
		scorers[name] = s
	}
	if _, ok := scorers[domain.AdapterTransaction]; !ok {
		return nil, domain.Configurationf("transaction scorer is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	m, err := newInstruments(otel.Meter(instrumentationName))
	if err != nil {
		return nil, fmt.Errorf("create metrics: %w", err)
	}

	return &Orchestrator{
		scorers:   scorers,
		settings:  opts.Settings,
		explainer: opts.Explainer,
		reporter:  opts.Reporter,
		recorder:  opts.Recorder,
		logger:    logger,
		tracer:    otel.Tracer(instrumentationName),
		metrics:   m,
		now:       now,
	}, nil
}

// adaptersFor lists the adapters a workflow invokes.
func adaptersFor(w domain.WorkflowType) []domain.Adapter {
	switch w {
	case domain.WorkflowQuick, domain.WorkflowBatch:
		return []domain.Adapter{domain.AdapterTransaction}
	default:
		return domain.Adapters
	}
}

// ProcessTransaction runs one transaction through its workflow (standard
// when unset). It returns an error only when no decision could be made.
func (o *Orchestrator) ProcessTransaction(ctx context.Context, req *domain.Request) (*domain.Decision, error) {
	snap := o.settings.Current()

	workflow, audience, caseID, txID := domain.WorkflowStandard, domain.AudienceAnalyst, "", ""
	if req != nil {
		if req.Workflow != "" {
			workflow = req.Workflow
		}
		if req.Audience != "" {
			audience = req.Audience
		}
		caseID = req.CaseID
		if req.Transaction != nil {
			txID = req.Transaction.ID
		}
	}
	if caseID == "" {
		caseID = o.newCaseID()
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.ProcessTransaction", trace.WithAttributes(
		attribute.String("kestrel.workflow", string(workflow)),
		attribute.String("kestrel.tx_id", txID),
		attribute.String("kestrel.case_id", caseID),
	))
	defer span.End()

	run := newRun(workflow, caseID, txID, o.now)

	if err := validateRequest(req, workflow, audience); err != nil {
		return nil, o.abort(ctx, span, run, err)
	}

	in := &domain.ScoreInput{
		Transaction: req.Transaction,
		Documents:   req.Documents,
		Beneficiary: req.Beneficiary,
		EntityID:    req.EntityID,
		SkipHistory: workflow == domain.WorkflowQuick,
	}

	rec, err := o.execute(ctx, span, run, in, snap)
	if err != nil {
		return nil, err
	}

	decision := &domain.Decision{Record: rec.Clone()}

	if workflow != domain.WorkflowQuick {
		if err := run.Enter(domain.PhaseExplain); err != nil {
			return nil, o.abort(ctx, span, run, err)
		}
		span.AddEvent("phase", trace.WithAttributes(attribute.String("kestrel.phase", string(run.Phase))))

		decision.Explanation = o.explain(ctx, run, rec, audience)
		if workflow == domain.WorkflowInvestigation {
			decision.Report = o.report(ctx, run, rec)
		}
	}

	if err := run.Enter(domain.PhaseDone); err != nil {
		return nil, o.abort(ctx, span, run, err)
	}
	decision.Warnings = run.Warnings

	o.logger.Info("decision made",
		"tx_id", rec.TransactionID,
		"case_id", rec.CaseID,
		"workflow", workflow,
		"action", rec.Action,
		"risk_level", rec.RiskLevel,
		"probability", rec.Probability,
		"confidence", rec.Confidence,
		"duration_ms", run.ElapsedMs(),
	)
	o.metrics.recordRun(ctx, workflow, run.ElapsedMs(), "")
	return decision, nil
}

// execute runs Analyze and Decide for a validated run and submits the
// resulting record.
func (o *Orchestrator) execute(ctx context.Context, span trace.Span, run *WorkflowRun, in *domain.ScoreInput, snap *config.Snapshot) (*domain.DecisionRecord, error) {
	if err := run.Enter(domain.PhaseAnalyze); err != nil {
		return nil, o.abort(ctx, span, run, err)
	}
	o.analyze(ctx, run, in, adaptersFor(run.Workflow), snap)
	if err := ctx.Err(); err != nil {
		return nil, o.abort(ctx, span, run, err)
	}

	if err := run.Enter(domain.PhaseDecide); err != nil {
		return nil, o.abort(ctx, span, run, err)
	}
	rec, err := o.decide(run, in, snap)
	if err != nil {
		return nil, o.abort(ctx, span, run, err)
	}
	run.Record = rec

	if o.recorder != nil {
		o.recorder.Submit(rec.Clone())
	}
	o.metrics.recordDecision(ctx, rec)
	span.SetAttributes(
		attribute.String("kestrel.action", string(rec.Action)),
		attribute.String("kestrel.risk_level", string(rec.RiskLevel)),
		attribute.Float64("kestrel.probability", rec.Probability),
	)
	return rec, nil
}

// abort moves run to Error and wraps err with the phase it stopped in.
func (o *Orchestrator) abort(ctx context.Context, span trace.Span, run *WorkflowRun, err error) error {
	phase := run.Phase
	run.Fail(err)

	runErr := domain.NewRunError(phase, run.TxID, err)
	span.RecordError(runErr)
	span.SetStatus(codes.Error, string(runErr.Code))

	level := slog.LevelWarn
	if runErr.Code == domain.CodeUnknown {
		level = slog.LevelError
	}
	o.logger.Log(ctx, level, "run aborted",
		"tx_id", run.TxID,
		"case_id", run.CaseID,
		"workflow", run.Workflow,
		"phase", phase,
		"code", runErr.Code,
		"error", err,
	)
	o.metrics.recordRun(ctx, run.Workflow, run.ElapsedMs(), runErr.Code)
	return runErr
}

func (o *Orchestrator) explain(ctx context.Context, run *WorkflowRun, rec *domain.DecisionRecord, audience domain.Audience) *domain.Explanation {
	fallback := &domain.Explanation{
		Audience: audience,
		Summary:  FallbackSummary,
		Text:     FallbackExplanation,
		Fallback: true,
	}
	if o.explainer == nil {
		run.Warn("%v: no explainer configured", domain.ErrExplanation)
		return fallback
	}

	exp, err := safeCall(func() (domain.Explanation, error) {
		return o.explainer.Explain(ctx, rec.Clone(), audience)
	})
	if err == nil && strings.TrimSpace(exp.Text) == "" {
		err = errors.New("empty explanation")
	}
	if err != nil {
		o.logger.Warn("explanation failed, using fallback",
			"tx_id", rec.TransactionID,
			"case_id", rec.CaseID,
			"error", err,
		)
		run.Warn("%v: %v", domain.ErrExplanation, err)
		return fallback
	}
	return &exp
}

func (o *Orchestrator) report(ctx context.Context, run *WorkflowRun, rec *domain.DecisionRecord) *domain.InvestigationReport {
	if o.reporter == nil {
		run.Warn("investigation report unavailable: no reporter configured")
		return nil
	}

	analysis := make([]domain.AnalysisResult, len(run.Analysis))
	copy(analysis, run.Analysis)

	rep, err := safeCall(func() (domain.InvestigationReport, error) {
		return o.reporter.Report(ctx, domain.ReportInput{
			Record:   rec.Clone(),
			Analysis: analysis,
			Phases:   run.Timings(),
		})
	})
	if err != nil {
		o.logger.Warn("investigation report failed",
			"tx_id", rec.TransactionID,
			"case_id", rec.CaseID,
			"error", err,
		)
		run.Warn("investigation report unavailable: %v", err)
		return nil
	}
	return &rep
}

// safeCall turns a panic in a collaborator into an error.
func safeCall[T any](fn func() (T, error)) (out T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func (o *Orchestrator) newCaseID() string {
	return "CASE-" + o.now().UTC().Format("20060102150405") + "-" + uuid.NewString()[:8]
}

func validateRequest(req *domain.Request, workflow domain.WorkflowType, audience domain.Audience) error {
	if req == nil {
		return domain.InvalidInputf("request is required")
	}
	if !workflow.Valid() {
		return domain.InvalidInputf("unknown workflow %q", workflow)
	}
	if workflow == domain.WorkflowBatch {
		return domain.InvalidInputf("batch workflow takes a list of transactions")
	}
	if !audience.Valid() {
		return domain.InvalidInputf("unknown audience %q", audience)
	}
	if err := validateTransaction(req.Transaction); err != nil {
		return err
	}
	for i, doc := range req.Documents {
		if doc.ID == "" {
			return domain.InvalidInputf("document %d has no id", i)
		}
	}
	return nil
}

func validateTransaction(tx *domain.Transaction) error {
	if tx == nil {
		return domain.InvalidInputf("transaction is required")
	}
	if strings.TrimSpace(tx.ID) == "" {
		return domain.InvalidInputf("transaction id is required")
	}
	if math.IsNaN(tx.Amount) || math.IsInf(tx.Amount, 0) || tx.Amount < 0 {
		return domain.InvalidInputf("amount must be a finite non-negative number, got %v", tx.Amount)
	}
	if tx.ProviderRiskScore < 0 || tx.ProviderRiskScore > 1 || math.IsNaN(tx.ProviderRiskScore) {
		return domain.InvalidInputf("provider risk score must be in [0, 1], got %v", tx.ProviderRiskScore)
	}
	counters := []struct {
		name string
		n    *int
	}{
		{"claims count", tx.ClaimsLast30d},
		{"days since last claim", tx.DaysSinceLast},
		{"tenure", tx.TenureMonths},
	}
	for _, c := range counters {
		if c.n != nil && *c.n < 0 {
			return domain.InvalidInputf("%s must not be negative, got %d", c.name, *c.n)
		}
	}
	return nil
}
