package orchestrator

import (
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// transitions lists the legal next phases. Error is reachable from every
// non-terminal phase and is handled separately.
var transitions = map[domain.Phase][]domain.Phase{
	domain.PhaseIntake:  {domain.PhaseAnalyze},
	domain.PhaseAnalyze: {domain.PhaseDecide},
	domain.PhaseDecide:  {domain.PhaseExplain, domain.PhaseDone},
	domain.PhaseExplain: {domain.PhaseDone},
}

// WorkflowRun is the state of one orchestration run. It is owned by the
// goroutine driving the run; adapter goroutines write only their own
// Analysis slot.
type WorkflowRun struct {
	Workflow  domain.WorkflowType
	CaseID    string
	TxID      string
	Phase     domain.Phase
	StartedAt time.Time

	Analysis []domain.AnalysisResult
	Record   *domain.DecisionRecord
	Warnings []string

	timings []domain.PhaseTiming
	now     func() time.Time
}

func newRun(workflow domain.WorkflowType, caseID, txID string, now func() time.Time) *WorkflowRun {
	start := now()
	return &WorkflowRun{
		Workflow:  workflow,
		CaseID:    caseID,
		TxID:      txID,
		Phase:     domain.PhaseIntake,
		StartedAt: start,
		timings:   []domain.PhaseTiming{{Phase: domain.PhaseIntake, StartedAt: start}},
		now:       now,
	}
}

// Enter moves the run to phase next. It rejects transitions the state
// machine does not allow.
func (r *WorkflowRun) Enter(next domain.Phase) error {
	allowed := false
	for _, p := range transitions[r.Phase] {
		if p == next {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("illegal phase transition %s -> %s", r.Phase, next)
	}

	now := r.now()
	r.closePhase(now, "")
	r.Phase = next
	if next != domain.PhaseDone {
		r.timings = append(r.timings, domain.PhaseTiming{Phase: next, StartedAt: now})
	}
	return nil
}

// Fail moves the run to the terminal Error phase.
func (r *WorkflowRun) Fail(err error) {
	if r.Terminal() {
		return
	}
	r.closePhase(r.now(), err.Error())
	r.Phase = domain.PhaseError
}

// Terminal reports whether the run has finished.
func (r *WorkflowRun) Terminal() bool {
	return r.Phase == domain.PhaseDone || r.Phase == domain.PhaseError
}

// Warn records a non-fatal degradation.
func (r *WorkflowRun) Warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Timings returns the phases run so far. The current phase reports its
// elapsed time up to now.
func (r *WorkflowRun) Timings() []domain.PhaseTiming {
	out := make([]domain.PhaseTiming, len(r.timings))
	copy(out, r.timings)
	if !r.Terminal() && len(out) > 0 {
		last := &out[len(out)-1]
		last.ElapsedMs = r.now().Sub(last.StartedAt).Milliseconds()
	}
	return out
}

// ElapsedMs is the time since the run started.
func (r *WorkflowRun) ElapsedMs() int64 {
	return r.now().Sub(r.StartedAt).Milliseconds()
}

func (r *WorkflowRun) closePhase(now time.Time, errText string) {
	if len(r.timings) == 0 {
		return
	}
	last := &r.timings[len(r.timings)-1]
	if last.Phase != r.Phase {
		return
	}
	last.ElapsedMs = now.Sub(last.StartedAt).Milliseconds()
	last.Error = errText
}
