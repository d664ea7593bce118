package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/polzovatel/login-pattern-finder/internal/proposal"
	"github.com/polzovatel/login-pattern-finder/internal/snapshot"
)

// State is a position in the step-1 to step-2 transition.
type State string

const (
	StateIdle                State = "idle"
	StateFieldResolved       State = "field_resolved"
	StateFilled              State = "filled"
	StateTransitionTriggered State = "transition_triggered"
	StateSettled             State = "settled"
	StateReobserved          State = "reobserved"
	StateTerminal            State = "terminal"
)

// Submission is how the first step was confirmed.
type Submission string

const (
	SubmitNone  Submission = "none"
	SubmitClick Submission = "click"
	SubmitEnter Submission = "enter"
)

// StepReport records what the executor did on the live page.
type StepReport struct {
	States     []State
	Field      string
	Filled     bool
	Control    string
	Submission Submission
	// Skipped is set when no confirmation could be made at all.
	Skipped bool
	// Step2 is the second-stage answer. Lists are empty when the second
	// proposal failed.
	Step2       proposal.Step
	Step2Failed bool
}

func (r *StepReport) enter(s State) { r.States = append(r.States, s) }

// Reached reports whether the run passed through s.
func (r StepReport) Reached(s State) bool {
	for _, st := range r.States {
		if st == s {
			return true
		}
	}
	return false
}

// ExecutorOptions tune the live transition.
type ExecutorOptions struct {
	Settle       time.Duration
	ClickTimeout time.Duration
	Placeholder  string
}

// Executor drives a multi-step page from its first screen to its second
// and asks for the second step's patterns.
type Executor struct {
	doc      Document
	extract  Extractor
	proposer *guardedProposer
	opts     ExecutorOptions
	logger   zerolog.Logger
	metrics  *Metrics
}

func newExecutor(doc Document, extract Extractor, proposer *guardedProposer, opts ExecutorOptions, logger zerolog.Logger, metrics *Metrics) *Executor {
	return &Executor{
		doc:      doc,
		extract:  extract,
		proposer: proposer,
		opts:     opts,
		logger:   logger,
		metrics:  metrics,
	}
}

// Run performs the transition for c. snap is the first-screen snapshot used
// for control fallbacks. The returned error is only set when the page could
// not be re-observed or ctx ended.
func (e *Executor) Run(ctx context.Context, c Classification, snap snapshot.Snapshot) (StepReport, error) {
	rep := StepReport{States: []State{StateIdle}, Submission: SubmitNone}
	step1 := c.Step1
	if step1 == nil {
		step1 = &proposal.Step{FieldPatterns: c.Username, SubmitPatterns: c.Submit}
	}

	if field, ok := ResolveWithFallback(ctx, e.doc, step1.FieldPatterns, c.Username); ok {
		rep.Field = field
		rep.enter(StateFieldResolved)
		if err := e.doc.Fill(ctx, field, e.opts.Placeholder); err != nil {
			e.logger.Warn().Err(err).Str("selector", field).Msg("fill step-1 field")
		} else {
			rep.Filled = true
			rep.enter(StateFilled)
		}
	} else {
		e.logger.Debug().Strs("patterns", step1.FieldPatterns).Msg("step-1 field unresolved")
	}

	control, ok := Resolve(ctx, e.doc, step1.SubmitPatterns)
	if !ok {
		control, ok = Resolve(ctx, e.doc, snap.ControlSelectors())
	}
	switch {
	case ok:
		rep.Control = control
		rep.Submission = e.submit(ctx, control, rep.Field)
	case rep.Filled:
		rep.Submission = e.pressEnter(ctx, rep.Field, "no control")
	}

	if rep.Submission == SubmitNone {
		rep.Skipped = true
		e.logger.Info().Msg("step skipped")
	} else {
		rep.enter(StateTransitionTriggered)
		e.logger.Info().
			Str("submission", string(rep.Submission)).
			Str("control", rep.Control).
			Dur("settle", e.opts.Settle).
			Msg("transition triggered")
		if err := e.doc.Wait(ctx, e.opts.Settle); err != nil {
			return rep, err
		}
		rep.enter(StateSettled)
	}
	e.metrics.stepOutcome(rep)

	next, err := e.extract.Extract(ctx)
	if err != nil {
		return rep, fmt.Errorf("re-observe: %w", err)
	}
	rep.enter(StateReobserved)

	p, ok := e.proposer.propose(ctx, proposal.StagePassword, next)
	rep.Step2Failed = !ok
	rep.Step2 = proposal.Step{
		FieldType:      "password",
		FieldPatterns:  append([]string{}, p.Password...),
		SubmitPatterns: append([]string{}, p.Submit...),
	}
	rep.enter(StateTerminal)
	return rep, nil
}

func (e *Executor) submit(ctx context.Context, control, field string) Submission {
	disabled, err := e.doc.IsDisabled(ctx, control)
	if err != nil {
		e.logger.Debug().Err(err).Str("selector", control).Msg("disabled check")
	}
	if disabled {
		return e.pressEnter(ctx, field, "control disabled")
	}
	if err := e.doc.Click(ctx, control, e.opts.ClickTimeout); err != nil {
		e.logger.Warn().Err(err).Str("selector", control).Msg("click failed")
		return e.pressEnter(ctx, field, "click failed")
	}
	return SubmitClick
}

func (e *Executor) pressEnter(ctx context.Context, field, reason string) Submission {
	if field == "" {
		e.logger.Debug().Str("reason", reason).Msg("no field for keyboard submit")
		return SubmitNone
	}
	if err := e.doc.PressEnter(ctx, field); err != nil {
		e.logger.Warn().Err(err).Str("selector", field).Str("reason", reason).Msg("keyboard submit failed")
		return SubmitNone
	}
	e.logger.Debug().Str("selector", field).Str("reason", reason).Msg("submitted with enter")
	return SubmitEnter
}
