// Package agent infers the login flow of the page a Document is showing and
// assembles the record that describes it.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/polzovatel/login-pattern-finder/internal/config"
	"github.com/polzovatel/login-pattern-finder/internal/proposal"
	"github.com/polzovatel/login-pattern-finder/internal/snapshot"
	"github.com/polzovatel/login-pattern-finder/internal/store"
)

// ErrNoDocument is returned when Analyze is invoked without a live page.
var ErrNoDocument = errors.New("agent: no document handle")

// Options control one analysis run.
type Options struct {
	Settle       time.Duration
	ClickTimeout time.Duration
	Placeholder  string
	Verbose      bool
}

// OptionsFromConfig maps the invocation config onto engine options.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Settle:       cfg.WaitAfterClick(),
		ClickTimeout: cfg.ClickTimeout(),
		Placeholder:  cfg.PlaceholderCredential,
		Verbose:      cfg.PromptVerbose,
	}
}

// Result is the outcome of Analyze.
type Result struct {
	RunID          string
	URL            string
	Domain         string
	Record         store.Record
	Classification Classification
	// Report is nil unless the flow was executed as multi-step.
	Report *StepReport
}

type Orchestrator struct {
	doc      Document
	extract  Extractor
	proposer *guardedProposer
	opts     Options
	logger   zerolog.Logger
	metrics  *Metrics
}

func NewOrchestrator(doc Document, extract Extractor, proposer Proposer, opts Options, logger zerolog.Logger, metrics *Metrics) *Orchestrator {
	logger = logger.With().Str("comp", "agent").Logger()
	return &Orchestrator{
		doc:     doc,
		extract: extract,
		proposer: &guardedProposer{
			inner:   proposer,
			logger:  logger,
			verbose: opts.Verbose,
			metrics: metrics,
		},
		opts:    opts,
		logger:  logger,
		metrics: metrics,
	}
}

// Analyze inspects the current page and returns the record for it. Model
// failures degrade to empty patterns; only a missing page, extraction
// failure or ctx cancellation are returned as errors.
func (o *Orchestrator) Analyze(ctx context.Context) (Result, error) {
	if o.doc == nil {
		return Result{}, ErrNoDocument
	}
	if o.extract == nil || o.proposer.inner == nil {
		return Result{}, errors.New("agent: extractor and proposer are required")
	}

	res := Result{RunID: uuid.NewString(), URL: o.doc.URL()}
	res.Domain = store.Domain(res.URL)
	logger := o.logger.With().Str("run", res.RunID).Str("url", res.URL).Logger()
	proposer := o.proposer.withLogger(logger)

	snap, err := o.extract.Extract(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("extract candidates: %w", err)
	}
	if o.opts.Verbose {
		logger.Info().Str("candidates", snap.String()).Msg("candidates extracted")
	} else {
		logger.Debug().Int("fields", len(snap.Fields)).Int("controls", len(snap.Controls)).Msg("candidates extracted")
	}

	p, _ := proposer.propose(ctx, proposal.StageLogin, snap)
	res.Classification = Classify(ctx, p, o.doc)
	o.trace(logger, res.Classification)
	o.metrics.classified(res.Classification)

	if res.Classification.Type == proposal.MultiStepLogin {
		exec := newExecutor(o.doc, o.extract, proposer, ExecutorOptions{
			Settle:       o.opts.Settle,
			ClickTimeout: o.opts.ClickTimeout,
			Placeholder:  o.opts.Placeholder,
		}, logger, o.metrics)
		rep, err := exec.Run(ctx, res.Classification, snap)
		if err != nil {
			return Result{}, err
		}
		res.Report = &rep
	}

	res.Record = BuildRecord(res.URL, res.Classification, res.Report)
	logger.Info().Str("type", res.Record.Type()).Str("domain", res.Domain).Msg("analysis complete")
	return res, nil
}

func (o *Orchestrator) trace(logger zerolog.Logger, c Classification) {
	ev := logger.Debug()
	if o.opts.Verbose {
		ev = logger.Info()
	}
	rules := make([]string, len(c.Overrides))
	for i, r := range c.Overrides {
		rules[i] = string(r)
	}
	ev.Str("declared", string(c.Declared)).
		Str("type", string(c.Type)).
		Strs("overrides", rules).
		Msg("classified")
}

// BuildRecord assembles the persisted record. rep supplies step 2 for
// multi-step flows; the model's own step 2 is never used.
func BuildRecord(url string, c Classification, rep *StepReport) store.Record {
	rec := store.Record{URL: url}
	flat := &store.FlatForm{
		UsernamePatterns: append([]string{}, c.Username...),
		PasswordPatterns: append([]string{}, c.Password...),
		SubmitPatterns:   append([]string{}, c.Submit...),
	}
	switch c.Type {
	case proposal.SimpleLogin:
		rec.SimpleLogin = flat
	case proposal.MultiStepLogin:
		ms := &store.MultiStep{Steps: 2, Step2: store.Step{FieldType: "password"}}
		if c.Step1 != nil {
			ms.Step1 = storeStep(*c.Step1)
		}
		if rep != nil {
			ms.Step2 = storeStep(rep.Step2)
		}
		rec.MultiStepLogin = ms
	default:
		rec.Incomplete = flat
	}
	return rec
}

func storeStep(s proposal.Step) store.Step {
	return store.Step{
		FieldType:      s.FieldType,
		FieldPatterns:  append([]string{}, s.FieldPatterns...),
		SubmitPatterns: append([]string{}, s.SubmitPatterns...),
	}
}

// guardedProposer turns model failures into an empty answer.
type guardedProposer struct {
	inner   Proposer
	logger  zerolog.Logger
	verbose bool
	metrics *Metrics
}

func (g *guardedProposer) withLogger(logger zerolog.Logger) *guardedProposer {
	cp := *g
	cp.logger = logger
	return &cp
}

// propose reports false when the answer had to be replaced.
func (g *guardedProposer) propose(ctx context.Context, stage proposal.Stage, snap snapshot.Snapshot) (proposal.Proposal, bool) {
	p, err := g.inner.Propose(ctx, stage, snap)
	if err != nil {
		ev := g.logger.Debug()
		if g.verbose {
			ev = g.logger.Warn()
		}
		ev.Err(err).Str("stage", string(stage)).Msg("proposal failed, using empty patterns")
		g.metrics.proposalFailed(string(stage))
		return proposal.IncompleteProposal(), false
	}
	return p, true
}
