package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/polzovatel/login-pattern-finder/internal/proposal"
	"github.com/polzovatel/login-pattern-finder/internal/snapshot"
	"github.com/polzovatel/login-pattern-finder/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeDoc struct {
	url      string
	counts   map[string]int
	broken   map[string]bool
	visible  map[string]bool
	disabled map[string]bool
	clickErr error
	fillErr  error
	actions  []string
	waited   time.Duration
}

func newFakeDoc() *fakeDoc {
	return &fakeDoc{
		url:      "https://accounts.example.com/login",
		counts:   map[string]int{},
		broken:   map[string]bool{},
		visible:  map[string]bool{},
		disabled: map[string]bool{},
	}
}

func (d *fakeDoc) URL() string { return d.url }

func (d *fakeDoc) Count(ctx context.Context, sel string) (int, error) {
	if d.broken[sel] {
		return 0, errors.New("invalid selector")
	}
	return d.counts[sel], nil
}

func (d *fakeDoc) IsVisible(ctx context.Context, sel string) (bool, error) {
	if d.broken[sel] {
		return false, errors.New("invalid selector")
	}
	return d.visible[sel], nil
}

func (d *fakeDoc) IsDisabled(ctx context.Context, sel string) (bool, error) {
	return d.disabled[sel], nil
}

func (d *fakeDoc) Fill(ctx context.Context, sel, value string) error {
	if d.fillErr != nil {
		return d.fillErr
	}
	d.actions = append(d.actions, "fill "+sel+"="+value)
	return nil
}

func (d *fakeDoc) Click(ctx context.Context, sel string, timeout time.Duration) error {
	if d.clickErr != nil {
		return d.clickErr
	}
	d.actions = append(d.actions, "click "+sel)
	return nil
}

func (d *fakeDoc) PressEnter(ctx context.Context, sel string) error {
	d.actions = append(d.actions, "enter "+sel)
	return nil
}

func (d *fakeDoc) Wait(ctx context.Context, dur time.Duration) error {
	d.waited += dur
	d.actions = append(d.actions, "wait")
	return ctx.Err()
}

type fakeExtractor struct {
	snaps []snapshot.Snapshot
	calls int
	err   error
}

func (e *fakeExtractor) Extract(ctx context.Context) (snapshot.Snapshot, error) {
	e.calls++
	if e.err != nil {
		return snapshot.Snapshot{}, e.err
	}
	if len(e.snaps) == 0 {
		return snapshot.Snapshot{}, nil
	}
	i := e.calls - 1
	if i >= len(e.snaps) {
		i = len(e.snaps) - 1
	}
	return e.snaps[i], nil
}

type answer struct {
	p   proposal.Proposal
	err error
}

type fakeProposer struct {
	answers map[proposal.Stage]answer
	stages  []proposal.Stage
}

func (f *fakeProposer) Propose(ctx context.Context, stage proposal.Stage, snap snapshot.Snapshot) (proposal.Proposal, error) {
	f.stages = append(f.stages, stage)
	a := f.answers[stage]
	return a.p, a.err
}

func flat(t proposal.FlowType, user, pass, submit []string) proposal.Proposal {
	return proposal.Proposal{Type: t, Username: user, Password: pass, Submit: submit}
}

var passwordAnswer = answer{p: flat(proposal.Incomplete, nil, []string{"input[type=password]"}, []string{"button[type=submit]"})}

func testOptions() Options {
	return Options{Settle: 2200 * time.Millisecond, ClickTimeout: time.Second, Placeholder: "test@example.com"}
}

func run(t *testing.T, doc Document, prop *fakeProposer, ext *fakeExtractor) (Result, *Metrics) {
	t.Helper()
	m := NewMetrics(prometheus.NewRegistry())
	res, err := NewOrchestrator(doc, ext, prop, testOptions(), zerolog.Nop(), m).Analyze(context.Background())
	require.NoError(t, err)
	return res, m
}

func TestSimpleLoginUnchanged(t *testing.T) {
	doc := newFakeDoc()
	doc.visible["input[type=password]"] = true
	prop := &fakeProposer{answers: map[proposal.Stage]answer{
		proposal.StageLogin: {p: flat(proposal.SimpleLogin,
			[]string{"input[type=email]"}, []string{"input[type=password]"}, []string{"button[type=submit]"})},
	}}
	ext := &fakeExtractor{}

	res, m := run(t, doc, prop, ext)

	assert.Equal(t, proposal.SimpleLogin, res.Classification.Type)
	assert.Empty(t, res.Classification.Overrides)
	assert.Nil(t, res.Report)
	assert.Equal(t, "accounts.example.com", res.Domain)
	require.NotNil(t, res.Record.SimpleLogin)
	assert.Equal(t, []string{"input[type=email]"}, res.Record.SimpleLogin.UsernamePatterns)
	assert.Empty(t, doc.actions)
	assert.Equal(t, 1, ext.calls)
	assert.Equal(t, []proposal.Stage{proposal.StageLogin}, prop.stages)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Classifications.WithLabelValues("simple_login")))
}

func TestHiddenPasswordForcesMultiStep(t *testing.T) {
	doc := newFakeDoc()
	doc.counts["input[type=email]"] = 1
	doc.counts["button[type=submit]"] = 1
	prop := &fakeProposer{answers: map[proposal.Stage]answer{
		proposal.StageLogin: {p: flat(proposal.SimpleLogin,
			[]string{"input[type=email]"}, []string{"input[type=password]"}, []string{"button[type=submit]"})},
		proposal.StagePassword: passwordAnswer,
	}}

	res, m := run(t, doc, prop, &fakeExtractor{})

	assert.Equal(t, []Rule{RuleHiddenPassword}, res.Classification.Overrides)
	assert.Equal(t, proposal.SimpleLogin, res.Classification.Declared)
	ms := res.Record.MultiStepLogin
	require.NotNil(t, ms)
	assert.Equal(t, 2, ms.Steps)
	assert.Equal(t, "username", ms.Step1.FieldType)
	assert.Equal(t, []string{"input[type=email]"}, ms.Step1.FieldPatterns)
	assert.Equal(t, store.Step{
		FieldType:      "password",
		FieldPatterns:  []string{"input[type=password]"},
		SubmitPatterns: []string{"button[type=submit]"},
	}, ms.Step2)
	assert.Equal(t, []string{"fill input[type=email]=test@example.com", "click button[type=submit]", "wait"}, doc.actions)
	assert.Equal(t, 2200*time.Millisecond, doc.waited)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Overrides.WithLabelValues(string(RuleHiddenPassword))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StepOutcomes.WithLabelValues("submitted_click")))
}

func TestNoPasswordAndTransitionWordBothFire(t *testing.T) {
	p := flat(proposal.SimpleLogin, []string{"#user"}, []string{}, []string{"button:has-text('Continue')"})
	c := Classify(context.Background(), p, newFakeDoc())

	assert.Equal(t, proposal.MultiStepLogin, c.Type)
	assert.Equal(t, []Rule{RuleNoPassword, RuleTransitionSubmit}, c.Overrides)
	require.NotNil(t, c.Step1)
	assert.Equal(t, []string{"#user"}, c.Step1.FieldPatterns)
	assert.Equal(t, []string{"button:has-text('Continue')"}, c.Step1.SubmitPatterns)
	assert.Equal(t, proposal.SimpleLogin, p.Type)
	assert.Nil(t, p.Step1)
}

func TestAllRulesEvaluated(t *testing.T) {
	doc := newFakeDoc()
	doc.broken["#pw"] = true
	p := proposal.Proposal{
		Type:     proposal.SimpleLogin,
		Username: []string{"#u"},
		Password: []string{"#pw"},
		Submit:   []string{"#go"},
		Step1:    &proposal.Step{SubmitPatterns: []string{"button:has-text('VERIFY')"}},
	}
	c := Classify(context.Background(), p, doc)

	assert.Equal(t, []Rule{RuleHiddenPassword, RuleTransitionSubmit}, c.Overrides)
	assert.Equal(t, "username", c.Step1.FieldType)
	assert.Equal(t, "", p.Step1.FieldType)
}

func TestClassifyUnknownTypeIsIncomplete(t *testing.T) {
	doc := newFakeDoc()
	doc.visible["#p"] = true
	c := Classify(context.Background(), flat("sso_redirect", []string{"#u"}, []string{"#p"}, nil), doc)
	assert.Equal(t, proposal.Incomplete, c.Type)
	assert.Empty(t, c.Overrides)

	rec := BuildRecord("https://x.test", c, nil)
	require.NotNil(t, rec.Incomplete)
	assert.Equal(t, []string{"#u"}, rec.Incomplete.UsernamePatterns)
	assert.Equal(t, []string{}, rec.Incomplete.SubmitPatterns)
}

func TestClassifyNoRulesFire(t *testing.T) {
	c := Classify(context.Background(), flat(proposal.Incomplete, nil, nil, nil), nil)
	assert.Equal(t, proposal.Incomplete, c.Type)
	assert.Empty(t, c.Overrides)
	assert.Nil(t, c.Step1)
}

func TestDeclaredMultiStepKeepsModelStep1(t *testing.T) {
	p := proposal.Proposal{
		Type:     proposal.MultiStepLogin,
		Username: []string{"#u"},
		Step1:    &proposal.Step{FieldType: "email", FieldPatterns: []string{"#email"}},
	}
	c := Classify(context.Background(), p, nil)
	assert.Equal(t, "email", c.Step1.FieldType)
	assert.Equal(t, []string{"#email"}, c.Step1.FieldPatterns)
	assert.Equal(t, 2, c.Steps)
}

func TestSkippedStepStillReobserves(t *testing.T) {
	doc := newFakeDoc()
	prop := &fakeProposer{answers: map[proposal.Stage]answer{
		proposal.StageLogin:    {p: flat(proposal.MultiStepLogin, []string{"#missing"}, nil, []string{"#nothing"})},
		proposal.StagePassword: passwordAnswer,
	}}
	ext := &fakeExtractor{}

	res, m := run(t, doc, prop, ext)

	require.NotNil(t, res.Report)
	assert.True(t, res.Report.Skipped)
	assert.False(t, res.Report.Reached(StateTransitionTriggered))
	assert.True(t, res.Report.Reached(StateReobserved))
	assert.Empty(t, doc.actions)
	assert.Zero(t, doc.waited)
	assert.Equal(t, 2, ext.calls)
	assert.Equal(t, []string{"input[type=password]"}, res.Record.MultiStepLogin.Step2.FieldPatterns)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StepOutcomes.WithLabelValues("skipped")))
}

func TestDisabledControlFallsBackToEnter(t *testing.T) {
	doc := newFakeDoc()
	doc.counts["#u"] = 1
	doc.counts["#next"] = 1
	doc.disabled["#next"] = true
	prop := &fakeProposer{answers: map[proposal.Stage]answer{
		proposal.StageLogin:    {p: flat(proposal.MultiStepLogin, []string{"#u"}, nil, []string{"#next"})},
		proposal.StagePassword: passwordAnswer,
	}}

	res, _ := run(t, doc, prop, &fakeExtractor{})

	assert.Equal(t, SubmitEnter, res.Report.Submission)
	assert.Equal(t, "#next", res.Report.Control)
	assert.Equal(t, []string{"fill #u=test@example.com", "enter #u", "wait"}, doc.actions)
}

func TestClickFailureFallsBackToEnter(t *testing.T) {
	doc := newFakeDoc()
	doc.counts["#u"] = 1
	doc.counts["#next"] = 1
	doc.clickErr = errors.New("intercepted")
	prop := &fakeProposer{answers: map[proposal.Stage]answer{
		proposal.StageLogin:    {p: flat(proposal.MultiStepLogin, []string{"#u"}, nil, []string{"#next"})},
		proposal.StagePassword: passwordAnswer,
	}}

	res, m := run(t, doc, prop, &fakeExtractor{})

	assert.Equal(t, SubmitEnter, res.Report.Submission)
	assert.Equal(t, []string{"fill #u=test@example.com", "enter #u", "wait"}, doc.actions)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StepOutcomes.WithLabelValues("submitted_enter")))
}

func TestControlFallbackFromSnapshot(t *testing.T) {
	doc := newFakeDoc()
	doc.counts["#u"] = 1
	doc.counts["form button"] = 1
	first := snapshot.Snapshot{Controls: []snapshot.Control{
		{Selectors: []string{"#gone", "form button"}},
	}}
	prop := &fakeProposer{answers: map[proposal.Stage]answer{
		proposal.StageLogin:    {p: flat(proposal.MultiStepLogin, []string{"#u"}, nil, []string{"#absent"})},
		proposal.StagePassword: passwordAnswer,
	}}

	res, _ := run(t, doc, prop, &fakeExtractor{snaps: []snapshot.Snapshot{first, {}}})

	assert.Equal(t, "form button", res.Report.Control)
	assert.Equal(t, SubmitClick, res.Report.Submission)
}

func TestNoControlButFilledPressesEnter(t *testing.T) {
	doc := newFakeDoc()
	doc.counts["#u"] = 1
	prop := &fakeProposer{answers: map[proposal.Stage]answer{
		proposal.StageLogin:    {p: flat(proposal.MultiStepLogin, []string{"#u"}, nil, nil)},
		proposal.StagePassword: passwordAnswer,
	}}

	res, _ := run(t, doc, prop, &fakeExtractor{})

	assert.Equal(t, SubmitEnter, res.Report.Submission)
	assert.Equal(t, []State{
		StateIdle, StateFieldResolved, StateFilled, StateTransitionTriggered,
		StateSettled, StateReobserved, StateTerminal,
	}, res.Report.States)
}

func TestModelStep2IsReplaced(t *testing.T) {
	doc := newFakeDoc()
	login := flat(proposal.MultiStepLogin, []string{"#u"}, nil, nil)
	login.Step2 = &proposal.Step{FieldType: "password", FieldPatterns: []string{"#model-guess"}}
	prop := &fakeProposer{answers: map[proposal.Stage]answer{
		proposal.StageLogin:    {p: login},
		proposal.StagePassword: {err: errors.New("rate limited")},
	}}

	res, m := run(t, doc, prop, &fakeExtractor{})

	assert.True(t, res.Report.Step2Failed)
	assert.Equal(t, store.Step{FieldType: "password", FieldPatterns: []string{}, SubmitPatterns: []string{}},
		res.Record.MultiStepLogin.Step2)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProposalFailures.WithLabelValues("password")))
}

func TestLoginProposalFailureIsIncomplete(t *testing.T) {
	prop := &fakeProposer{answers: map[proposal.Stage]answer{
		proposal.StageLogin: {err: errors.New("no api key")},
	}}

	res, m := run(t, newFakeDoc(), prop, &fakeExtractor{})

	require.NotNil(t, res.Record.Incomplete)
	assert.Equal(t, store.FlatForm{UsernamePatterns: []string{}, PasswordPatterns: []string{}, SubmitPatterns: []string{}},
		*res.Record.Incomplete)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProposalFailures.WithLabelValues("login")))
}

func TestAnalyzeErrors(t *testing.T) {
	ctx := context.Background()
	_, err := NewOrchestrator(nil, &fakeExtractor{}, &fakeProposer{}, testOptions(), zerolog.Nop(), nil).Analyze(ctx)
	require.ErrorIs(t, err, ErrNoDocument)

	boom := errors.New("page crashed")
	_, err = NewOrchestrator(newFakeDoc(), &fakeExtractor{err: boom}, &fakeProposer{}, testOptions(), zerolog.Nop(), nil).Analyze(ctx)
	require.ErrorIs(t, err, boom)
}

func TestAnalyzeHonorsCancellation(t *testing.T) {
	doc := newFakeDoc()
	doc.counts["#u"] = 1
	prop := &fakeProposer{answers: map[proposal.Stage]answer{
		proposal.StageLogin: {p: flat(proposal.MultiStepLogin, []string{"#u"}, nil, nil)},
	}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewOrchestrator(doc, &fakeExtractor{}, prop, testOptions(), zerolog.Nop(), nil).Analyze(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestResolverOrder(t *testing.T) {
	doc := newFakeDoc()
	doc.broken["P1"] = true
	doc.counts["P2"] = 3
	doc.counts["P3"] = 1
	ctx := context.Background()

	sel, ok := Resolve(ctx, doc, []string{"P0", "P1", "P2", "P3"})
	require.True(t, ok)
	assert.Equal(t, "P2", sel)

	again, _ := Resolve(ctx, doc, []string{"P0", "P1", "P2", "P3"})
	assert.Equal(t, sel, again)

	_, ok = Resolve(ctx, doc, []string{"P0", "P1"})
	assert.False(t, ok)

	sel, ok = ResolveWithFallback(ctx, doc, []string{"P0"}, []string{"P3"})
	require.True(t, ok)
	assert.Equal(t, "P3", sel)

	_, ok = Resolve(ctx, doc, nil)
	assert.False(t, ok)
}

func TestResolverSanitizes(t *testing.T) {
	doc := newFakeDoc()
	doc.counts["form  button"] = 1
	doc.counts["form button"] = 1
	sel, ok := Resolve(context.Background(), doc, []string{"  ", "form\n  button"})
	require.True(t, ok)
	assert.Equal(t, "form button", sel)
}

func TestFillFailureStillClicks(t *testing.T) {
	doc := newFakeDoc()
	doc.counts["#u"] = 1
	doc.counts["#next"] = 1
	doc.fillErr = errors.New("element is not editable")
	prop := &fakeProposer{answers: map[proposal.Stage]answer{
		proposal.StageLogin:    {p: flat(proposal.MultiStepLogin, []string{"#u"}, nil, []string{"#next"})},
		proposal.StagePassword: passwordAnswer,
	}}

	res, _ := run(t, doc, prop, &fakeExtractor{})

	assert.Equal(t, SubmitClick, res.Report.Submission)
	assert.False(t, res.Report.Filled)
	assert.True(t, res.Report.Reached(StateFieldResolved))
	assert.False(t, res.Report.Reached(StateFilled))
	assert.True(t, res.Report.Reached(StateTerminal))
	assert.Equal(t, []string{"click #next", "wait"}, doc.actions)
}

func TestFillFailureWithoutControlSkips(t *testing.T) {
	doc := newFakeDoc()
	doc.counts["#u"] = 1
	doc.fillErr = errors.New("element is not editable")
	prop := &fakeProposer{answers: map[proposal.Stage]answer{
		proposal.StageLogin:    {p: flat(proposal.MultiStepLogin, []string{"#u"}, nil, nil)},
		proposal.StagePassword: passwordAnswer,
	}}

	res, _ := run(t, doc, prop, &fakeExtractor{})

	assert.True(t, res.Report.Skipped)
	assert.Equal(t, SubmitNone, res.Report.Submission)
	assert.Empty(t, doc.actions)
	assert.Equal(t, []string{"input[type=password]"}, res.Record.MultiStepLogin.Step2.FieldPatterns)
}

func logLine(t *testing.T, buf *bytes.Buffer, msg string) map[string]any {
	t.Helper()
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		if json.Unmarshal([]byte(line), &entry) == nil && entry["message"] == msg {
			return entry
		}
	}
	t.Fatalf("no log line %q in:\n%s", msg, buf.String())
	return nil
}

func TestProposalFailureLogLevel(t *testing.T) {
	for _, tc := range []struct {
		verbose bool
		level   string
	}{
		{verbose: false, level: "debug"},
		{verbose: true, level: "warn"},
	} {
		var buf bytes.Buffer
		opts := testOptions()
		opts.Verbose = tc.verbose
		prop := &fakeProposer{answers: map[proposal.Stage]answer{
			proposal.StageLogin: {err: errors.New("no api key")},
		}}

		_, err := NewOrchestrator(newFakeDoc(), &fakeExtractor{}, prop, opts, zerolog.New(&buf), nil).Analyze(context.Background())
		require.NoError(t, err)
		assert.Equal(t, tc.level, logLine(t, &buf, "proposal failed, using empty patterns")["level"], "verbose=%t", tc.verbose)
	}
}

func TestVerboseLogsCandidates(t *testing.T) {
	var buf bytes.Buffer
	opts := testOptions()
	opts.Verbose = true
	doc := newFakeDoc()
	doc.visible["#pw"] = true
	ext := &fakeExtractor{snaps: []snapshot.Snapshot{{
		Fields: []snapshot.Field{{Type: "email", Selectors: []string{"#email"}}},
	}}}
	prop := &fakeProposer{answers: map[proposal.Stage]answer{
		proposal.StageLogin: {p: flat(proposal.SimpleLogin, []string{"#email"}, []string{"#pw"}, nil)},
	}}

	_, err := NewOrchestrator(doc, ext, prop, opts, zerolog.New(&buf), nil).Analyze(context.Background())
	require.NoError(t, err)
	entry := logLine(t, &buf, "candidates extracted")
	assert.Equal(t, "info", entry["level"])
	assert.Contains(t, entry["candidates"], "#email")
}
