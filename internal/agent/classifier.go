package agent

import (
	"context"
	"strings"

	"github.com/polzovatel/login-pattern-finder/internal/proposal"
)

// Rule names a heuristic that overrides the model's declared flow type.
type Rule string

const (
	// RuleNoPassword fires when username patterns exist but no password patterns.
	RuleNoPassword Rule = "no_password_patterns"
	// RuleHiddenPassword fires when the first password pattern is not visible.
	RuleHiddenPassword Rule = "hidden_password"
	// RuleTransitionSubmit fires when a submit pattern reads like "Next".
	RuleTransitionSubmit Rule = "transition_submit"
)

var transitionWords = []string{"next", "continue", "verify", "proceed"}

// VisibilityProbe is the part of Document the classifier needs.
type VisibilityProbe interface {
	IsVisible(ctx context.Context, selector string) (bool, error)
}

// Classification is the corrected proposal plus the decisions behind it.
type Classification struct {
	proposal.Proposal
	// Declared is the type the model reported before any override.
	Declared  proposal.FlowType
	Overrides []Rule
}

// Overridden reports whether any heuristic changed the outcome.
func (c Classification) Overridden() bool { return len(c.Overrides) > 0 }

// Classify applies the multi-step heuristics to p. All rules are evaluated
// and recorded; any one of them forces a multi-step classification. p is
// not modified.
func Classify(ctx context.Context, p proposal.Proposal, probe VisibilityProbe) Classification {
	c := Classification{Proposal: p.Clone(), Declared: p.Type}

	if len(c.Username) > 0 && len(c.Password) == 0 {
		c.Overrides = append(c.Overrides, RuleNoPassword)
	}
	if len(c.Password) > 0 && !visible(ctx, probe, c.Password[0]) {
		c.Overrides = append(c.Overrides, RuleHiddenPassword)
	}
	if hasTransitionWord(c.Submit) || (c.Step1 != nil && hasTransitionWord(c.Step1.SubmitPatterns)) {
		c.Overrides = append(c.Overrides, RuleTransitionSubmit)
	}

	if c.Overridden() {
		c.Type = proposal.MultiStepLogin
	}
	if !c.Type.Known() {
		c.Type = proposal.Incomplete
	}
	if c.Type == proposal.MultiStepLogin {
		if c.Step1 == nil {
			c.Step1 = &proposal.Step{
				FieldType:      "username",
				FieldPatterns:  append([]string{}, c.Username...),
				SubmitPatterns: append([]string{}, c.Submit...),
			}
		}
		if c.Step1.FieldType == "" {
			c.Step1.FieldType = "username"
		}
		c.Steps = 2
	}
	return c
}

// visible treats probe errors and missing elements as hidden.
func visible(ctx context.Context, probe VisibilityProbe, selector string) bool {
	if probe == nil {
		return false
	}
	ok, err := probe.IsVisible(ctx, sanitizeSelector(selector))
	return err == nil && ok
}

func hasTransitionWord(patterns []string) bool {
	for _, p := range patterns {
		lower := strings.ToLower(p)
		for _, w := range transitionWords {
			if strings.Contains(lower, w) {
				return true
			}
		}
	}
	return false
}
