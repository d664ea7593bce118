// Package proposal turns candidate descriptors into pattern proposals using a
// generative model, and normalizes whatever shape the model replies with.
package proposal

import "strings"

type FlowType string

const (
	SimpleLogin    FlowType = "simple_login"
	MultiStepLogin FlowType = "multi_step_login"
	Incomplete     FlowType = "incomplete"
)

// Known reports whether t is one of the three flow types.
func (t FlowType) Known() bool {
	switch t {
	case SimpleLogin, MultiStepLogin, Incomplete:
		return true
	}
	return false
}

func parseFlowType(s string) FlowType {
	return FlowType(strings.ToLower(strings.TrimSpace(s)))
}

// Step is one screen of a multi-step flow.
type Step struct {
	FieldType      string
	FieldPatterns  []string
	SubmitPatterns []string
}

func (s *Step) clone() *Step {
	if s == nil {
		return nil
	}
	return &Step{
		FieldType:      s.FieldType,
		FieldPatterns:  cloneList(s.FieldPatterns),
		SubmitPatterns: cloneList(s.SubmitPatterns),
	}
}

// Proposal is the model's answer. All lists are non-nil after parsing.
type Proposal struct {
	Type     FlowType
	Username []string
	Password []string
	Submit   []string
	Steps    int
	Step1    *Step
	Step2    *Step
}

// IncompleteProposal is the proposal used when the model could not be
// reached or understood.
func IncompleteProposal() Proposal {
	return Proposal{
		Type:     Incomplete,
		Username: []string{},
		Password: []string{},
		Submit:   []string{},
	}
}

// Clone returns a deep copy.
func (p Proposal) Clone() Proposal {
	out := p
	out.Username = cloneList(p.Username)
	out.Password = cloneList(p.Password)
	out.Submit = cloneList(p.Submit)
	out.Step1 = p.Step1.clone()
	out.Step2 = p.Step2.clone()
	return out
}

func cloneList(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
