package store

// Flow type names as persisted.
const (
	SimpleLogin    = "simple_login"
	MultiStepLogin = "multi_step_login"
	Incomplete     = "incomplete"
)

// Record is the single latest result for one domain. Exactly one of the
// variant fields is set.
type Record struct {
	URL            string     `json:"url" yaml:"url"`
	SimpleLogin    *FlatForm  `json:"simple_login,omitempty" yaml:"simple_login,omitempty"`
	MultiStepLogin *MultiStep `json:"multi_step_login,omitempty" yaml:"multi_step_login,omitempty"`
	Incomplete     *FlatForm  `json:"incomplete,omitempty" yaml:"incomplete,omitempty"`
}

// FlatForm holds the single-screen pattern lists.
type FlatForm struct {
	UsernamePatterns []string `json:"username_patterns" yaml:"username_patterns"`
	PasswordPatterns []string `json:"password_patterns" yaml:"password_patterns"`
	SubmitPatterns   []string `json:"submit_patterns" yaml:"submit_patterns"`
}

type MultiStep struct {
	Steps int  `json:"steps" yaml:"steps"`
	Step1 Step `json:"step_1" yaml:"step_1"`
	Step2 Step `json:"step_2" yaml:"step_2"`
}

type Step struct {
	FieldType      string   `json:"field_type" yaml:"field_type"`
	FieldPatterns  []string `json:"field_patterns" yaml:"field_patterns"`
	SubmitPatterns []string `json:"submit_patterns" yaml:"submit_patterns"`
}

// Type reports which variant the record carries.
func (r Record) Type() string {
	switch {
	case r.MultiStepLogin != nil:
		return MultiStepLogin
	case r.SimpleLogin != nil:
		return SimpleLogin
	default:
		return Incomplete
	}
}

// normalize replaces nil pattern lists with empty ones so that every list is
// present in both output formats.
func (r Record) normalize() Record {
	if r.SimpleLogin != nil {
		f := r.SimpleLogin.normalize()
		r.SimpleLogin = &f
	}
	if r.Incomplete != nil {
		f := r.Incomplete.normalize()
		r.Incomplete = &f
	}
	if r.MultiStepLogin != nil {
		m := *r.MultiStepLogin
		m.Step1 = m.Step1.normalize()
		m.Step2 = m.Step2.normalize()
		r.MultiStepLogin = &m
	}
	return r
}

func (f FlatForm) normalize() FlatForm {
	return FlatForm{
		UsernamePatterns: nonNil(f.UsernamePatterns),
		PasswordPatterns: nonNil(f.PasswordPatterns),
		SubmitPatterns:   nonNil(f.SubmitPatterns),
	}
}

func (s Step) normalize() Step {
	s.FieldPatterns = nonNil(s.FieldPatterns)
	s.SubmitPatterns = nonNil(s.SubmitPatterns)
	return s
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
