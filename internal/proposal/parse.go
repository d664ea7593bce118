package proposal

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrNoJSON is returned when a reply carries no JSON object.
var ErrNoJSON = errors.New("json not found")

// External key spellings per logical field, in priority order.
var (
	typeKeys         = []string{"type", "flow_type", "flowType", "login_type"}
	usernameKeys     = []string{"username_patterns", "usernamePatterns", "username", "email_patterns"}
	passwordKeys     = []string{"password_patterns", "passwordPatterns", "password"}
	submitKeys       = []string{"submit_patterns", "submitPatterns", "submit", "button_patterns"}
	stepCountKeys    = []string{"steps", "step_count", "stepCount"}
	step1Keys        = []string{"step_1", "step1", "steps.0"}
	step2Keys        = []string{"step_2", "step2", "steps.1"}
	fieldTypeKeys    = []string{"field_type", "fieldType", "role"}
	fieldPatternKeys = []string{"field_patterns", "fieldPatterns", "patterns", "field"}
	stepSubmitKeys   = []string{"submit_patterns", "submitPatterns", "submit"}
)

var fencedJSON = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*({.*})\\s*\x60\x60\x60")

// Parse normalizes a model reply into a Proposal. Missing fields default to
// empty lists; an unrecognized type is kept as is for the classifier to
// handle.
func Parse(text string) (Proposal, error) {
	js, err := extractJSON(text)
	if err != nil {
		return Proposal{}, err
	}
	if !gjson.Valid(js) {
		return Proposal{}, fmt.Errorf("llm json parse: invalid json %q", truncate(js, 120))
	}
	root := gjson.Parse(js)

	flow := parseFlowType(first(root, typeKeys).String())
	// Some replies nest the body under the variant name.
	for _, variant := range []FlowType{SimpleLogin, MultiStepLogin, Incomplete} {
		if body := root.Get(string(variant)); body.IsObject() {
			if flow == "" {
				flow = variant
			}
			root = body
			break
		}
	}

	p := Proposal{
		Type:     flow,
		Username: stringList(first(root, usernameKeys)),
		Password: stringList(first(root, passwordKeys)),
		Submit:   stringList(first(root, submitKeys)),
		Step1:    parseStep(first(root, step1Keys)),
		Step2:    parseStep(first(root, step2Keys)),
	}
	if n := first(root, stepCountKeys); n.Type == gjson.Number {
		p.Steps = int(n.Int())
	}
	return p, nil
}

func parseStep(r gjson.Result) *Step {
	if !r.IsObject() {
		return nil
	}
	return &Step{
		FieldType:      strings.TrimSpace(first(r, fieldTypeKeys).String()),
		FieldPatterns:  stringList(first(r, fieldPatternKeys)),
		SubmitPatterns: stringList(first(r, stepSubmitKeys)),
	}
}

// first returns the value of the first key present and non-null.
func first(r gjson.Result, keys []string) gjson.Result {
	for _, k := range keys {
		if v := r.Get(k); v.Exists() && v.Type != gjson.Null {
			return v
		}
	}
	return gjson.Result{}
}

// stringList accepts an array of strings or a single string.
func stringList(r gjson.Result) []string {
	out := []string{}
	switch {
	case r.IsArray():
		for _, item := range r.Array() {
			if item.Type != gjson.String {
				continue
			}
			if s := strings.TrimSpace(item.String()); s != "" {
				out = append(out, s)
			}
		}
	case r.Type == gjson.String:
		if s := strings.TrimSpace(r.String()); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// extractJSON finds the first balanced JSON object in text, preferring a
// fenced ```json block when present.
func extractJSON(text string) (string, error) {
	if m := fencedJSON.FindStringSubmatch(text); len(m) > 1 {
		text = m[1]
	}
	depth := 0
	start := -1
	inStr := false
	esc := false
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if esc {
			esc = false
			continue
		}
		switch ch {
		case '\\':
			if inStr {
				esc = true
			}
		case '"':
			if depth > 0 {
				inStr = !inStr
			}
		case '{':
			if !inStr {
				if depth == 0 {
					start = i
				}
				depth++
			}
		case '}':
			if !inStr && depth > 0 {
				depth--
				if depth == 0 && start != -1 {
					return text[start : i+1], nil
				}
			}
		}
	}
	return "", ErrNoJSON
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
