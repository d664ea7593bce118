package proposal

import (
	"encoding/json"
	"fmt"

	"github.com/polzovatel/login-pattern-finder/internal/llm"
	"github.com/polzovatel/login-pattern-finder/internal/snapshot"
)

const loginSystemPrompt = `You infer reusable selector patterns for login forms.
RULES:
1. Respond with a SINGLE JSON object and NOTHING else.
2. Patterns must be semantic and reusable across page instances: prefer input[type=...], [name=...], [autocomplete=...], button:has-text('...'), over ids that look generated.
3. Order every pattern list from most to least reliable.
4. If username and password are on one screen: {"type":"simple_login","username_patterns":[...],"password_patterns":[...],"submit_patterns":[...]}
5. If only the username/email is asked first: {"type":"multi_step_login","steps":2,"step_1":{"field_type":"username","field_patterns":[...],"submit_patterns":[...]}}
6. If the page does not look like a login form: {"type":"incomplete","username_patterns":[],"password_patterns":[],"submit_patterns":[]}`

const passwordSystemPrompt = `You infer reusable selector patterns for the password screen of a login flow.
RULES:
1. Respond with a SINGLE JSON object and NOTHING else.
2. Patterns must be semantic and reusable across page instances.
3. Order every pattern list from most to least reliable.
4. Format: {"password_patterns":[...],"submit_patterns":[...]}`

// Stage selects the prompt scope.
type Stage string

const (
	StageLogin    Stage = "login"
	StagePassword Stage = "password"
)

type promptFields struct {
	Fields   []snapshot.Field   `json:"fields"`
	Controls []snapshot.Control `json:"controls,omitempty"`
}

// BuildRequest assembles the model request for stage. The password stage
// only sends password-like fields and controls.
func BuildRequest(stage Stage, snap snapshot.Snapshot) (llm.Request, error) {
	system := loginSystemPrompt
	payload := promptFields{Fields: snap.Fields, Controls: snap.Controls}
	if stage == StagePassword {
		system = passwordSystemPrompt
		payload.Fields = passwordFields(snap.Fields)
	}
	if payload.Fields == nil {
		payload.Fields = []snapshot.Field{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return llm.Request{}, fmt.Errorf("marshal candidates: %w", err)
	}
	msg := fmt.Sprintf("PAGE: URL=%s, Title=%s\nCANDIDATES:\n%s\n\nOUTPUT FORMAT (strict JSON only, no text outside).", snap.URL, snap.Title, raw)
	return llm.Request{
		System:      system,
		Messages:    []llm.Message{{Role: "user", Content: msg}},
		Temperature: 0.0,
		MaxTokens:   600,
		JSON:        true,
	}, nil
}

// passwordFields keeps password inputs, or every field when none is typed
// password (some sites use type=text with a toggle).
func passwordFields(fields []snapshot.Field) []snapshot.Field {
	var out []snapshot.Field
	for _, f := range fields {
		if f.Type == "password" {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return fields
	}
	return out
}
