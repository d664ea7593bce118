package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const defaultLimit = 200

// Field describes one observed input element. Selectors are ordered from
// most specific (id) to least specific (positional) and never empty.
type Field struct {
	ID          string   `json:"id,omitempty"`
	Name        string   `json:"name,omitempty"`
	Type        string   `json:"type,omitempty"`
	Placeholder string   `json:"placeholder,omitempty"`
	AriaLabel   string   `json:"aria_label,omitempty"`
	Label       string   `json:"label,omitempty"`
	Visible     bool     `json:"visible"`
	Selectors   []string `json:"selectors"`
}

// Control describes one observed clickable element.
type Control struct {
	Tag       string   `json:"tag"`
	Text      string   `json:"text,omitempty"`
	ID        string   `json:"id,omitempty"`
	Name      string   `json:"name,omitempty"`
	Type      string   `json:"type,omitempty"`
	AriaLabel string   `json:"aria_label,omitempty"`
	Visible   bool     `json:"visible"`
	Selectors []string `json:"selectors"`
}

// Snapshot is one extraction pass over the live document. Nothing in it
// carries identity across passes.
type Snapshot struct {
	URL      string    `json:"url"`
	Title    string    `json:"title"`
	Fields   []Field   `json:"fields"`
	Controls []Control `json:"controls"`
}

// Evaluator runs a script in the page and returns its JSON-compatible result.
type Evaluator interface {
	URL() string
	Title(ctx context.Context) string
	Evaluate(ctx context.Context, script string, arg any) (any, error)
}

// Collector extracts candidates from an Evaluator. It is safe to call
// repeatedly.
type Collector struct {
	page  Evaluator
	limit int
}

func NewCollector(page Evaluator) *Collector {
	return &Collector{page: page, limit: defaultLimit}
}

// Extract runs the collector script and decodes its result.
func (c *Collector) Extract(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	val, err := c.page.Evaluate(ctx, collectScript, c.limit)
	if err != nil {
		return Snapshot{}, fmt.Errorf("collect candidates: %w", err)
	}
	snap, err := decode(val)
	if err != nil {
		return Snapshot{}, err
	}
	snap.URL = c.page.URL()
	snap.Title = c.page.Title(ctx)
	return snap.clean(c.limit), nil
}

func decode(val any) (Snapshot, error) {
	raw, err := json.Marshal(val)
	if err != nil {
		return Snapshot{}, fmt.Errorf("encode candidates: %w", err)
	}
	var out struct {
		Fields   []Field   `json:"fields"`
		Controls []Control `json:"controls"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return Snapshot{}, fmt.Errorf("decode candidates: %w", err)
	}
	return Snapshot{Fields: out.Fields, Controls: out.Controls}, nil
}

// clean drops candidates without any selector, de-duplicates each selector
// list and applies the limit.
func (s Snapshot) clean(limit int) Snapshot {
	fields := make([]Field, 0, len(s.Fields))
	for _, f := range s.Fields {
		f.Selectors = dedupe(f.Selectors)
		if len(f.Selectors) == 0 {
			continue
		}
		fields = append(fields, f)
	}
	controls := make([]Control, 0, len(s.Controls))
	for _, c := range s.Controls {
		c.Selectors = dedupe(c.Selectors)
		if len(c.Selectors) == 0 {
			continue
		}
		c.Text = strings.Join(strings.Fields(c.Text), " ")
		controls = append(controls, c)
	}
	if limit > 0 {
		if len(fields) > limit {
			fields = fields[:limit]
		}
		if len(controls) > limit {
			controls = controls[:limit]
		}
	}
	s.Fields, s.Controls = fields, controls
	return s
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, sel := range in {
		sel = strings.TrimSpace(sel)
		if sel == "" {
			continue
		}
		if _, ok := seen[sel]; ok {
			continue
		}
		seen[sel] = struct{}{}
		out = append(out, sel)
	}
	return out
}

// ControlSelectors flattens every control's fallback selectors in
// extraction order.
func (s Snapshot) ControlSelectors() []string {
	var out []string
	for _, c := range s.Controls {
		out = append(out, c.Selectors...)
	}
	return out
}

// String renders a compact listing for logs.
func (s Snapshot) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "URL: %s\nTITLE: %s\nFIELDS:\n", s.URL, s.Title)
	for i, f := range s.Fields {
		fmt.Fprintf(&b, "%d) type=%s id=%s name=%s placeholder=%q aria=%q label=%q visible=%t selectors=%s\n",
			i+1, f.Type, f.ID, f.Name, f.Placeholder, f.AriaLabel, f.Label, f.Visible, strings.Join(f.Selectors, " | "))
	}
	b.WriteString("CONTROLS:\n")
	for i, c := range s.Controls {
		fmt.Fprintf(&b, "%d) tag=%s type=%s text=%q id=%s aria=%q visible=%t selectors=%s\n",
			i+1, c.Tag, c.Type, c.Text, c.ID, c.AriaLabel, c.Visible, strings.Join(c.Selectors, " | "))
	}
	return b.String()
}
