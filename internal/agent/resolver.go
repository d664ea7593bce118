package agent

import (
	"context"
	"strings"
)

// Counter is the part of Document the resolver needs.
type Counter interface {
	Count(ctx context.Context, selector string) (int, error)
}

// Resolve returns the first pattern that matches at least one element.
// Evaluation errors count as no match.
func Resolve(ctx context.Context, doc Counter, patterns []string) (string, bool) {
	return ResolveWithFallback(ctx, doc, patterns, nil)
}

// ResolveWithFallback tries primary in order, then fallback.
func ResolveWithFallback(ctx context.Context, doc Counter, primary, fallback []string) (string, bool) {
	if doc == nil {
		return "", false
	}
	for _, list := range [][]string{primary, fallback} {
		for _, p := range list {
			sel := sanitizeSelector(p)
			if sel == "" {
				continue
			}
			n, err := doc.Count(ctx, sel)
			if err != nil || n == 0 {
				continue
			}
			return sel, true
		}
	}
	return "", false
}

// sanitizeSelector collapses whitespace a model may leave inside a pattern.
func sanitizeSelector(sel string) string {
	return strings.Join(strings.Fields(sel), " ")
}
