package agent

import (
	"context"
	"time"

	"github.com/polzovatel/login-pattern-finder/internal/proposal"
	"github.com/polzovatel/login-pattern-finder/internal/snapshot"
)

// Document is the live page as the engine sees it. Any method may fail for
// an invalid or stale selector; the engine treats that as a miss.
type Document interface {
	URL() string
	Count(ctx context.Context, selector string) (int, error)
	IsVisible(ctx context.Context, selector string) (bool, error)
	IsDisabled(ctx context.Context, selector string) (bool, error)
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string, timeout time.Duration) error
	PressEnter(ctx context.Context, selector string) error
	Wait(ctx context.Context, d time.Duration) error
}

// Extractor captures candidate fields and controls from the current page.
type Extractor interface {
	Extract(ctx context.Context) (snapshot.Snapshot, error)
}

// Proposer asks the semantic-inference service for patterns.
type Proposer interface {
	Propose(ctx context.Context, stage proposal.Stage, snap snapshot.Snapshot) (proposal.Proposal, error)
}
