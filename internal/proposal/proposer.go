package proposal

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/polzovatel/login-pattern-finder/internal/llm"
	"github.com/polzovatel/login-pattern-finder/internal/snapshot"
)

// Proposer sends candidates to a model and parses the reply.
type Proposer struct {
	llm     llm.Client
	logger  zerolog.Logger
	verbose bool
}

func New(client llm.Client, logger zerolog.Logger, verbose bool) *Proposer {
	return &Proposer{llm: client, logger: logger, verbose: verbose}
}

// Propose returns the model's proposal for stage. Network and parse failures
// are returned; callers decide how to degrade.
func (p *Proposer) Propose(ctx context.Context, stage Stage, snap snapshot.Snapshot) (Proposal, error) {
	req, err := BuildRequest(stage, snap)
	if err != nil {
		return Proposal{}, err
	}
	p.trace().
		Str("stage", string(stage)).
		Str("model", p.llm.Name()).
		Str("prompt", req.Messages[0].Content).
		Msg("proposal prompt")

	resp, err := p.llm.Generate(ctx, req)
	if err != nil {
		return Proposal{}, fmt.Errorf("generate: %w", err)
	}
	p.trace().Str("stage", string(stage)).Str("reply", resp.Text).Msg("proposal reply")

	prop, err := Parse(resp.Text)
	if err != nil {
		return Proposal{}, fmt.Errorf("%w: raw=%q", err, truncate(resp.Text, 300))
	}
	return prop, nil
}

func (p *Proposer) trace() *zerolog.Event {
	if p.verbose {
		return p.logger.Info()
	}
	return p.logger.Debug()
}
