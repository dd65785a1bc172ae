package ingestion

import (
	"context"

	"PredictLedger/internal/core"
	"PredictLedger/internal/event"
)

// Submitter applies a command and waits for the outcome. *core.Runner
// satisfies it.
type Submitter interface {
	Submit(ctx context.Context, cmd event.Command) (core.Outcome, error)
}

// AdminIngestService injects commands synchronously, for operators and
// tests. High-throughput producers use the NATS stream instead.
type AdminIngestService struct {
	parser    *Parser
	submitter Submitter
}

func NewAdminIngestService(parser *Parser, submitter Submitter) *AdminIngestService {
	return &AdminIngestService{parser: parser, submitter: submitter}
}

// Inject parses a command named by its wire name and applies it, stamped
// with the time it arrived. Admin commands carry no upstream partition, so
// ordering checks are skipped.
func (s *AdminIngestService) Inject(ctx context.Context, name string, data []byte) (core.Outcome, error) {
	ct, err := ParseCommandName(name)
	if err != nil {
		return core.Outcome{}, err
	}
	cmd, err := s.parser.Parse(ct, data, s.parser.now())
	if err != nil {
		return core.Outcome{}, err
	}
	return s.Submit(ctx, cmd)
}

// Submit applies an already-typed command.
func (s *AdminIngestService) Submit(ctx context.Context, cmd event.Command) (core.Outcome, error) {
	return s.submitter.Submit(ctx, cmd)
}
