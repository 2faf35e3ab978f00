package sweeper

import (
	"context"
	"log/slog"
	"time"

	polyErrors "github.com/aymenfurter/polyclaw-sub001/internal/errors"
	"github.com/aymenfurter/polyclaw-sub001/internal/gate"
	"github.com/aymenfurter/polyclaw-sub001/internal/idempotency"

	"github.com/robfig/cron/v3"
)

// Sweeper periodically prunes terminal invocations past their retention and
// expired idempotency keys. Retention exists so late duplicate resolves
// still find their (settled) record instead of creating a new one.
type Sweeper struct {
	cron      *cron.Cron
	ledger    *gate.Ledger
	dedupe    *idempotency.Store
	retention time.Duration
	schedule  string
}

func New(ledger *gate.Ledger, dedupe *idempotency.Store, schedule string, retention time.Duration) (*Sweeper, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, polyErrors.InvalidInput("invalid sweeper schedule: " + err.Error())
	}
	if retention <= 0 {
		retention = time.Hour
	}
	return &Sweeper{
		cron:      cron.New(),
		ledger:    ledger,
		dedupe:    dedupe,
		retention: retention,
		schedule:  schedule,
	}, nil
}

func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.Sweep); err != nil {
		return err
	}
	s.cron.Start()
	slog.Info("Sweeper started", "schedule", s.schedule, "retention", s.retention)
	return nil
}

func (s *Sweeper) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Sweep runs one pruning pass. Exposed so shutdown can force a final pass.
func (s *Sweeper) Sweep() {
	pruned := s.ledger.PruneTerminal(s.retention)

	expired := 0
	if s.dedupe != nil {
		expired = s.dedupe.Prune()
		if err := s.dedupe.Save(); err != nil {
			slog.Warn("Failed to persist idempotency store", "error", err)
		}
	}

	if pruned > 0 || expired > 0 {
		slog.Info("Sweep complete", "invocations_pruned", pruned, "keys_expired", expired)
	}
}
