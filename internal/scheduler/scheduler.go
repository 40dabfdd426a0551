// Package scheduler runs the periodic sweeps: expire overdue accounts,
// reconcile pending payments and refresh peer metadata. Jobs call the
// same domain services as the dialog layer and never go through it.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"amnezia-bot/internal/metrics"
	"amnezia-bot/internal/payments"
	"amnezia-bot/internal/provisioning"
	"amnezia-bot/internal/subscription"
)

// Notifier delivers out-of-band messages and credentials to users.
type Notifier interface {
	SendNotification(telegramID int64, text string) error
	SendCredential(telegramID int64, text string, cred provisioning.Credential) error
	NotifyAdmins(text string) error
}

type Intervals struct {
	Expire    time.Duration
	Reconcile time.Duration
	Peers     time.Duration
}

type Service struct {
	ledger    *subscription.Ledger
	payments  *payments.Ledger
	prov      provisioning.Provisioner
	notifier  Notifier
	intervals Intervals
	log       *slog.Logger
	stop      chan struct{}
}

func NewService(ledger *subscription.Ledger, pays *payments.Ledger, prov provisioning.Provisioner, notifier Notifier, intervals Intervals, log *slog.Logger) *Service {
	return &Service{
		ledger:    ledger,
		payments:  pays,
		prov:      prov,
		notifier:  notifier,
		intervals: intervals,
		log:       log,
		stop:      make(chan struct{}),
	}
}

// Start runs the job loops until Stop or ctx cancellation.
func (s *Service) Start(ctx context.Context) {
	go s.loop(ctx, "expire_sweep", s.intervals.Expire, s.sweepExpired)
	go s.loop(ctx, "payment_reconcile", s.intervals.Reconcile, s.reconcilePayments)
	go s.loop(ctx, "peer_refresh", s.intervals.Peers, s.refreshPeers)
}

func (s *Service) Stop() {
	close(s.stop)
}

func (s *Service) loop(ctx context.Context, name string, every time.Duration, job func(context.Context) error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runJob(ctx, name, job)
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// runJob bounds every pass with a timeout so a stuck external call
// cannot wedge the loop past the next tick.
func (s *Service) runJob(ctx context.Context, name string, job func(context.Context) error) {
	metrics.JobRuns.WithLabelValues(name).Inc()

	jobCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	if err := job(jobCtx); err != nil {
		metrics.JobErrors.WithLabelValues(name).Inc()
		s.log.Error("scheduler job failed", "job", name, "err", err)
	}
}

func (s *Service) sweepExpired(ctx context.Context) error {
	swept, err := s.ledger.SweepExpired(ctx, time.Now())
	if err != nil {
		return err
	}
	if len(swept) == 0 {
		return nil
	}
	metrics.SweptAccounts.Add(float64(len(swept)))
	s.log.Info("expired accounts swept", "count", len(swept), "usernames", swept)

	text := "Отключены по истечении срока:"
	for _, username := range swept {
		text += "\n" + username
	}
	if err := s.notifier.NotifyAdmins(text); err != nil {
		s.log.Error("failed to notify admins about sweep", "err", err)
	}
	return nil
}

func (s *Service) reconcilePayments(ctx context.Context) error {
	completions, err := s.payments.ReconcilePending(ctx)
	if err != nil {
		return err
	}
	for _, c := range completions {
		metrics.ReconciledPayments.Inc()
		s.log.Info("payment completed",
			"payment", c.Intent.ID, "user_id", c.Intent.UserID, "username", c.Username)

		text := fmt.Sprintf("Оплата получена. Ваш аккаунт: %s.", c.Username)
		if err := s.notifier.SendCredential(c.Intent.UserID, text, c.Credential); err != nil {
			s.log.Error("failed to deliver paid credential",
				"user_id", c.Intent.UserID, "err", err)
		}
	}
	return nil
}

// refreshPeers pulls handshake and transfer stats from the daemon so
// listings and reports read fresh metadata from the peers document.
func (s *Service) refreshPeers(ctx context.Context) error {
	_, err := s.prov.ActivePeers(ctx)
	return err
}
