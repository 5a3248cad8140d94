package payment

import (
	"context"
	"errors"
	"time"

	"github.com/tollgate/tollgate/internal/model"
	"github.com/tollgate/tollgate/internal/provider"
	"github.com/tollgate/tollgate/internal/store"
)

// watch starts the pull-reconciliation loop for an in-flight Lightning
// payment. Fire-and-forget: the caller does not join it. The loop is
// self-terminating (poll budget equals the request's validity window) and
// settlement is idempotent, so racing the webhook path is safe.
func (s *Service) watch(requestID, externalID string, prov provider.Provider) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.poll(requestID, externalID, prov)
	}()
}

// poll checks the backend on an interval until the charge is paid, the
// request expires, the budget runs out, or the service shuts down.
// Transient provider errors are logged and retried.
func (s *Service) poll(requestID, externalID string, prov provider.Provider) {
	ctx, cancel := context.WithTimeout(s.baseCtx, s.expiry)
	defer cancel()

	logger := s.logger.With(
		"payment_id", requestID,
		"external_id", externalID,
	)
	logger.Debug("reconciliation poll started")

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				logger.Info("reconciliation poll timed out unpaid")
			}
			return
		case <-ticker.C:
			paid, err := prov.CheckStatus(ctx, externalID)
			if err != nil {
				logger.Warn("status check failed, retrying", "error", err)
				continue
			}
			if !paid {
				continue
			}

			req, err := s.store.GetPaymentRequest(ctx, requestID)
			if err != nil {
				if errors.Is(err, store.ErrPaymentNotFound) {
					logger.Info("payment request gone before settlement")
					return
				}
				logger.Warn("payment request lookup failed, retrying", "error", err)
				continue
			}

			if req.Status != model.PaymentPending {
				// The webhook path won the race; nothing to do.
				return
			}

			if err := s.settle(ctx, req, "poll"); err != nil {
				logger.Warn("settlement failed, retrying", "error", err)
				continue
			}
			return
		}
	}
}
