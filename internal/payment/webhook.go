package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tollgate/tollgate/internal/model"
	"github.com/tollgate/tollgate/internal/store"
)

// HandleWebhook processes a push notification from a settlement backend.
//
// It returns an error only for malformed or unauthenticated input; every
// other outcome (unknown charge, duplicate notification, expired request,
// non-settlement event) is a deliberate no-op so webhook senders are never
// told to retry something that needs no action.
func (s *Service) HandleWebhook(ctx context.Context, method model.PaymentMethod, body []byte, signature string) error {
	prov, ok := s.providers[method]
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidPaymentMethod, method)
	}

	event, err := prov.VerifyWebhook(body, signature)
	if err != nil {
		s.metrics.IncWebhookRejected(string(method))
		return err
	}

	if !prov.IsSettlement(event) {
		s.logger.Debug("ignoring non-settlement webhook",
			"method", method,
			"external_id", event.ExternalID,
		)
		return nil
	}

	req, err := s.store.GetPaymentRequestByExternalID(ctx, event.ExternalID)
	if err != nil {
		if errors.Is(err, store.ErrPaymentNotFound) {
			// Webhooks for unknown or foreign charges are expected noise.
			s.logger.Debug("webhook for unknown charge",
				"method", method,
				"external_id", event.ExternalID,
			)
			return nil
		}
		return fmt.Errorf("failed to look up payment request: %w", err)
	}

	if req.Status == model.PaymentPaid {
		s.metrics.IncSettleDuplicate()
		return nil
	}
	if req.Expired(time.Now()) {
		s.logger.Info("webhook for expired payment request",
			"payment_id", req.ID,
			"external_id", event.ExternalID,
		)
		return nil
	}

	// The Lightning payload carries no signature, so settlement is
	// re-verified against the backend before crediting. If the check call
	// itself fails the webhook flag is trusted as a fallback.
	if method == model.MethodLightning {
		paid, err := prov.CheckStatus(ctx, event.ExternalID)
		if err != nil {
			s.logger.Error("status re-check failed, trusting webhook payload",
				"payment_id", req.ID,
				"external_id", event.ExternalID,
				"error", err,
			)
		} else if !paid {
			s.logger.Warn("webhook claims payment but backend disagrees",
				"payment_id", req.ID,
				"external_id", event.ExternalID,
			)
			return nil
		}
	}

	return s.settle(ctx, req, "webhook")
}
