package controllers

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/pythonitalia/pycon-association/app/models"
	"github.com/pythonitalia/pycon-association/internal/pkg/archive"
	"github.com/pythonitalia/pycon-association/internal/pkg/association"
	"github.com/pythonitalia/pycon-association/internal/pkg/billing"
	"github.com/pythonitalia/pycon-association/internal/pkg/pretix"
	"github.com/pythonitalia/pycon-association/internal/pkg/stripe"
)

const defaultWebhookTimeout = 20 * time.Second

// WebhookConfig carries the collaborators of the webhook endpoints.
type WebhookConfig struct {
	Dispatcher      *association.Dispatcher
	Deliveries      *billing.Service
	Archive         archive.Archiver
	PretixSecret    string
	StripeSecret    string
	StripeTolerance time.Duration
	Timeout         time.Duration
	Now             func() time.Time
}

// WebhookController receives provider webhooks and feeds them to the dispatcher.
type WebhookController struct {
	cfg WebhookConfig
}

func NewWebhookController(cfg WebhookConfig) *WebhookController {
	if cfg.Archive == nil {
		cfg.Archive = archive.Noop{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultWebhookTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &WebhookController{cfg: cfg}
}

type delivery struct {
	provider       string
	eventID        string
	eventType      string
	raw            []byte
	signatureValid bool
	parseErr       error
}

// HandlePretixWebhook handles POST /webhooks/pretix.
func (w *WebhookController) HandlePretixWebhook(c *fiber.Ctx) error {
	raw := append([]byte(nil), c.BodyRaw()...)
	token := firstHeaderValue(c, "X-Pretix-Token")
	if token == "" {
		token = strings.TrimSpace(c.Query("token"))
	}

	d := delivery{
		provider:       models.PaymentProviderPretix,
		raw:            raw,
		signatureValid: sharedSecretEqual(token, w.cfg.PretixSecret),
	}
	ev, err := pretix.ParseWebhook(raw)
	if err != nil {
		d.parseErr = err
	} else {
		d.eventID = ev.DeliveryID()
		d.eventType = ev.Action
	}
	return w.process(c, d)
}

// HandleStripeWebhook handles POST /webhooks/stripe.
func (w *WebhookController) HandleStripeWebhook(c *fiber.Ctx) error {
	raw := append([]byte(nil), c.BodyRaw()...)
	sigErr := stripe.VerifySignature(raw, c.Get("Stripe-Signature"), w.cfg.StripeSecret, w.cfg.StripeTolerance, w.cfg.Now())
	if sigErr != nil {
		log.Warnf("[Webhook] Stripe signature rejected: %v", sigErr)
	}

	d := delivery{
		provider:       models.PaymentProviderStripe,
		raw:            raw,
		signatureValid: sigErr == nil,
	}
	ev, err := stripe.ParseEvent(raw)
	if err != nil {
		d.parseErr = err
	} else {
		d.eventID = ev.ID
		d.eventType = ev.Type
	}
	return w.process(c, d)
}

func (w *WebhookController) process(c *fiber.Ctx, d delivery) error {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.Timeout)
	defer cancel()

	svc := w.cfg.Deliveries
	created, stored, err := svc.RecordWebhookEvent(ctx, billing.WebhookEventInput{
		Provider:        d.provider,
		ProviderEventID: d.eventID,
		EventType:       d.eventType,
		PayloadJSON:     string(d.raw),
		SignatureValid:  d.signatureValid,
	})
	if err != nil {
		log.Errorf("[Webhook] Could not record %s delivery: %v", d.provider, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_persist_failed"})
	}
	if !created && stored.IsHandled() {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	}
	if !d.signatureValid {
		// Left retryable: an unsigned request must not shadow the genuine delivery with the same id.
		_ = svc.MarkWebhookFailed(ctx, stored.ID, errors.New("invalid webhook signature"))
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
	}
	if d.parseErr != nil {
		_ = svc.MarkWebhookProcessed(ctx, stored.ID, string(association.OutcomeRejected), d.parseErr)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}

	if err := w.cfg.Archive.Store(ctx, d.provider, stored.ProviderEventID, d.raw, stored.CreatedAt); err != nil {
		log.Warnf("[Webhook] Could not archive %s delivery %s: %v", d.provider, stored.ProviderEventID, err)
	}

	outcome, err := w.cfg.Dispatcher.Dispatch(ctx, d.provider, d.eventType, d.raw)
	if err != nil {
		_ = svc.MarkWebhookFailed(ctx, stored.ID, err)
		if errors.Is(err, association.ErrUpstream) {
			log.Warnf("[Webhook] %s delivery %s: provider unavailable: %v", d.provider, stored.ProviderEventID, err)
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "provider_unavailable"})
		}
		log.Errorf("[Webhook] %s delivery %s failed: %v", d.provider, stored.ProviderEventID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "processing_failed"})
	}

	if outcome.IsRejected() && association.IsUnresolvedIdentity(outcome.Err) {
		// Left retryable: the user or customer link may arrive after the payment.
		_ = svc.MarkWebhookFailed(ctx, stored.ID, outcome.Err)
		log.Warnf("[Webhook] %s delivery %s waits for its payer: %v", d.provider, stored.ProviderEventID, outcome.Err)
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"ok": false, "outcome": outcome.Kind, "error": outcome.Detail(), "retry": true})
	}

	_ = svc.MarkWebhookProcessed(ctx, stored.ID, string(outcome.Kind), outcome.Err)
	return c.Status(fiber.StatusOK).JSON(outcomeResponse(outcome))
}

func outcomeResponse(o association.Outcome) fiber.Map {
	switch o.Kind {
	case association.OutcomeAdmitted:
		res := fiber.Map{"ok": true, "outcome": o.Kind, "status": o.Status}
		if o.Payment != nil {
			res["payment_id"] = o.Payment.ID
		}
		return res
	case association.OutcomeRejected:
		res := fiber.Map{"ok": false, "outcome": o.Kind, "error": o.Detail()}
		if o.IsRenewal() {
			res["reason"] = o.Reason
		} else {
			log.Errorf("[Webhook] Rejected: %s", o.Detail())
		}
		if o.Payment != nil {
			res["payment_id"] = o.Payment.ID
			res["status"] = o.Status
		}
		return res
	default:
		return fiber.Map{"ok": true, "outcome": o.Kind, "reason": o.Detail()}
	}
}

func sharedSecretEqual(got, want string) bool {
	got = strings.TrimSpace(got)
	want = strings.TrimSpace(want)
	if got == "" || want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func firstHeaderValue(c *fiber.Ctx, keys ...string) string {
	for _, k := range keys {
		v := strings.TrimSpace(c.Get(k))
		if v != "" {
			return v
		}
	}
	return ""
}
