package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/pythonitalia/pycon-association/app/controllers"
)

// LimiterConfig bounds webhook deliveries per client IP. A nil Storage keeps
// the counters in memory.
type LimiterConfig struct {
	Max        int
	Expiration time.Duration
	Storage    fiber.Storage
}

type WebhookRouter struct {
	webhooks *controllers.WebhookController
	limits   LimiterConfig
}

func NewWebhookRouter(webhooks *controllers.WebhookController, limits LimiterConfig) *WebhookRouter {
	if limits.Max <= 0 {
		limits.Max = 120
	}
	if limits.Expiration <= 0 {
		limits.Expiration = time.Minute
	}
	return &WebhookRouter{webhooks: webhooks, limits: limits}
}

func (h WebhookRouter) InstallRouter(app *fiber.App) {
	hooks := app.Group("/webhooks", limiter.New(limiter.Config{
		Max:        h.limits.Max,
		Expiration: h.limits.Expiration,
		Storage:    h.limits.Storage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate_limited"})
		},
	}))
	hooks.Post("/pretix", h.webhooks.HandlePretixWebhook)
	hooks.Post("/stripe", h.webhooks.HandleStripeWebhook)
}
