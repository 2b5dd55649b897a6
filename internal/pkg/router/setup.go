package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/pythonitalia/pycon-association/app/controllers"
)

// Router registers one group of routes on the app.
type Router interface {
	InstallRouter(app *fiber.App)
}

// Deps are the controllers and settings the routers need.
type Deps struct {
	Webhooks       *controllers.WebhookController
	Admin          *controllers.AdminController
	AdminUser      string
	AdminPassword  string
	WebhookLimiter LimiterConfig
}

func InstallRouter(app *fiber.App, deps Deps) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	setup(app, NewWebhookRouter(deps.Webhooks, deps.WebhookLimiter), NewAdminRouter(deps.Admin, deps.AdminUser, deps.AdminPassword))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
