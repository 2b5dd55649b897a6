package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"

	"github.com/pythonitalia/pycon-association/app/controllers"
)

type AdminRouter struct {
	admin    *controllers.AdminController
	user     string
	password string
}

func NewAdminRouter(admin *controllers.AdminController, user, password string) *AdminRouter {
	return &AdminRouter{admin: admin, user: user, password: password}
}

// InstallRouter registers the /internal endpoints. Without credentials the
// group is not mounted at all.
func (h AdminRouter) InstallRouter(app *fiber.App) {
	if h.admin == nil || h.user == "" || h.password == "" {
		return
	}
	internal := app.Group("/internal", basicauth.New(basicauth.Config{
		Users: map[string]string{h.user: h.password},
	}))
	internal.Get("/memberships/:userID", h.admin.HandleMembershipShow)
	internal.Post("/payments/:paymentID/cancel", h.admin.HandlePaymentCancel)
	internal.Get("/reconciliation", h.admin.HandleReconcileStatus)
	internal.Post("/reconciliation/run", h.admin.HandleReconcileRun)
}
