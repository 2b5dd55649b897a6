package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/pythonitalia/pycon-association/app/controllers"
	"github.com/pythonitalia/pycon-association/app/models"
	"github.com/pythonitalia/pycon-association/internal/pkg/archive"
	"github.com/pythonitalia/pycon-association/internal/pkg/association"
	"github.com/pythonitalia/pycon-association/internal/pkg/billing"
	"github.com/pythonitalia/pycon-association/internal/pkg/cache"
	"github.com/pythonitalia/pycon-association/internal/pkg/database"
	"github.com/pythonitalia/pycon-association/internal/pkg/env"
	"github.com/pythonitalia/pycon-association/internal/pkg/jobqueue"
	"github.com/pythonitalia/pycon-association/internal/pkg/metrics/counter"
	"github.com/pythonitalia/pycon-association/internal/pkg/pretix"
	"github.com/pythonitalia/pycon-association/internal/pkg/router"
	"github.com/pythonitalia/pycon-association/internal/pkg/stripe"
)

func main() {
	app, scheduler := NewApplication()
	scheduler.Start()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		log.Info("[Main] Shutting down")
		scheduler.Stop()
		if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
			log.Errorf("[Main] Shutdown failed: %v", err)
		}
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	if err != nil {
		log.Fatal(err)
	}
}

func NewApplication() (*fiber.App, *jobqueue.Manager) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	ctx := context.Background()
	db := database.GetDB()

	var rdb *redis.Client
	if err := cache.Ping(ctx); err == nil {
		rdb = cache.GetClient()
	} else {
		log.Warnf("[Main] Redis unavailable, scheduler runs without lock and runs are not recorded: %v", err)
	}

	directory := association.NewDirectory(db)
	activator := association.NewActivator(db, nil)
	admitter := association.NewAdmitter(db, activator)

	dispatcher := association.NewDispatcher().
		Register(models.PaymentProviderPretix, pretix.ActionOrderPaid,
			association.NewAdmissionHandler("Pretix", pretix.NewOrderPaidAdapterFromEnv(pretix.NewClientFromEnv(), directory), admitter)).
		Register(models.PaymentProviderStripe, stripe.EventInvoicePaid,
			association.NewAdmissionHandler("Stripe", stripe.NewInvoicePaidAdapter(directory), admitter)).
		Register(models.PaymentProviderStripe, stripe.EventCheckoutSessionComplete, stripe.NewCheckoutHandler(directory))
	for _, r := range dispatcher.Routes() {
		log.Infof("[Main] Handling %s", r)
	}

	archiveCfg, err := archive.LoadConfig()
	if err != nil {
		panic(err)
	}
	archiver, err := archive.New(ctx, archiveCfg)
	if err != nil {
		panic(err)
	}

	job := association.NewReconciliationJob(db, activator, env.GetEnvInt("RECONCILE_WORKERS", 4))
	var runs controllers.RunReporter
	if rdb != nil {
		recorder := counter.NewRecorder(rdb)
		job = job.WithRecorder(recorder)
		runs = recorder
	}
	scheduler := jobqueue.NewManager(job, rdb, env.GetEnvDuration("RECONCILE_INTERVAL", jobqueue.DefaultReconcileInterval))

	webhooks := controllers.NewWebhookController(controllers.WebhookConfig{
		Dispatcher:      dispatcher,
		Deliveries:      billing.NewServiceFromDB(db),
		Archive:         archiver,
		PretixSecret:    env.GetEnv("PRETIX_WEBHOOK_SECRET", ""),
		StripeSecret:    env.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripeTolerance: env.GetEnvDuration("STRIPE_SIGNATURE_TOLERANCE", stripe.DefaultSignatureTolerance),
	})
	admin := controllers.NewAdminController(db, scheduler, runs)

	app := fiber.New(fiber.Config{
		BodyLimit: 1 << 20,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	adminUser := env.GetEnv("ADMIN_USER", "")
	adminPassword := env.GetEnv("ADMIN_PASSWORD", "")

	// fiber metrics
	if adminUser != "" && adminPassword != "" {
		app.Get("/metrics", basicauth.New(basicauth.Config{
			Users: map[string]string{adminUser: adminPassword},
		}), monitor.New())
	}

	// SWAGGER / OPENAPI
	app.Use(swagger.New(swagger.Config{
		BasePath: "/docs/api/",
		FilePath: env.GetEnv("OPENAPI_FILE", "./public/docs/v1/openapi.yml"),
		Path:     "v1",
	}))

	// ROUTER
	router.InstallRouter(app, router.Deps{
		Webhooks:      webhooks,
		Admin:         admin,
		AdminUser:     adminUser,
		AdminPassword: adminPassword,
		WebhookLimiter: router.LimiterConfig{
			Max:     env.GetEnvInt("WEBHOOK_RATE_LIMIT", 120),
			Storage: router.NewLimiterStorage(ctx),
		},
	})

	return app, scheduler
}
