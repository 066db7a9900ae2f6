// Package routes defines the API routing configuration.
package routes

import (
	"fxwallet/internal/handlers"
	"fxwallet/internal/middleware"
	"fxwallet/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers is everything the router mounts. Gatherer may be nil to leave
// /metrics unmounted.
type Handlers struct {
	Auth       *middleware.AuthMiddleware
	Wallet     *handlers.WalletHandler
	Transfer   *handlers.TransferHandler
	Conversion *handlers.ConversionHandler
	TopUp      *handlers.TopUpHandler
	Webhook    *handlers.WebhookHandler
	Health     *handlers.HealthHandler
	Gatherer   prometheus.Gatherer
}

// SetupRoutes configures all application routes.
func SetupRoutes(app *fiber.App, h Handlers) {
	app.Get("/health", h.Health.HealthCheck)
	if h.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(h.Gatherer, promhttp.HandlerOpts{})))
	}

	// Providers authenticate by signature, not bearer token.
	app.Post("/webhooks/:provider", h.Webhook.Handle)

	api := app.Group("/api", h.Auth.Handler)

	wallets := api.Group("/wallets")
	wallets.Get("/", middleware.HasPermission(models.PermissionWalletRead), h.Wallet.ListWallets)
	wallets.Get("/:currency", middleware.HasPermission(models.PermissionWalletRead), h.Wallet.GetBalance)

	transactions := api.Group("/transactions")
	transactions.Get("/", middleware.HasPermission(models.PermissionTransactionRead), h.Wallet.ListTransactions)
	transactions.Get("/:reference", middleware.HasPermission(models.PermissionTransactionRead), h.Wallet.GetTransaction)

	api.Post("/transfers", middleware.HasPermission(models.PermissionTransactionWrite), h.Transfer.Transfer)
	api.Post("/withdrawals", middleware.HasPermission(models.PermissionPayout), h.Transfer.Withdraw)
	api.Post("/conversions", middleware.HasPermission(models.PermissionTransactionWrite), h.Conversion.Convert)

	topups := api.Group("/topups", middleware.HasPermission(models.PermissionWalletWrite))
	topups.Post("/", h.TopUp.Initiate)
	topups.Post("/paypal/:orderID/capture", h.TopUp.CapturePayPal)

	admin := api.Group("/admin", middleware.AdminAuthMiddleware)
	admin.Get("/wallets/:id/reconcile", h.Wallet.ReconcileWallet)
	admin.Get("/cache/stats", h.Health.CacheStats)
}
