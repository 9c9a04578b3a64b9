package http

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/config"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/core/services"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/infrastructure/logger"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/transport/http/handlers"
	httpmw "github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/transport/http/middleware"
	"github.com/yuegu1433/skill-seeker-dashboard-sub003/internal/transport/ws"
)

type RouterConfig struct {
	Logger        *logger.Logger
	Config        *config.Config
	Progress      *services.ProgressManager
	Notifications *services.NotificationManager
	Preferences   *services.PreferenceService
	Rules         *services.RuleEngine
	RuleReloader  handlers.RuleReloader
	Bus           *services.EventBus
	Hub           *ws.Hub
}

func SetupRoutes(app *fiber.App, cfg RouterConfig) {
	taskHandler := handlers.NewTaskHandler(cfg.Progress, cfg.Progress, cfg.Logger.Named("tasks"))
	notificationHandler := handlers.NewNotificationHandler(cfg.Notifications, cfg.Notifications, cfg.Preferences, cfg.Logger.Named("notifications"))
	ruleHandler := handlers.NewRuleHandler(cfg.Rules, cfg.RuleReloader, cfg.Logger.Named("rules"))
	eventHandler := handlers.NewEventHandler(cfg.Bus, cfg.Hub)
	wsHandler := ws.NewHandler(cfg.Hub, cfg.Logger.Named("ws"))

	// Live progress and notification stream
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return c.SendStatus(fiber.StatusUpgradeRequired)
	})
	app.Get("/ws", httpmw.UserAuth(cfg.Config), websocket.New(wsHandler.Handle))

	api := app.Group("/api/v1")

	// Task routes
	tasks := api.Group("/tasks", httpmw.AdminAuth(cfg.Config))
	tasks.Post("/", taskHandler.CreateTask)
	tasks.Get("/", taskHandler.ListTasks)
	tasks.Post("/aggregate", taskHandler.Aggregate)
	tasks.Post("/batch/progress", taskHandler.BatchProgress)
	tasks.Get("/stats/categories", taskHandler.CategoryStats)
	tasks.Get("/:id", taskHandler.GetTask)
	tasks.Put("/:id/progress", taskHandler.UpdateProgress)
	tasks.Put("/:id/status", taskHandler.UpdateStatus)
	tasks.Delete("/:id", taskHandler.DeleteTask)

	// Notification admin routes (must be before the user group)
	notifyAdmin := api.Group("/admin/notifications", httpmw.AdminAuth(cfg.Config))
	notifyAdmin.Post("/", notificationHandler.Create)
	notifyAdmin.Post("/batch", notificationHandler.Batch)
	notifyAdmin.Post("/retry", notificationHandler.Retry)
	notifyAdmin.Get("/stats", notificationHandler.Stats)

	// Notification routes for the calling user
	notifications := api.Group("/notifications", httpmw.UserAuth(cfg.Config))
	notifications.Get("/", notificationHandler.List)
	notifications.Get("/unread-count", notificationHandler.UnreadCount)
	notifications.Post("/read-all", notificationHandler.MarkAllRead)
	notifications.Get("/preferences", notificationHandler.GetPreferences)
	notifications.Put("/preferences", notificationHandler.SetPreferences)
	notifications.Get("/:id", notificationHandler.Get)
	notifications.Post("/:id/read", notificationHandler.MarkRead)
	notifications.Delete("/:id", notificationHandler.Delete)

	// Rule routes
	rules := api.Group("/rules", httpmw.AdminAuth(cfg.Config))
	rules.Post("/", ruleHandler.Create)
	rules.Get("/", ruleHandler.List)
	rules.Post("/evaluate", ruleHandler.Evaluate)
	rules.Post("/reload", ruleHandler.Reload)
	rules.Get("/stats", ruleHandler.Stats)
	rules.Get("/:id", ruleHandler.Get)
	rules.Put("/:id", ruleHandler.Update)
	rules.Delete("/:id", ruleHandler.Delete)

	// Event bus introspection
	events := api.Group("/events", httpmw.AdminAuth(cfg.Config))
	events.Get("/stats", eventHandler.Stats)
	events.Get("/handlers", eventHandler.ListHandlers)
	events.Get("/handlers/:id", eventHandler.GetHandler)
}
