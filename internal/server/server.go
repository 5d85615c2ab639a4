package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/medreminder/internal/auth"
	"github.com/dukerupert/medreminder/internal/billing"
	"github.com/dukerupert/medreminder/internal/config"
	"github.com/dukerupert/medreminder/internal/dispatch"
	"github.com/dukerupert/medreminder/internal/dose"
	"github.com/dukerupert/medreminder/internal/email"
	"github.com/dukerupert/medreminder/internal/handler"
	"github.com/dukerupert/medreminder/internal/middleware"
	"github.com/dukerupert/medreminder/internal/push"
	"github.com/dukerupert/medreminder/internal/registry"
	"github.com/dukerupert/medreminder/internal/reminder"
	"github.com/dukerupert/medreminder/internal/store"
	ws "github.com/dukerupert/medreminder/internal/websocket"
)

const (
	testReminderLimit  = 10
	testReminderWindow = time.Minute
)

type Server struct {
	db            *sql.DB
	hub           *ws.Hub
	verifier      *auth.Verifier
	userStore     *store.UserStore
	deliveryStore *store.DeliveryStore
	rateLimiter   *middleware.RateLimiter
	scheduler     *reminder.Scheduler
	reminderH     *handler.ReminderHandler
	pushH         *handler.PushHandler
	medicationH   *handler.MedicationHandler
	scheduleH     *handler.ScheduleHandler
	doseH         *handler.DoseHandler
	webhookH      *billing.WebhookHandler
	wsOrigins     []string
	logger        *slog.Logger
}

// New wires stores, channel providers, the dispatcher and the reminder
// scheduler from cfg. The scheduler is built but not started.
func New(db *sql.DB, cfg *config.Config, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))

	userStore := store.NewUserStore(db)
	pushStore := store.NewPushStore(db)
	medStore := store.NewMedicationStore(db)
	scheduleStore := store.NewScheduleStore(db)
	deliveryStore := store.NewDeliveryStore(db)

	reg := registry.New(userStore, pushStore)
	emailClient := email.NewClient(cfg.PostmarkToken, cfg.FromEmail, cfg.BaseURL)
	pushSvc := push.NewService(push.Config{
		VAPIDPublicKey:  cfg.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.VAPIDPrivateKey,
		Subscriber:      cfg.VAPIDSubject,
	})
	if !emailClient.Configured() {
		logger.Warn("POSTMARK_TOKEN not set, email deliveries will fail")
	}
	if !pushSvc.Configured() {
		logger.Warn("VAPID keys not set, push deliveries will fail")
	}
	dispatcher := dispatch.New(reg, emailClient, pushSvc, hub, deliveryStore, logger)

	tracker := dose.NewTracker(store.NewDoseStore(db), dose.Windows{
		GraceWindow:     cfg.GraceWindow,
		EscalationDelay: cfg.EscalationDelay,
		MissedAfter:     cfg.MissedAfter,
	}, logger.With("component", "dose"))

	sched := reminder.NewScheduler(reminder.Deps{
		Tracker:     tracker,
		Schedules:   scheduleStore,
		Medications: medStore,
		Users:       userStore,
		Caregivers:  store.NewCaregiverStore(db),
		State:       store.NewStateStore(db),
		Dispatcher:  dispatcher,
	}, reminder.Config{
		Interval:     cfg.TickInterval,
		CatchUpLimit: cfg.CatchUpLimit,
	}, logger)

	var customers billing.CustomerLookup
	if cfg.StripeSecretKey != "" {
		customers = billing.NewStripeCustomers(cfg.StripeSecretKey)
	}
	var webhookH *billing.WebhookHandler
	if cfg.StripeWebhookSecret != "" {
		webhookH = billing.NewWebhookHandler(cfg.StripeWebhookSecret, store.NewBillingStore(db), customers, logger)
	}

	return &Server{
		db:            db,
		hub:           hub,
		verifier:      auth.NewVerifier(cfg.JWTSecret),
		userStore:     userStore,
		deliveryStore: deliveryStore,
		rateLimiter:   middleware.NewRateLimiter(),
		scheduler:     sched,
		reminderH:     handler.NewReminderHandler(dispatcher, logger.With("component", "reminder_handler")),
		pushH:         handler.NewPushHandler(reg, dispatcher, pushSvc.VAPIDPublicKey(), logger.With("component", "push_handler")),
		medicationH:   handler.NewMedicationHandler(medStore, dispatcher, cfg.LowStockThreshold, logger.With("component", "medication")),
		scheduleH:     handler.NewScheduleHandler(scheduleStore, medStore, tracker, logger.With("component", "schedule")),
		doseH:         handler.NewDoseHandler(tracker, scheduleStore, medStore, dispatcher, cfg.LowStockThreshold, logger.With("component", "dose_handler")),
		webhookH:      webhookH,
		wsOrigins:     cfg.WSOrigins,
		logger:        logger,
	}
}

// Scheduler returns the reminder scheduler.
func (s *Server) Scheduler() *reminder.Scheduler {
	return s.scheduler
}

// DeliveryStore returns the delivery log for cleanup tasks.
func (s *Server) DeliveryStore() *store.DeliveryStore {
	return s.deliveryStore
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes (no bearer token)
	outerMux.HandleFunc("GET /health", s.healthHandler)
	outerMux.HandleFunc("GET /push/vapid-key", s.pushH.VAPIDKey)
	if s.webhookH != nil {
		outerMux.Handle("POST /webhooks/stripe", s.webhookH)
	}

	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireAuth(s.verifier, s.userStore)
	outerMux.Handle("/", authMiddleware(protectedMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := s.db.PingContext(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	rl := middleware.RateLimit(s.rateLimiter, middleware.ByUser, testReminderLimit, testReminderWindow)
	mux.Handle("POST /reminders/test", rl(http.HandlerFunc(s.reminderH.Test)))

	mux.HandleFunc("POST /push/subscribe", s.pushH.Subscribe)
	mux.HandleFunc("POST /push/unsubscribe", s.pushH.Unsubscribe)
	mux.Handle("POST /push/broadcast", middleware.RequireAdmin(http.HandlerFunc(s.pushH.Broadcast)))

	mux.HandleFunc("POST /api/medications", s.medicationH.Create)
	mux.HandleFunc("GET /api/medications", s.medicationH.List)
	mux.HandleFunc("PUT /api/medications/{id}/stock", s.medicationH.UpdateStock)
	mux.HandleFunc("POST /api/medications/{id}/confirm", s.medicationH.Confirm)

	mux.HandleFunc("POST /api/schedules", s.scheduleH.Create)
	mux.HandleFunc("GET /api/schedules", s.scheduleH.List)
	mux.HandleFunc("PUT /api/schedules/{id}", s.scheduleH.Update)
	mux.HandleFunc("DELETE /api/schedules/{id}", s.scheduleH.Delete)

	mux.HandleFunc("GET /api/doses", s.doseH.List)
	mux.HandleFunc("POST /api/doses/{id}/take", s.doseH.Take)
	mux.HandleFunc("POST /api/doses/{id}/skip", s.doseH.Skip)

	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, s.wsOrigins))
}
