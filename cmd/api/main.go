package main

import (
	"context"
	"net/http"
	"time"

	"github.com/metisconnect/metis-backend/internal/api"
	"github.com/metisconnect/metis-backend/internal/availability"
	"github.com/metisconnect/metis-backend/internal/booking"
	"github.com/metisconnect/metis-backend/internal/calendar"
	"github.com/metisconnect/metis-backend/internal/nlp"
	"github.com/metisconnect/metis-backend/internal/notify"
	"github.com/metisconnect/metis-backend/internal/outbox"
	"github.com/metisconnect/metis-backend/internal/payments"
	"github.com/metisconnect/metis-backend/internal/storage"
	"github.com/metisconnect/metis-backend/internal/tts"
	"github.com/metisconnect/metis-backend/internal/whatsapp"
	"github.com/metisconnect/metis-backend/libs/config"
	"github.com/metisconnect/metis-backend/libs/db"
	"github.com/metisconnect/metis-backend/libs/httpx"
	"github.com/metisconnect/metis-backend/libs/kafkax"
	otelx "github.com/metisconnect/metis-backend/libs/otel"
	"github.com/metisconnect/metis-backend/libs/runtime"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "api")
	port, err := config.Port("PORT", "8080")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	apptRepo := storage.NewAppointmentRepository(pool)
	paymentRepo := storage.NewPaymentRepository(pool)
	providerEventRepo := storage.NewProviderEventRepository(pool)
	outboxRepo := outbox.NewRepository(pool)

	brokers := config.String("KAFKA_BROKERS", "")
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	hours, err := availability.ParseBusinessHours(config.String("BUSINESS_HOURS", ""))
	if err != nil {
		logger.Error("invalid BUSINESS_HOURS", "err", err)
		panic(err)
	}

	// The external calendar is optional: without it availability runs in
	// degraded mode against local bookings only.
	var gcal availability.Calendar
	var calWriter booking.CalendarWriter
	gcalClient, err := calendar.NewClient(ctx, calendar.Config{
		CredentialsJSON: config.String("GOOGLE_CALENDAR_CREDENTIALS_JSON", ""),
		CalendarID:      config.String("GOOGLE_CALENDAR_ID", ""),
	}, logger)
	if err != nil {
		logger.Warn("google calendar disabled", "err", err)
	} else {
		gcal = gcalClient
		calWriter = gcalClient
	}

	calc := availability.NewCalculator(hours, gcal, apptRepo, logger)
	bookingStore := booking.NewPGStore(pool, apptRepo, outboxRepo)
	bookingSvc := booking.NewService(bookingStore, calc, calWriter, logger)

	stripeKey := config.String("STRIPE_SECRET_KEY", "")
	paymentStore := payments.NewPGStore(pool, paymentRepo, apptRepo, providerEventRepo, outboxRepo)
	paymentSvc := payments.NewService(payments.NewStripeGateway(stripeKey), paymentStore, payments.Config{
		WebhookSecret: config.String("STRIPE_WEBHOOK_SECRET", ""),
	}, logger)

	twilioSID := config.String("TWILIO_ACCOUNT_SID", "")
	twilioToken := config.String("TWILIO_AUTH_TOKEN", "")
	var transport notify.Transport
	if twilioSID != "" && twilioToken != "" {
		transport = notify.NewTwilioWhatsAppSender(twilioSID, twilioToken,
			config.String("TWILIO_WHATSAPP_FROM", "whatsapp:+14155238886"), logger)
	} else {
		logger.Warn("twilio not configured; chatbot replies are logged only")
		transport = notify.NoopSender{Logger: logger}
	}

	loc, err := time.LoadLocation(config.String("TIMEZONE", "Europe/Rome"))
	if err != nil {
		logger.Warn("invalid TIMEZONE, using UTC", "err", err)
		loc = time.UTC
	}

	rdb := redis.NewClient(&redis.Options{Addr: config.String("REDIS_ADDR", "localhost:6379")})
	defer func() { _ = rdb.Close() }()
	sessions := whatsapp.NewSessionStore(rdb, config.Minutes("WHATSAPP_SESSION_TTL_MINUTES", 30*time.Minute))

	classifier := nlp.NewRasaClassifier(config.String("RASA_URL", ""), logger)
	engine := whatsapp.NewEngine(classifier, sessions, bookingSvc, transport, loc, logger)
	whatsappHandler := whatsapp.NewHandler(engine, twilioToken,
		config.String("WHATSAPP_WEBHOOK_URL", ""), logger)

	ttsClient := tts.NewClient(config.String("TTS_URL", ""), logger)

	jwtSecret, err := config.RequiredString("JWT_SECRET")
	if err != nil {
		panic(err)
	}

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	api.Routes{
		Appointments: api.NewAppointmentHandler(bookingSvc, logger),
		Payments: api.NewPaymentHandler(bookingSvc, paymentSvc,
			config.String("PAYMENT_SUCCESS_URL", "https://example.com/success"),
			config.String("PAYMENT_CANCEL_URL", "https://example.com/cancel"),
			logger),
		Auth: api.NewAuthHandler(
			config.String("ADMIN_USERNAME", ""),
			config.String("ADMIN_PASSWORD_HASH", ""),
			jwtSecret,
			config.Minutes("TOKEN_TTL_MINUTES", time.Hour),
			logger),
		Notifications: api.NewNotificationHandler(storage.NewNotificationRepository(pool), logger),
		TTS:           api.NewTTSHandler(ttsClient, logger),
		Whatsapp:      whatsappHandler,
		JWTSecret:     jwtSecret,
	}.Register(mux)

	limiter := httpx.NewRedisRateLimiter(rdb, config.Int("RATE_LIMIT", 60), time.Minute,
		config.String("RATE_LIMIT_PREFIX", "rl"))
	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithCORS(
			config.String("CORS_ORIGINS", "*"),
			"GET, POST, PUT, DELETE, OPTIONS",
			"Authorization, Content-Type",
		),
		limiter.Middleware(logger, true),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(30*time.Second),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, service)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
