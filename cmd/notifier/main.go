package main

import (
	"context"
	"net/http"
	"time"

	"github.com/metisconnect/metis-backend/internal/booking"
	"github.com/metisconnect/metis-backend/internal/consumer"
	"github.com/metisconnect/metis-backend/internal/inbox"
	"github.com/metisconnect/metis-backend/internal/notify"
	"github.com/metisconnect/metis-backend/internal/outbox"
	"github.com/metisconnect/metis-backend/internal/storage"
	"github.com/metisconnect/metis-backend/libs/config"
	"github.com/metisconnect/metis-backend/libs/db"
	"github.com/metisconnect/metis-backend/libs/httpx"
	"github.com/metisconnect/metis-backend/libs/kafkax"
	otelx "github.com/metisconnect/metis-backend/libs/otel"
	"github.com/metisconnect/metis-backend/libs/runtime"
	"github.com/segmentio/kafka-go"
)

// The notifier turns appointment lifecycle events into WhatsApp messages.
// One consumer group per topic; the inbox table makes redelivery harmless.
func main() {
	service := config.String("SERVICE_NAME", "notifier")
	port, err := config.Port("PORT", "8081")
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

	twilioSID := config.String("TWILIO_ACCOUNT_SID", "")
	twilioToken := config.String("TWILIO_AUTH_TOKEN", "")
	var transport notify.Transport
	if twilioSID != "" && twilioToken != "" {
		transport = notify.NewTwilioWhatsAppSender(twilioSID, twilioToken,
			config.String("TWILIO_WHATSAPP_FROM", "whatsapp:+14155238886"), logger)
	} else {
		logger.Warn("twilio not configured; messages are logged only")
		transport = notify.NoopSender{Logger: logger}
	}

	dispatcher := notify.NewDispatcher(transport, storage.NewNotificationRepository(pool), logger)
	inboxRepo := inbox.NewRepository(pool)
	brokers := config.String("KAFKA_BROKERS", "")

	handler := func(ctx context.Context, msg kafka.Message) error {
		meta := kafkax.ExtractEventMeta(msg)
		kind, ok := notify.KindForEvent(meta.EventType)
		if !ok {
			return nil
		}
		appt, err := booking.EventToAppointment(msg.Value)
		if err != nil {
			logger.Error("invalid event payload", "err", err, "topic", msg.Topic)
			return nil
		}
		dispatcher.Dispatch(ctx, appt, kind)
		return nil
	}

	topics := []string{
		outbox.EventAppointmentBooked,
		outbox.EventAppointmentCancelled,
		outbox.EventReminderDue,
	}
	for _, topic := range topics {
		eventConsumer := consumer.New(logger, inboxRepo, consumer.Config{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", "notifier"),
			Topic:   topic,
		}, handler)
		go eventConsumer.Run(ctx)
	}

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpx.Chain(mux, httpx.WithRequestID, httpx.WithAccessLog(logger)),
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
	logger.Info("notifier stopped")
}
