package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bookingcal/project/internal/app/notifier"
	"github.com/bookingcal/project/internal/messaging"
	"github.com/bookingcal/project/internal/platform/env"
	"github.com/bookingcal/project/internal/platform/natsutil"
)

func main() {
	env.LoadDotEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	webhookURL := env.String("NOTIFY_WEBHOOK_URL", "")
	timeout := env.Duration("NOTIFY_TIMEOUT", 10*time.Second)
	switch {
	case webhookURL == "":
		log.Printf("NOTIFY_WEBHOOK_URL is empty; deliveries back off up to %s and stop after %d attempts",
			natsutil.RetryDelay(natsutil.MaxDeliveries), natsutil.MaxDeliveries)
	default:
		if err := notifier.ValidateWebhookURL(webhookURL); err != nil {
			log.Fatal(err)
		}
	}

	client, err := natsutil.ConnectJetStreamWithRetry(env.String("NATS_URL", env.DefaultNATSURL), "notifier", 20*time.Second)
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	service := notifier.NewService(webhookURL, timeout)
	sub, err := client.QueueConsume(ctx, messaging.DeletedSubjects, messaging.NotifierQueue, timeout, service.Consume)
	if err != nil {
		log.Fatal(err)
	}

	log.Println("Notifier listening on subject:", sub.Subject)
	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		log.Printf("notifier drain failed: %v", err)
	}
}
