package cli

import (
	"time"

	"ring0.store/fulfillment/fulfillment"
	"ring0.store/fulfillment/internal/config"
	"ring0.store/fulfillment/internal/email"
	"ring0.store/fulfillment/internal/logger"
	"ring0.store/fulfillment/internal/notify"
	"ring0.store/fulfillment/storage"
)

// newDispatcher wires the configured mailer and notifiers. The returned
// func waits for pending side effects and releases the notifiers.
func newDispatcher(se *config.Fulfillment, store storage.Storage) (*fulfillment.Dispatcher, func(), error) {
	var mailer fulfillment.Mailer
	if se.SMTPEnabled() {
		mailer = email.NewSMTPMailer(email.Config{
			Host:      se.SMTPHost,
			Port:      se.SMTPPort,
			Username:  se.SMTPUsername,
			Password:  se.SMTPPassword,
			From:      se.EmailFrom,
			StoreName: se.StoreName,
		})
	} else {
		logger.Warn("SMTP not configured, purchase emails are disabled")
	}

	var notifiers []notify.Notifier
	var kafkaNotifier *notify.Kafka
	if se.DiscordWebhookURL != "" {
		notifiers = append(notifiers, notify.NewDiscord(se.DiscordWebhookURL, se.StoreName, se.NotifyTimeout))
	}
	if se.KafkaBootstrapServers != "" {
		producer, err := notify.NewKafkaProducer(se.KafkaBootstrapServers)
		if err != nil {
			return nil, nil, err
		}
		kafkaNotifier = notify.NewKafka(producer, se.KafkaTopic)
		notifiers = append(notifiers, kafkaNotifier)
	}

	// a nil notify.Notifier must stay an untyped nil
	var notifier fulfillment.Notifier
	if n := notify.Combine(notifiers...); n != nil {
		notifier = n
	}

	dispatcher := fulfillment.NewDispatcher(mailer, notifier, store, fulfillment.DispatcherConfig{
		Timeout:     se.NotifyTimeout,
		MaxAttempts: se.EmailMaxAttempts,
	})

	release := func() {
		dispatcher.Wait()
		if kafkaNotifier != nil {
			kafkaNotifier.Close(5 * time.Second)
		}
	}
	return dispatcher, release, nil
}
