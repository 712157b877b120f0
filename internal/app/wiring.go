package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pnrr-announcements/internal/announcement"
	"github.com/JakeFAU/pnrr-announcements/internal/config"
	"github.com/JakeFAU/pnrr-announcements/internal/crawler"
	"github.com/JakeFAU/pnrr-announcements/internal/docstore"
	"github.com/JakeFAU/pnrr-announcements/internal/email"
	collyfetcher "github.com/JakeFAU/pnrr-announcements/internal/fetcher/colly"
	"github.com/JakeFAU/pnrr-announcements/internal/fetcher/evasive"
	headlessfetcher "github.com/JakeFAU/pnrr-announcements/internal/fetcher/headless"
	"github.com/JakeFAU/pnrr-announcements/internal/headless/detector"
	"github.com/JakeFAU/pnrr-announcements/internal/notify"
	"github.com/JakeFAU/pnrr-announcements/internal/policy/ratelimit"
	"github.com/JakeFAU/pnrr-announcements/internal/publisher"
	kafkapub "github.com/JakeFAU/pnrr-announcements/internal/publisher/kafka"
	pubsubpub "github.com/JakeFAU/pnrr-announcements/internal/publisher/pubsub"
	rabbitpub "github.com/JakeFAU/pnrr-announcements/internal/publisher/rabbitmq"
	"github.com/JakeFAU/pnrr-announcements/internal/storage/mongodb"
	"github.com/JakeFAU/pnrr-announcements/internal/subscriber"
)

// subscriberStores returns the subscriber repository and the sent-set, in
// MongoDB when configured and in the document store otherwise.
func (a *App) subscriberStores(
	ctx context.Context,
	backend docstore.Backend,
	update docstore.UpdateOptions,
) (subscriber.Repository, notify.SentStore, error) {
	if !a.Config.UsesMongo() {
		list := docstore.New[announcement.SubscriberList](backend, subscriber.DocumentName, a.Logger)
		return subscriber.NewDocumentRepository(list, update),
			notify.NewDocumentSentStore(backend, update, a.Logger),
			nil
	}
	client, err := mongodb.Connect(ctx, mongodb.Config{URI: a.Config.Mongo.URI, Database: a.Config.Mongo.Database})
	if err != nil {
		return nil, nil, err
	}
	a.closers = append(a.closers, func(ctx context.Context) error { return client.Disconnect(ctx) })
	db := client.Database(a.Config.Mongo.Database)
	if err := mongodb.EnsureIndexes(ctx, db); err != nil {
		return nil, nil, err
	}
	a.Logger.Info("mongodb subscriber store enabled", zap.String("database", a.Config.Mongo.Database))
	return mongodb.NewSubscriberRepository(db.Collection(mongodb.SubscribersCollection)),
		mongodb.NewSentStore(db.Collection(mongodb.NotificationsCollection)),
		nil
}

// buildNotifier returns nil when email is disabled so the pipeline skips
// notification entirely.
func buildNotifier(cfg config.Config, sent notify.SentStore, logger *zap.Logger) (*notify.Notifier, error) {
	if !cfg.Email.Enabled {
		logger.Info("email disabled, notifications will be skipped")
		return nil, nil
	}
	sender, err := email.NewSender(email.Config{
		Host:          cfg.Email.SMTPHost,
		Port:          cfg.Email.SMTPPort,
		Username:      cfg.Email.Username,
		Password:      cfg.Email.Password,
		UseTLS:        cfg.Email.UseTLS,
		From:          cfg.Email.From,
		ReplyTo:       cfg.Email.ReplyTo,
		SubjectPrefix: cfg.Email.SubjectPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("init email sender: %w", err)
	}
	return notify.New(sender, sent, notify.Config{
		BaseURL:  cfg.Server.BaseURL,
		MaxItems: cfg.Notify.MaxItems,
	}, logger), nil
}

func buildPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (publisher.Publisher, error) {
	switch cfg.Publish.Kind {
	case config.PublishPubSub:
		var opts []pubsubpub.Option
		if cfg.Publish.PubSub.Ordering {
			opts = append(opts, pubsubpub.WithOrdering())
		}
		p, err := pubsubpub.Dial(ctx, cfg.Publish.PubSub.ProjectID, opts...)
		if err != nil {
			return nil, err
		}
		logger.Info("publishing to pubsub", zap.String("project", cfg.Publish.PubSub.ProjectID), zap.String("topic", cfg.Publish.Topic))
		return p, nil
	case config.PublishRabbitMQ:
		p, err := rabbitpub.Dial(rabbitpub.Config{
			URL:        cfg.Publish.RabbitMQ.URL,
			Exchange:   cfg.Publish.RabbitMQ.Exchange,
			Queue:      cfg.Publish.RabbitMQ.Queue,
			RoutingKey: cfg.Publish.RabbitMQ.RoutingKey,
		}, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("publishing to rabbitmq", zap.String("exchange", cfg.Publish.RabbitMQ.Exchange))
		return p, nil
	case config.PublishKafka:
		p, err := kafkapub.New(kafkapub.Config{
			Brokers:      cfg.KafkaBrokers(),
			WriteTimeout: time.Duration(cfg.Publish.Kafka.WriteTimeoutSeconds) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("publishing to kafka", zap.Strings("brokers", cfg.KafkaBrokers()))
		return p, nil
	default:
		return publisher.NoOp{}, nil
	}
}

// pageGetter builds the plain fetcher, the optional headless fallback and
// the pacing getter on top of them.
func (a *App) pageGetter() crawler.PageGetter {
	cfg := a.Config
	plain := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Fetch.UserAgent,
		RespectRobots: cfg.Fetch.RespectRobots,
		Timeout:       time.Duration(cfg.Fetch.TimeoutSeconds) * time.Second,
		MaxBodyBytes:  cfg.Fetch.MaxBodyBytes,
	})

	var headless crawler.Fetcher
	if cfg.Headless.Enabled {
		hf, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Fetch.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
			IdleTimeout:       time.Duration(cfg.Headless.IdleTimeoutSec) * time.Second,
			SettleDelay:       time.Duration(cfg.Headless.SettleMs) * time.Millisecond,
			Limiter: ratelimit.New(ratelimit.Config{
				DefaultRPS:   cfg.Headless.RPS,
				DefaultBurst: cfg.Headless.Burst,
			}),
		})
		if err != nil {
			a.Logger.Warn("headless fetcher init failed, continuing without it", zap.Error(err))
		} else {
			headless = hf
			a.closers = append(a.closers, func(context.Context) error {
				hf.Close()
				return nil
			})
		}
	}

	tiers := make([]evasive.Tier, 0, len(cfg.Fetch.PacingTiers))
	for _, t := range cfg.Fetch.PacingTiers {
		tiers = append(tiers, evasive.Tier{
			From: t.From,
			Min:  time.Duration(t.MinMs) * time.Millisecond,
			Max:  time.Duration(t.MaxMs) * time.Millisecond,
		})
	}
	return evasive.New(plain, headless, detector.NewHeuristic(cfg.Headless.PromotionThresh), evasive.Config{
		UserAgent:      cfg.Fetch.UserAgent,
		AcceptLanguage: cfg.Fetch.AcceptLanguage,
		Tiers:          tiers,
		MaxRetries:     cfg.Fetch.MaxRetries,
		BackoffBase:    time.Duration(cfg.Fetch.BackoffMs) * time.Millisecond,
	}, a.Logger)
}
