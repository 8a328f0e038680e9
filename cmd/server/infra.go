package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.mongodb.org/mongo-driver/mongo"

	"circlesphere/internal/payment/events"
	paymenthandler "circlesphere/internal/payment/handler"
	"circlesphere/internal/payment/provider"
	"circlesphere/internal/payment/provider/fake"
	stripeprovider "circlesphere/internal/payment/provider/stripe"
	"circlesphere/internal/payment/service"
	"circlesphere/internal/payment/store"
	"circlesphere/internal/payment/store/memory"
	mongostore "circlesphere/internal/payment/store/mongo"
	pgstore "circlesphere/internal/payment/store/postgres"
	"circlesphere/internal/platform/config"
	"circlesphere/internal/platform/idempotency"
	"circlesphere/internal/platform/kafka"
	platformmongo "circlesphere/internal/platform/mongo"
	"circlesphere/internal/platform/postgres"
	"circlesphere/internal/platform/redis"
)

type infra struct {
	store       store.TxStore
	provider    provider.Provider
	webhooks    provider.WebhookVerifier
	devPayer    paymenthandler.SessionPayer
	idempotency idempotency.Store
	publisher   service.Publisher
	redis       *redis.Client

	db       *sql.DB
	mongo    *mongo.Client
	producer *kgo.Client
}

func buildInfra(ctx context.Context, cfg config.Server, log *slog.Logger) (*infra, error) {
	in := &infra{}
	if err := in.openStore(ctx, cfg); err != nil {
		in.close(log)
		return nil, err
	}
	in.openProvider(cfg)

	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		in.close(log)
		return nil, err
	}
	if rc != nil {
		in.redis = rc
		in.idempotency = idempotency.NewRedisStore(rc.Client)
	} else {
		log.Warn("REDIS_URL not set, idempotency keys are kept in process memory")
		in.idempotency = idempotency.NewMemoryStore()
	}

	producer, err := kafka.NewProducer(cfg.Kafka)
	if err != nil {
		in.close(log)
		return nil, err
	}
	if producer == nil {
		in.publisher = events.NopPublisher{}
		return in, nil
	}
	in.producer = producer
	if err := kafka.EnsureTopic(ctx, producer, cfg.Kafka.Topic, cfg.Kafka.Partitions); err != nil {
		in.close(log)
		return nil, err
	}
	in.publisher = events.NewKafkaPublisher(producer, cfg.Kafka.Topic)
	return in, nil
}

func (in *infra) openStore(ctx context.Context, cfg config.Server) error {
	switch cfg.StoreBackend {
	case config.StorePostgres:
		db, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return err
		}
		in.db = db
		if err := pgstore.Migrate(ctx, db); err != nil {
			return fmt.Errorf("migrate postgres: %w", err)
		}
		in.store = pgstore.New(db, pgstore.WithTxTimeout(cfg.StoreTxTimeout))
	case config.StoreMongo:
		client, err := platformmongo.Connect(ctx, cfg.Mongo)
		if err != nil {
			return err
		}
		in.mongo = client
		st := mongostore.New(client, cfg.Mongo.Database, mongostore.WithTxTimeout(cfg.StoreTxTimeout))
		if err := st.EnsureIndexes(ctx); err != nil {
			return fmt.Errorf("ensure mongo indexes: %w", err)
		}
		in.store = st
	default:
		in.store = memory.New(memory.WithTxTimeout(cfg.StoreTxTimeout))
	}
	return nil
}

func (in *infra) openProvider(cfg config.Server) {
	if cfg.Payments.Provider == config.ProviderFake {
		p := fake.New()
		in.provider, in.webhooks, in.devPayer = p, p, p
		return
	}
	p := stripeprovider.New(cfg.Payments.SecretKey, cfg.Payments.WebhookSecret, nil)
	in.provider, in.webhooks = p, p
}

func (in *infra) close(log *slog.Logger) {
	if in.producer != nil {
		in.producer.Close()
	}
	if in.redis != nil {
		if err := in.redis.Close(); err != nil {
			log.Warn("closing redis", "error", err)
		}
	}
	if in.mongo != nil {
		if err := in.mongo.Disconnect(context.Background()); err != nil {
			log.Warn("closing mongo", "error", err)
		}
	}
	if in.db != nil {
		if err := in.db.Close(); err != nil {
			log.Warn("closing database", "error", err)
		}
	}
}
