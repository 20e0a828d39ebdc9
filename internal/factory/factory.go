package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"swap-service/internal/chat"
	"swap-service/internal/client"
	"swap-service/internal/config"
	"swap-service/internal/hashing"
	"swap-service/internal/mail"
	"swap-service/internal/model"
	"swap-service/internal/repository/postgres"
	"swap-service/internal/repository/redis"
	"swap-service/internal/service"
	"swap-service/internal/tls"
	"swap-service/internal/token"
	"swap-service/internal/util"
	"swap-service/internal/verification"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.TLSManager

	// Clients
	redisClient    *client.RedisClient
	postgresClient *client.PostgresClient
	kafkaProducer  *client.KafkaProducer
	mailConsumer   *client.KafkaConsumer
	esClient       *client.ESClient

	// Repositories
	userRepository         model.UserRepository
	itemRepository         model.ItemRepository
	messageRepository      model.MessageRepository
	verificationRepository model.VerificationRepository
	tokenBlocklist         model.TokenBlocklist
	resendCounter          model.ResendCounter

	// Core services
	hasher         *hashing.Hasher
	tokenService   *token.Service
	mailDispatcher mail.Dispatcher
	mailWorker     *mail.Worker
	verifier       *verification.Service
	serviceFactory *service.ServiceFactory

	// Chat plane
	registry *chat.Registry
	bridge   *chat.Bridge

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		factory.tlsManager = tls.NewTLSManager(&tls.TLSConfig{
			EnableTLS:   cfg.Server.EnableTLS,
			AutoCert:    cfg.Server.AutoCert,
			Domain:      cfg.Server.Domain,
			CertFile:    cfg.Server.CertFile,
			KeyFile:     cfg.Server.KeyFile,
			CertDir:     cfg.Server.CertDir,
			Email:       cfg.Server.AdminMail,
			Environment: cfg.Environment,
		})
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	factory.initializeCore()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("search_enabled", factory.esClient != nil),
		util.Bool("mail_enabled", factory.kafkaProducer != nil),
	)

	return factory, nil
}

// initializeClients initializes all external service clients with health checks
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	// Postgres is the source of truth; without it nothing works.
	pg, err := client.NewPostgresClient(f.config, util.Get())
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	f.postgresClient = pg
	if err := f.postgresClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("postgres health check: %w", err)
	}
	if err := f.postgresClient.Migrate(ctx); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	util.Info("Postgres client initialized and healthy")

	// Redis backs the token blocklist, resend counter and chat fan-out.
	rc, err := client.NewRedisClient(f.config, util.Get())
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	f.redisClient = rc
	if err := f.redisClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("redis health check: %w", err)
	}
	util.Info("Redis client initialized and healthy")

	// Kafka drives the mail pipeline. The service degrades without it.
	if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("kafka: %w", err))
	} else {
		f.kafkaProducer = producer
		f.mailConsumer = client.NewKafkaConsumer(
			f.config, f.config.Kafka.MailTopic, f.config.Kafka.GroupID, util.Get())
		util.Info("Kafka producer and mail consumer initialized")
	}

	// Elasticsearch only powers item search; reads and writes survive
	// without it.
	if es, err := client.NewElasticsearchClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("elasticsearch: %w", err))
	} else {
		f.esClient = es
		util.Info("Elasticsearch client initialized and healthy")
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

// initializeCore wires repositories and domain services on top of the
// clients. Order matters: token service before user service, verifier
// before both register and resend paths.
func (f *Factory) initializeCore() {
	logger := util.Get()

	f.userRepository = postgres.NewUserRepository(f.postgresClient, logger)
	f.itemRepository = postgres.NewItemRepository(f.postgresClient, logger)
	f.messageRepository = postgres.NewMessageRepository(f.postgresClient, logger)
	f.verificationRepository = postgres.NewVerificationRepository(f.postgresClient, logger)
	f.tokenBlocklist = redis.NewTokenBlocklist(f.redisClient)
	f.resendCounter = redis.NewResendCounter(f.redisClient)

	f.hasher = hashing.NewHasher(hashing.DefaultParams)

	f.tokenService = token.NewService(
		f.config.JWT.Secret,
		f.config.JWT.AccessTTL(),
		f.config.JWT.RefreshTTL(),
		f.userRepository,
		f.tokenBlocklist,
		logger,
	)

	if f.kafkaProducer != nil {
		f.mailDispatcher = mail.NewKafkaDispatcher(f.kafkaProducer, f.config, logger)
		f.mailWorker = mail.NewWorker(f.mailConsumer, f.config, logger)
	} else {
		f.mailDispatcher = mail.NewLogDispatcher(logger)
	}

	f.verifier = verification.NewService(
		f.verificationRepository,
		f.userRepository,
		f.resendCounter,
		f.mailDispatcher,
		f.config,
		logger,
	)

	f.registry = chat.NewRegistry(logger)
	broker := redis.NewChatBroker(f.redisClient, f.config.Redis.ChatChannel)
	f.bridge = chat.NewBridge(broker, f.registry, logger)
}

// ==============================
// Service Factory
// ==============================
func (f *Factory) ServiceFactory() *service.ServiceFactory {
	if f.serviceFactory == nil {
		f.serviceFactory = service.NewServiceFactory(
			f.userRepository,
			f.itemRepository,
			f.hasher,
			f.tokenService,
			f.verifier,
			f.esClient,
			util.Get(),
		)
	}
	return f.serviceFactory
}

// ==============================
// Health Checks
// ==============================

func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.postgresClient != nil {
		if err := f.postgresClient.HealthCheck(ctx); err != nil {
			healthErrors["postgres"] = err
		}
	} else {
		healthErrors["postgres"] = fmt.Errorf("postgres client not initialized")
	}

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	} else {
		healthErrors["redis"] = fmt.Errorf("redis client not initialized")
	}

	if f.esClient != nil {
		if err := f.esClient.HealthCheck(); err != nil {
			healthErrors["elasticsearch"] = err
		}
	}

	return healthErrors
}

func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	delete(healthErrors, "elasticsearch")
	return len(healthErrors) == 0
}

// ==============================
// Lifecycle
// ==============================

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.mailConsumer != nil {
			if err := f.mailConsumer.Close(); err != nil {
				util.Error("Failed to close mail consumer", util.ErrorField(err))
			} else {
				util.Info("Mail consumer closed")
			}
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			} else {
				util.Info("Kafka producer closed")
			}
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				util.Info("Redis client closed")
			}
		}

		if f.postgresClient != nil {
			if err := f.postgresClient.Close(); err != nil {
				util.Error("Failed to close Postgres client", util.ErrorField(err))
			} else {
				util.Info("Postgres client closed")
			}
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

// ==============================
// Getters
// ==============================

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}

func (f *Factory) TokenService() *token.Service {
	return f.tokenService
}

func (f *Factory) Registry() *chat.Registry {
	return f.registry
}

func (f *Factory) Bridge() *chat.Bridge {
	return f.bridge
}

func (f *Factory) MessageRepository() model.MessageRepository {
	return f.messageRepository
}

func (f *Factory) MailWorker() *mail.Worker {
	return f.mailWorker
}
