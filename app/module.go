package app

import (
	"context"
	"errors"
	"fmt"

	"realtalk-service/config"
	"realtalk-service/controller"
	"realtalk-service/database"
	"realtalk-service/event"
	"realtalk-service/event/listener"
	"realtalk-service/logging"
	"realtalk-service/presence"
	"realtalk-service/realtime"
	"realtalk-service/router"
	"realtalk-service/service"
	"realtalk-service/socketio"

	"github.com/casbin/casbin/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Module composes every provider and lifecycle hook of the service.
func Module() fx.Option {
	return fx.Module("realtalk",
		fx.Provide(
			config.Load,
			provideLogger,
			provideDatabase,
			provideRedis,
			provideEnforcer,
			provideEvents,
			provideTokenStore,
			service.NewUserService,
			provideIdentity,
			service.NewChatService,
			service.NewMessageService,
			service.NewFriendService,
			providePresence,
			provideRouter,
			provideFiber,
			provideSocket,
			provideControllers,
		),
		fx.Invoke(registerRoutes, registerLifecycle),
	)
}

func provideLogger(settings *config.Settings) (*zap.Logger, error) {
	return logging.New(settings.LogPath, settings.LogLevel)
}

func provideDatabase(lc fx.Lifecycle, settings *config.Settings, logger *zap.Logger) (*gorm.DB, error) {
	db, err := database.PostgresConnect(settings, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(func() error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}))
	return db, nil
}

func provideRedis(lc fx.Lifecycle, settings *config.Settings, logger *zap.Logger) (*redis.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), settings.RequestTimeout)
	defer cancel()
	client, err := database.RedisConnect(ctx, settings, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(client.Close))
	return client, nil
}

func provideTokenStore(client *redis.Client) service.TokenStore {
	return database.NewRefreshTokens(client)
}

func provideEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	return database.Casbin(db)
}

// eventBus is the outbound publisher plus, when a broker is configured, the
// connection the inbound listener consumes from.
type eventBus struct {
	fx.Out

	Publisher event.Publisher
	RabbitMQ  *event.RabbitMQ
}

func provideEvents(lc fx.Lifecycle, settings *config.Settings, logger *zap.Logger) (eventBus, error) {
	if settings.EventMode == config.EventModeDisable {
		logger.Info("event bus disabled")
		return eventBus{Publisher: event.Discard{}}, nil
	}

	var journal *event.Journal
	if settings.EventMode == config.EventModeSendLog || settings.EventMode == config.EventModeReplayOut {
		var err error
		if journal, err = event.OpenJournal(settings.EventLogDir); err != nil {
			return eventBus{}, err
		}
	}

	rabbit, err := event.RabbitMQConnect(settings, journal, logger)
	if err != nil {
		if journal != nil {
			_ = journal.Close()
		}
		return eventBus{}, err
	}
	lc.Append(fx.StopHook(func() error {
		err := rabbit.Close()
		if journal != nil {
			err = errors.Join(err, journal.Close())
		}
		return err
	}))

	if settings.EventMode == config.EventModeReplayOut {
		if err := rabbit.ReplayOut(context.Background()); err != nil {
			return eventBus{}, fmt.Errorf("replay journal: %w", err)
		}
		logger.Info("outbound journal replayed")
	}
	return eventBus{Publisher: rabbit, RabbitMQ: rabbit}, nil
}

func provideIdentity(db *gorm.DB, tokens service.TokenStore, enforcer *casbin.SyncedEnforcer, settings *config.Settings, logger *zap.Logger) *service.IdentityService {
	return service.NewIdentityService(db, tokens, enforcer, settings.OtpIssuer, logger.Named("identity"))
}

func providePresence(users *service.UserService, logger *zap.Logger) *presence.Registry {
	return presence.NewRegistry(users, logger.Named("presence"))
}

func provideRouter(registry *presence.Registry, messages *service.MessageService, chats *service.ChatService, logger *zap.Logger) *realtime.Router {
	return realtime.NewRouter(registry, messages, chats, logger.Named("realtime"))
}

func provideFiber(settings *config.Settings) *fiber.App {
	rest := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		AppName:               "realtalk-service",
	})
	rest.Use(recover.New())
	rest.Use(cors.New(cors.Config{AllowOrigins: settings.CorsOrigin}))
	return rest
}

func provideSocket(rest *fiber.App, settings *config.Settings, identity *service.IdentityService, logger *zap.Logger) *socketio.Server {
	return socketio.Init(rest, settings, identity, logger.Named("socket"))
}

func provideControllers(
	identity *service.IdentityService,
	users *service.UserService,
	friends *service.FriendService,
	chats *service.ChatService,
	messages *service.MessageService,
	registry *presence.Registry,
	logger *zap.Logger,
) router.Controllers {
	return router.Controllers{
		Auth:     controller.NewAuth(identity, logger),
		Users:    controller.NewUsers(users, friends, logger),
		Chats:    controller.NewChats(chats, logger),
		Messages: controller.NewMessages(messages, logger),
		Admin:    controller.NewAdmin(registry),
	}
}

func registerRoutes(rest *fiber.App, settings *config.Settings, controllers router.Controllers, enforcer *casbin.SyncedEnforcer, logger *zap.Logger) {
	router.Rest(rest, settings, controllers, enforcer, logger.Named("rest"))
}

type lifecycleParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Settings  *config.Settings
	Rest      *fiber.App
	Socket    *socketio.Server
	Registry  *presence.Registry
	Hub       *realtime.Router
	RabbitMQ  *event.RabbitMQ `optional:"true"`
	Logger    *zap.Logger
}

func registerLifecycle(p lifecycleParams) {
	ctx, cancel := context.WithCancel(context.Background())

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			router.Socket(ctx, p.Socket, p.Registry, p.Hub, p.Settings, p.Logger.Named("socket"))

			if p.RabbitMQ != nil {
				deliveries, err := p.RabbitMQ.Subscribe(ctx, p.Settings.EventQueueIn)
				if err != nil {
					return err
				}
				go listener.Api(ctx, deliveries, p.Hub, p.Settings.RequestTimeout, p.Logger.Named("listener"))
			}

			go func() {
				addr := fmt.Sprintf(":%s", p.Settings.ServerPort)
				p.Logger.Info("listening", zap.String("addr", addr))
				if err := p.Rest.Listen(addr); err != nil {
					p.Logger.Error("http server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			p.Socket.Close()
			p.Registry.Close(stopCtx)
			if err := p.Rest.ShutdownWithContext(stopCtx); err != nil {
				p.Logger.Warn("http shutdown", zap.Error(err))
			}
			p.Logger.Info("service stopped")
			_ = p.Logger.Sync()
			return nil
		},
	})
}
