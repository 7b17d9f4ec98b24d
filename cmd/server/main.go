package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"shopchat/internal/channel"
	"shopchat/internal/chat"
	"shopchat/internal/config"
	"shopchat/internal/db"
	"shopchat/internal/logger"
	"shopchat/internal/message"
	myMiddleware "shopchat/internal/middleware"
	"shopchat/internal/poll"
	"shopchat/internal/stream"
	"shopchat/internal/user"
)

func main() {
	// 1. Config & Logging
	cfg, err := config.Load(os.Args[1:], os.LookupEnv)
	if err != nil {
		logger.New("info").Fatal("invalid configuration", zap.Error(err))
	}
	log := logger.New(cfg.LogLevel)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Postgres (users)
	database, err := db.NewDatabase(ctx, cfg.DatabaseDSN)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer database.Close()
	if err := database.AutoMigrate(ctx); err != nil {
		log.Fatal("migration failed", zap.Error(err))
	}
	log.Info("connected to postgres")

	// 3. MongoDB (messages, channels, polls)
	mongoDB, err := db.NewMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		log.Fatal("failed to connect to mongodb", zap.Error(err))
	}
	defer mongoDB.Close(context.Background())
	log.Info("connected to mongodb", zap.String("database", cfg.MongoDatabase))

	messageStore := message.NewStore(mongoDB.DB)
	channelRepo := channel.NewRepository(mongoDB.DB)
	pollStore := poll.NewStore(mongoDB.DB)
	for name, ensure := range map[string]func(context.Context) error{
		"messages": messageStore.EnsureIndexes,
		"channels": channelRepo.EnsureIndexes,
		"polls":    pollStore.EnsureIndexes,
	} {
		if err := ensure(ctx); err != nil {
			log.Fatal("index creation failed", zap.String("collection", name), zap.Error(err))
		}
	}

	// 4. Optional Redis relay for multi-instance delivery
	var relay chat.Relay
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer rdb.Close()
		relay = chat.NewRedisRelay(rdb, log)
		log.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
	} else {
		log.Info("REDIS_ADDR not set, delivering to local connections only")
	}

	// 5. Optional Kafka event stream
	var events stream.Publisher = stream.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		kp := stream.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		defer kp.Close()
		events = kp
		log.Info("streaming chat events", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}

	// 6. Features
	userRepo := user.NewRepository(database.Conn)
	userService := user.NewService(userRepo, messageStore, cfg.JWTSecret, cfg.TokenTTL)
	channelService := channel.NewService(channelRepo, userRepo, messageStore, log)

	hub := chat.NewHub(messageStore, channelService, userRepo, log, chat.Options{
		Relay:        relay,
		Events:       events,
		EventTimeout: cfg.EventTimeout,
	})
	// A failed relay subscription is logged by the hub, which then delivers locally.
	go hub.Run(ctx)

	pollService := poll.NewService(pollStore, messageStore, channelService, hub, log)

	userHandler := user.NewHandler(userService, log)
	messageHandler := message.NewHandler(messageStore, hub, log)
	channelHandler := channel.NewHandler(channelService, hub, log)
	pollHandler := poll.NewHandler(pollService, log)
	chatHandler := chat.NewHandler(hub, userService, cfg.AllowedOrigin, log)
	authMiddleware := myMiddleware.NewAuthMiddleware(userService)

	// 7. Routes
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(myMiddleware.RequestLogger(log))
	r.Use(myMiddleware.CORS(cfg.AllowedOrigin))

	// The websocket authenticates its own handshake.
	r.Get("/ws", chatHandler.ServeWs)

	r.Route("/api/chat", func(r chi.Router) {
		r.Post("/auth/signup", userHandler.Signup)
		r.Post("/auth/login", userHandler.Login)

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Handle)

			r.Post("/auth/update-profile", userHandler.UpdateProfile)
			r.Get("/auth/user-info", userHandler.UserInfo)

			r.Get("/contacts/get-all-contacts", userHandler.GetAllContacts)
			r.Post("/contacts/search", userHandler.SearchContacts)
			r.Get("/contacts/get-contacts-for-dm", userHandler.GetContactsForDM)
			r.Post("/contacts/update-status", userHandler.UpdateStatus)
			r.Get("/contacts/online", userHandler.OnlineUsers)

			r.Post("/messages/get-messages", messageHandler.GetMessages)
			r.Post("/messages/mark-as-read", messageHandler.MarkAsRead)
			r.Get("/messages/unread-counts", messageHandler.UnreadCounts)

			r.Route("/channel", channelHandler.Routes)
			r.Route("/polls", pollHandler.Routes)
		})
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("graceful shutdown failed", zap.Error(err))
		}
	}()

	log.Info("server starting", zap.String("addr", cfg.Addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("server failed", zap.Error(err))
	}
	log.Info("server stopped")
}
