// Package main runs the marketplace call & chat coordinator with WebSocket
// signaling and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	webrtc "github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vaani-market/backend/config"
	"github.com/vaani-market/backend/internal/auth"
	"github.com/vaani-market/backend/internal/calls"
	"github.com/vaani-market/backend/internal/chat"
	"github.com/vaani-market/backend/internal/events"
	"github.com/vaani-market/backend/internal/metrics"
	"github.com/vaani-market/backend/internal/middleware"
	"github.com/vaani-market/backend/internal/models"
	"github.com/vaani-market/backend/internal/presence"
	"github.com/vaani-market/backend/internal/realtime"
	"github.com/vaani-market/backend/internal/recordings"
	"github.com/vaani-market/backend/internal/signaling"
	"github.com/vaani-market/backend/internal/translation"
	"github.com/vaani-market/backend/pkg/database"
	"github.com/vaani-market/backend/pkg/queue"
	"github.com/vaani-market/backend/pkg/redis"
	"github.com/vaani-market/backend/pkg/response"
	"github.com/vaani-market/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.Region != "" {
		s3Cfg := storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			AudioBucket:          cfg.AWS.AudioBucket,
			RecordingsBucket:     cfg.AWS.RecordingsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}
		s3Client, err = storage.NewS3(ctx, s3Cfg, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		}
	}

	m := metrics.Default
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub, m)
	dispatcher := signaling.NewDispatcher(logger)

	eventsPub := events.New(events.Config{
		Brokers:        cfg.Kafka.Brokers,
		CallTopic:      cfg.Kafka.CallTopic,
		TranslateTopic: cfg.Kafka.TranslateTopic,
	}, logger)
	defer eventsPub.Close()

	// Auth & user directory
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)

	// Presence (online flags in Redis, connection history in Postgres)
	presenceRepo := presence.NewRepository(pool)
	presenceTracker := presence.NewTracker(rdb, presenceRepo, logger)
	presenceHandler := presence.NewHandler(presenceTracker, presenceRepo, logger)
	hub.SetPresenceListener(presenceTracker)

	// Chat: conversations, messages, typing, read receipts
	chatRepo := chat.NewRepository(pool)
	typingTracker := chat.NewTracker(logger)
	defer typingTracker.Close()
	chatHandler := chat.NewHandler(chatRepo, hub, typingTracker, logger)

	// Call sessions
	callRepo := calls.NewRepository(pool)
	registry := calls.NewRegistry(logger, callRepo)

	// Translation pipeline: translate backend + optional TTS + S3 audio,
	// gated on the session being connected with translation enabled.
	translateTimeout := time.Duration(cfg.Translation.TimeoutSeconds) * time.Second
	translator := translation.NewHTTPTranslator(cfg.Translation.BackendURL, translateTimeout)
	synthesizer := translation.NewHTTPSynthesizer(cfg.Translation.TTSURL, translateTimeout)
	translationRepo := translation.NewRepository(pool)
	var audioStore translation.AudioStore
	if s3Client != nil {
		audioStore = s3Client
	}
	deliver := func(res models.TranslationResult) {
		hub.PublishToCall(res.SessionID, "voice_translation", res)
		evCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := eventsPub.PublishTranslationEvent(evCtx, res.SessionID.String(), res); err != nil {
			logger.Warn("translation event publish failed", zap.Error(err))
		}
	}
	pipeline := translation.NewPipeline(translator, synthesizer, audioStore, registry, deliver, translationRepo, m, logger)

	callService := calls.NewService(registry, authRepo, hub, pipeline, eventsPub, dispatcher, m, logger)

	// Recordings and background jobs
	jobQueue := queue.NewQueue(rdb.Client, logger)
	recordingRepo := recordings.NewRepository(pool)
	recordingSvc := recordings.NewService(recordingRepo, registry, hub, jobQueue, cfg.Recording.OutputDir, logger)
	recordingHandler := recordings.NewHandler(recordingRepo, s3Client, logger)

	callHandler := calls.NewHandler(callService, callRepo, dispatcher, recordingSvc, logger)

	// When a call reaches a terminal state, stop any live recording and
	// export its transcript.
	registry.OnStateChange(func(change calls.StateChange) {
		if !change.To.IsTerminal() {
			return
		}
		recordingSvc.StopForEndedCall(change.SessionID)
		if s3Client != nil {
			jobCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := jobQueue.EnqueueTranscriptExport(jobCtx, queue.TranscriptExportPayload{CallID: change.SessionID}); err != nil {
				logger.Warn("transcript export enqueue failed",
					zap.String("session_id", change.SessionID.String()), zap.Error(err))
			}
		}
	})

	iceServers := make([]webrtc.ICEServer, 0, len(cfg.WebRTC.ICEUrls))
	for _, u := range cfg.WebRTC.ICEUrls {
		if u != "" {
			iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{u}})
		}
	}

	jwtValidate := func(token string) (userID string, err error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return "", err
		}
		return claims.UserID.String(), nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		// Users
		api.GET("/users", middleware.RequireRole(string(models.RoleAdmin)), authHandler.List)
		api.GET("/users/me", authHandler.Me)
		api.PATCH("/users/me/language", authHandler.UpdateLanguage)
		api.GET("/users/:id/presence", presenceHandler.Get)

		// Conversations & messages
		api.GET("/conversations", chatHandler.ListConversations)
		api.POST("/conversations", chatHandler.OpenConversation)
		api.GET("/conversations/:id/messages", chatHandler.ListMessages)
		api.POST("/conversations/:id/messages", chatHandler.SendMessage)
		api.POST("/conversations/:id/messages/:messageId/read", chatHandler.MarkRead)
		api.GET("/conversations/:id/typing", chatHandler.TypingUsers)

		// Calls
		api.POST("/calls/initiate", callHandler.Initiate)
		api.POST("/calls/answer", callHandler.Answer)
		api.POST("/calls/translate", callHandler.Translate)
		api.POST("/calls/record", callHandler.Record)
		api.GET("/calls", callHandler.History)
		api.GET("/calls/:id", callHandler.GetCall)
		api.POST("/calls/:id/end", callHandler.End)
		api.POST("/calls/:id/signal", callHandler.Signal)
		api.GET("/calls/:id/recordings", recordingHandler.ListByCall)
		api.GET("/recordings/:id", recordingHandler.Get)

		// ICE server config for clients building peer connections
		api.GET("/webrtc/config", func(c *gin.Context) {
			response.OK(c, gin.H{"ice_servers": iceServers})
		})
	}

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, dispatcher, typingTracker, chatRepo, logger, jwtValidate))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	pipeline.Wait()
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
