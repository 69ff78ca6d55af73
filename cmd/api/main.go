package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/ai-workbench/backend/internal/auth"
	"github.com/zhouzirui/ai-workbench/backend/internal/config"
	"github.com/zhouzirui/ai-workbench/backend/internal/handler"
	"github.com/zhouzirui/ai-workbench/backend/internal/logging"
	"github.com/zhouzirui/ai-workbench/backend/internal/service/ai"
	"github.com/zhouzirui/ai-workbench/backend/internal/service/chat"
	"github.com/zhouzirui/ai-workbench/backend/internal/service/title"
	"github.com/zhouzirui/ai-workbench/backend/internal/store/driver"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		logrus.WithError(err).Debug("no .env file, continuing with system environment variables only")
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format)

	st, err := driver.Open(ctx, cfg.Store, logging.Component(logger, "store"))
	if err != nil {
		logger.WithError(err).Fatal("failed to open store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.WithError(err).Warn("failed to close store")
		}
	}()

	completer, err := ai.New(ctx, cfg.AI, logging.Component(logger, "ai"))
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize completion service")
	}
	logger.WithFields(logrus.Fields{"provider": cfg.AI.Provider, "model": cfg.AI.Model}).Info("AI service initialized successfully")

	broker := title.NewBroker()
	titles := title.NewManager(completer, st, broker, title.Options{
		Timeout:  cfg.Title.Timeout,
		Disabled: cfg.Title.Disabled,
	}, logging.Component(logger, "title"))

	chatSvc := chat.NewService(st, completer, titles, chat.Options{
		ReplyTimeout:  cfg.AI.ReplyTimeout,
		ReplyRetries:  cfg.AI.ReplyRetries,
		RetryBackoff:  cfg.AI.RetryBackoff,
		AutoProvision: cfg.Auth.AutoProvision,
	}, logging.Component(logger, "chat"))

	router := handler.NewRouter(handler.Dependencies{
		Chat:           chatSvc,
		Titles:         broker,
		Verifier:       auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Log:            logging.Component(logger, "http"),
	})

	startServer(ctx, cfg.Server, router, logger)

	// 等待后台标题任务结束后再关闭存储
	titles.Wait()
	logger.Info("shutdown complete")
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger *logrus.Logger) {
	addr := serverCfg.Addr()
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       serverCfg.ReadTimeout,
		WriteTimeout:      serverCfg.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	logger.WithField("addr", addr).Info("AI workbench backend listening")
	if err := runServer(ctx, srv, serverCfg.ShutdownTimeout); err != nil {
		logger.WithError(err).Error("server error")
	}
}

func runServer(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
