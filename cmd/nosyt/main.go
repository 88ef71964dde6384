// Package main запускает сервис автоматизации промпт-продуктов.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/NosytLabs/nosyt-ai-prompt-automation/internal/analytics"
	"github.com/NosytLabs/nosyt-ai-prompt-automation/internal/config"
	"github.com/NosytLabs/nosyt-ai-prompt-automation/internal/generation"
	"github.com/NosytLabs/nosyt-ai-prompt-automation/internal/handler"
	"github.com/NosytLabs/nosyt-ai-prompt-automation/internal/marketplace"
	"github.com/NosytLabs/nosyt-ai-prompt-automation/internal/middleware"
	"github.com/NosytLabs/nosyt-ai-prompt-automation/internal/notify"
	"github.com/NosytLabs/nosyt-ai-prompt-automation/internal/pipeline"
	"github.com/NosytLabs/nosyt-ai-prompt-automation/internal/repository"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	generator := generation.NewClient(cfg.GenerationAddress, cfg.ExternalTimeout, cfg.GenerationRetries)
	fallback := generation.NewTemplateGenerator()
	publisher := marketplace.NewClient(cfg.MarketplaceAddress, cfg.MarketplaceToken, cfg.ExternalTimeout)
	notifier := notify.NewWebhook(cfg.NotifyWebhookURL, cfg.ExternalTimeout)

	p := pipeline.New(cfg, generator, fallback, nil, publisher, notifier, repo, logger)
	engine := analytics.NewEngine(repo)

	authMiddleware := middleware.NewAuthMiddleware(cfg.OperatorToken)
	h := handler.NewHandler(p, engine, repo, logger, authMiddleware)

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: h.SetupRouter(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск фонового расписания циклов автоматизации
	g.Go(func() error {
		p.StartSchedule(ctx)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting automation server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
