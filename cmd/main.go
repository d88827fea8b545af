package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"deal-chat/auth"
	"deal-chat/gateway"
	"deal-chat/moderation"
	"deal-chat/repositories"
	"deal-chat/runtime"
	"deal-chat/runtime/workers"
	"deal-chat/search"
	"deal-chat/services"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run initializes all components, manages the server lifecycle, and
// centralizes error reporting, so every defer (database close, index
// close) executes before the process exits.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Database (BadgerDB)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.INFO))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	// 3. Moderation & Search
	words, err := moderation.LoadBannedWords()
	if err != nil {
		return fmt.Errorf("banned word list failed to load: %w", err)
	}
	moderator, err := moderation.NewModerator(words, config.ModerationCharReplacement)
	if err != nil {
		return fmt.Errorf("moderator setup failed: %w", err)
	}
	index, err := search.NewMessageIndex(config.IndexFilepath, log)
	if err != nil {
		return fmt.Errorf("search index opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing search index...")
		_ = index.Close()
	}()

	// 4. Services
	registry := runtime.NewRegistry(log)
	users := repositories.NewUserRepository(db)
	chatService := services.NewChatService(log,
		repositories.NewChatRepository(db, log),
		repositories.NewMessageLog(db, log),
		repositories.NewCursorRepository(db),
		registry, moderator, config.MaxBodyLength)
	chatService.AddSinks(index)

	tokens := auth.NewTokenManager(config.JWTSecret, config.TokenDuration)
	authService := services.NewAuthService(users, tokens)

	// 5. Supervision
	typing := workers.NewTypingBroadcaster(log, registry, config.TypingDebounce, config.TypingQuiet)
	sup := workers.NewSupervisor(log, config.RestartInterval).
		Add(typing).
		Add(workers.NewHealthWorker(log, registry, config.HealthInterval))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go sup.Run(ctx)

	// 6. HTTP & WebSocket server
	gw := gateway.NewGateway(log, chatService, authService, tokens,
		registry, typing, users, index, config.SendBufferSize)
	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler: gw.Router(),
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting server", "address", server.Addr, "at", time.Now().UTC())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	// 7. Wait for Stop or Error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		return err
	}

	// 8. Final Cleanup
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("Forced server close", "error", err)
	}
	sup.Stop()
	log.Info("Program stopped cleanly")

	return nil
}
