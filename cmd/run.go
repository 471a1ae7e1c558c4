package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/ZubyWasTaken/refer-a-friend/bot"
	"github.com/ZubyWasTaken/refer-a-friend/cache"
	"github.com/ZubyWasTaken/refer-a-friend/config"
	"github.com/ZubyWasTaken/refer-a-friend/database"
	"github.com/ZubyWasTaken/refer-a-friend/events"
	"github.com/ZubyWasTaken/refer-a-friend/repository"
	"github.com/ZubyWasTaken/refer-a-friend/service"
)

// Run wires the application together and blocks until ctx is cancelled.
func Run(ctx context.Context) error {
	cfg := config.Get()

	if err := setupLogging(cfg); err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}

	if err := database.RunMigrationsWithURL(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	db, err := database.NewConnection(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	log.Info("Connected to database")

	eventBus := events.NewBus()
	uowFactory := repository.NewUnitOfWorkFactory(db, eventBus)

	inviteCache, err := cache.New(cache.Config{
		MatchWindow: cfg.DeletedInviteMatchWindow,
		Retention:   cfg.DeletedInviteRetention,
	})
	if err != nil {
		return fmt.Errorf("failed to create invite cache: %w", err)
	}
	defer inviteCache.Close()

	// The session is created unopened so the gateway adapter can be handed
	// to the services before any event arrives.
	session, err := bot.NewSession(cfg.DiscordToken)
	if err != nil {
		return fmt.Errorf("failed to create discord session: %w", err)
	}
	gateway := bot.NewInviteGateway(session)

	reconciler := service.NewReconciler(uowFactory, gateway, inviteCache)
	inviteService := service.NewInviteService(uowFactory, gateway, inviteCache, reconciler)
	adminService := service.NewAdminService(uowFactory, gateway, inviteCache)
	configService := service.NewGuildConfigService(uowFactory)
	memberService := service.NewMemberService(uowFactory)

	discordBot, err := bot.New(
		bot.Config{
			Token:               cfg.DiscordToken,
			ResetConfirmTimeout: cfg.ResetConfirmTimeout,
		},
		session,
		inviteService,
		adminService,
		configService,
		memberService,
		reconciler,
		inviteCache,
		eventBus,
	)
	if err != nil {
		return fmt.Errorf("failed to start bot: %w", err)
	}

	log.WithField("environment", cfg.Environment).Info("Refer-a-friend is running")

	<-ctx.Done()

	log.Info("Shutting down")
	if err := discordBot.Close(); err != nil {
		log.WithError(err).Error("Failed to close discord session")
	}
	return nil
}

// setupLogging configures logrus output and level. When LogFile is set the
// log is mirrored there in addition to stdout.
func setupLogging(cfg *config.Config) error {
	if cfg.Environment == "production" {
		log.SetFormatter(&log.JSONFormatter{})
		log.SetLevel(log.InfoLevel)
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
		log.SetLevel(log.DebugLevel)
	}

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		log.SetOutput(io.MultiWriter(os.Stdout, f))
	}

	return nil
}
