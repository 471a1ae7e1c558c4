package service

import (
	"context"
	"fmt"

	"github.com/ZubyWasTaken/refer-a-friend/models"
	log "github.com/sirupsen/logrus"
)

type guildConfigService struct {
	uowFactory UnitOfWorkFactory
}

// NewGuildConfigService creates a new guild config service
func NewGuildConfigService(uowFactory UnitOfWorkFactory) GuildConfigService {
	return &guildConfigService{uowFactory: uowFactory}
}

// Get returns the guild's config or ErrNotConfigured.
func (s *guildConfigService) Get(ctx context.Context, guildID int64) (*models.GuildConfig, error) {
	config, err := s.load(ctx, guildID)
	if err != nil {
		return nil, err
	}
	if config == nil || !config.SetupCompleted {
		return nil, ErrNotConfigured
	}
	return config, nil
}

// Setup performs first-time configuration.
func (s *guildConfigService) Setup(ctx context.Context, params SetupParams) (*models.GuildConfig, error) {
	uow := s.uowFactory.CreateForGuild(params.GuildID)
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	existing, err := uow.GuildConfigRepository().Get(ctx)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.SetupCompleted {
		return nil, ErrAlreadySetup
	}

	config := &models.GuildConfig{
		GuildID:         params.GuildID,
		LogsChannelID:   params.LogsChannelID,
		BotChannelID:    params.BotChannelID,
		SystemChannelID: params.SystemChannelID,
		DefaultRoleID:   params.DefaultRoleID,
		SetupCompleted:  true,
	}
	if err := uow.GuildConfigRepository().Upsert(ctx, config); err != nil {
		return nil, err
	}

	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit setup: %w", err)
	}

	log.WithFields(log.Fields{
		"guild":        params.GuildID,
		"logs_channel": params.LogsChannelID,
		"bot_channel":  params.BotChannelID,
	}).Info("Guild setup completed")
	return config, nil
}

// SetLogsChannel changes where audit messages are posted.
func (s *guildConfigService) SetLogsChannel(ctx context.Context, guildID, channelID int64) error {
	return s.update(ctx, guildID, func(config *models.GuildConfig) {
		config.LogsChannelID = channelID
	})
}

// SetBotChannel changes the channel commands are restricted to.
func (s *guildConfigService) SetBotChannel(ctx context.Context, guildID, channelID int64) error {
	return s.update(ctx, guildID, func(config *models.GuildConfig) {
		config.BotChannelID = channelID
	})
}

// SetDefaultRole changes the role granted to invited joiners. Nil clears it.
func (s *guildConfigService) SetDefaultRole(ctx context.Context, guildID int64, roleID *int64) error {
	return s.update(ctx, guildID, func(config *models.GuildConfig) {
		config.DefaultRoleID = roleID
	})
}

// RequireCommandChannel gates a command invocation: the guild must be set up
// and the command must run in the configured bot channel.
func (s *guildConfigService) RequireCommandChannel(ctx context.Context, guildID, channelID int64) (*models.GuildConfig, error) {
	config, err := s.Get(ctx, guildID)
	if err != nil {
		return nil, err
	}
	if config.BotChannelID != 0 && config.BotChannelID != channelID {
		return nil, &WrongChannelError{BotChannelID: config.BotChannelID}
	}
	return config, nil
}

func (s *guildConfigService) load(ctx context.Context, guildID int64) (*models.GuildConfig, error) {
	uow := s.uowFactory.CreateForGuild(guildID)
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	config, err := uow.GuildConfigRepository().Get(ctx)
	if err != nil {
		return nil, err
	}
	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return config, nil
}

func (s *guildConfigService) update(ctx context.Context, guildID int64, apply func(*models.GuildConfig)) error {
	uow := s.uowFactory.CreateForGuild(guildID)
	if err := uow.Begin(ctx); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	config, err := uow.GuildConfigRepository().Get(ctx)
	if err != nil {
		return err
	}
	if config == nil || !config.SetupCompleted {
		return ErrNotConfigured
	}

	apply(config)
	if err := uow.GuildConfigRepository().Upsert(ctx, config); err != nil {
		return err
	}

	if err := uow.Commit(); err != nil {
		return fmt.Errorf("failed to commit config change: %w", err)
	}
	return nil
}
