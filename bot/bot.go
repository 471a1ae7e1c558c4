package bot

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ZubyWasTaken/refer-a-friend/cache"
	"github.com/ZubyWasTaken/refer-a-friend/events"
	"github.com/ZubyWasTaken/refer-a-friend/service"

	"github.com/bwmarrin/discordgo"
)

// Config holds bot configuration
type Config struct {
	Token               string
	ResetConfirmTimeout time.Duration
}

type Bot struct {
	config        Config
	session       *discordgo.Session
	inviteService service.InviteService
	adminService  service.AdminService
	configService service.GuildConfigService
	memberService service.MemberService
	reconciler    service.Reconciler
	invites       *cache.InviteCache
	eventBus      *events.Bus

	mu            sync.Mutex
	pendingResets map[string]time.Time // "guildID:userID" -> expiry
}

// NewSession creates the Discord session without opening it. The session is
// built first so the invite gateway adapter exists before the services that
// depend on it.
func NewSession(token string) (*discordgo.Session, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("error creating discord session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildInvites
	return dg, nil
}

// New wires the handlers onto an unopened session, opens the connection and
// registers the slash commands.
func New(
	config Config,
	session *discordgo.Session,
	inviteService service.InviteService,
	adminService service.AdminService,
	configService service.GuildConfigService,
	memberService service.MemberService,
	reconciler service.Reconciler,
	invites *cache.InviteCache,
	eventBus *events.Bus,
) (*Bot, error) {
	if config.ResetConfirmTimeout <= 0 {
		config.ResetConfirmTimeout = 30 * time.Second
	}

	bot := &Bot{
		config:        config,
		session:       session,
		inviteService: inviteService,
		adminService:  adminService,
		configService: configService,
		memberService: memberService,
		reconciler:    reconciler,
		invites:       invites,
		eventBus:      eventBus,
		pendingResets: make(map[string]time.Time),
	}

	session.AddHandler(bot.handleReady)
	session.AddHandler(bot.handleGuildCreate)
	session.AddHandler(bot.handleInviteCreate)
	session.AddHandler(bot.handleInviteDelete)
	session.AddHandler(bot.handleGuildMemberAdd)
	session.AddHandler(bot.handleGuildMemberUpdate)
	session.AddHandler(bot.handleInteraction)

	bot.subscribeAuditLogger()

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("error opening connection: %w", err)
	}

	if err := bot.registerCommands(); err != nil {
		session.Close()
		return nil, fmt.Errorf("error registering commands: %w", err)
	}

	log.Info("Bot is up")
	return bot, nil
}

func (b *Bot) Close() error {
	return b.session.Close()
}
