// Package bot wires the Discord gateway client to the anti-spam engine and
// the operator command surface.
package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/disgoorg/disgo"
	disgobot "github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/gateway"
	"github.com/disgoorg/snowflake/v2"
	"github.com/dubblu/sentinel/internal/antispam"
	"github.com/dubblu/sentinel/internal/antispam/types"
	"github.com/dubblu/sentinel/internal/bot/constants"
	"github.com/dubblu/sentinel/internal/setup/config"
	"go.uber.org/zap"
)

// Bot is the running gateway client plus the detection engine behind it.
type Bot struct {
	client   disgobot.Client
	cfg      *config.Config
	detector *antispam.Detector
	logger   *zap.Logger

	sweepCancel context.CancelFunc
}

// New builds the Discord client, the side-effect adapters and the detection
// engine, and registers the message listener. The gateway is not opened
// until Start.
func New(cfg *config.Config, logger *zap.Logger) (*Bot, error) {
	b := &Bot{
		cfg:    cfg,
		logger: logger.Named("bot"),
	}

	client, err := disgo.New(cfg.Bot.Token,
		disgobot.WithGatewayConfigOpts(
			gateway.WithIntents(
				gateway.IntentGuilds,
				gateway.IntentGuildMembers,
				gateway.IntentGuildMessages,
				gateway.IntentMessageContent,
				gateway.IntentDirectMessages,
			),
		),
		disgobot.WithEventListeners(&events.ListenerAdapter{
			OnGuildMessageCreate: b.onGuildMessageCreate,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord client: %w", err)
	}

	b.client = client

	effector := NewEffector(client)
	notifier := NewNotifier(client, &cfg.AntiSpam, b.logger)

	b.detector = antispam.New(&cfg.AntiSpam, antispam.Effects{
		Roles:    effector,
		Mod:      effector,
		Messages: effector,
		Perms:    effector,
		Notify:   notifier,
	}, logger)

	return b, nil
}

// Start opens the gateway connection and starts the background history
// sweeper.
func (b *Bot) Start(ctx context.Context) error {
	if err := b.client.OpenGateway(ctx); err != nil {
		return fmt.Errorf("failed to open gateway: %w", err)
	}

	sweepCtx, cancel := context.WithCancel(context.Background())
	b.sweepCancel = cancel

	go b.detector.RunSweeper(sweepCtx)

	b.logger.Info("Bot started",
		zap.Bool("antispam_enabled", b.detector.Enabled()),
		zap.String("command_prefix", b.commandPrefix()))

	return nil
}

// Close stops the sweeper and closes the gateway connection.
func (b *Bot) Close(ctx context.Context) {
	if b.sweepCancel != nil {
		b.sweepCancel()
	}

	b.client.Close(ctx)
	b.logger.Info("Bot stopped")
}

// onGuildMessageCreate routes each guild message either to the command
// handler or through the detection flow. Bot authors are ignored entirely.
func (b *Bot) onGuildMessageCreate(event *events.GuildMessageCreate) {
	msg := event.Message

	if msg.Author.Bot {
		return
	}

	if args, ok := b.parseCommand(msg.Content); ok {
		b.handleCommand(event, args)
		return
	}

	var roleIDs []snowflake.ID

	displayName := msg.Author.Username

	if msg.Member != nil {
		roleIDs = msg.Member.RoleIDs
		if msg.Member.Nick != nil && *msg.Member.Nick != "" {
			displayName = *msg.Member.Nick
		}
	}

	b.detector.CheckMessage(context.Background(), &types.Inbound{
		UserID:          msg.Author.ID,
		GuildID:         event.GuildID,
		ChannelID:       msg.ChannelID,
		MessageID:       msg.ID,
		Timestamp:       msg.CreatedAt,
		Content:         msg.Content,
		AttachmentCount: len(msg.Attachments),
		MentionEveryone: msg.MentionEveryone,
		MemberRoleIDs:   roleIDs,
		DisplayName:     displayName,
	})
}

// parseCommand splits a message into command arguments when it invokes the
// anti-spam command, matching the prefix and command name case-insensitively.
func (b *Bot) parseCommand(content string) ([]string, bool) {
	prefix := b.commandPrefix()

	if !strings.HasPrefix(content, prefix) {
		return nil, false
	}

	fields := strings.Fields(content[len(prefix):])
	if len(fields) == 0 || !strings.EqualFold(fields[0], constants.AntiSpamCommandName) {
		return nil, false
	}

	return fields[1:], true
}

func (b *Bot) commandPrefix() string {
	if b.cfg.Bot.Prefix != "" {
		return b.cfg.Bot.Prefix
	}

	return "!"
}
