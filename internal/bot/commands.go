package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/snowflake/v2"
	"github.com/dubblu/sentinel/internal/antispam"
	"github.com/dubblu/sentinel/internal/bot/constants"
	"go.uber.org/zap"
)

// handleCommand routes one operator command invocation. The subcommand word
// is case-insensitive; unknown subcommands get the help embed. All commands
// require the invoker to hold one of the configured command roles.
func (b *Bot) handleCommand(event *events.GuildMessageCreate, args []string) {
	if !b.hasCommandPermission(event) {
		b.reply(event, discord.NewMessageCreateBuilder().
			SetContent("❌ You don't have permission to use anti-spam commands.").
			Build())

		return
	}

	var sub string
	if len(args) > 0 {
		sub = strings.ToLower(args[0])
	}

	switch sub {
	case "status":
		b.showStatus(event)
	case "restore":
		b.restoreUser(event, args[1:])
	case "toggle":
		b.toggleSystem(event)
	case "debug":
		b.debugUser(event, args[1:])
	case "trust":
		b.handleTrust(event, args[1:])
	default:
		b.showHelp(event)
	}
}

// hasCommandPermission reports whether the invoker holds a configured
// command role.
func (b *Bot) hasCommandPermission(event *events.GuildMessageCreate) bool {
	member := event.Message.Member
	if member == nil {
		return false
	}

	for _, roleID := range member.RoleIDs {
		for _, allowed := range b.cfg.Bot.CommandRoles {
			if roleID == snowflake.ID(allowed) {
				return true
			}
		}
	}

	return false
}

func (b *Bot) showHelp(event *events.GuildMessageCreate) {
	prefix := b.commandPrefix()

	embed := discord.NewEmbedBuilder().
		SetTitle("🛡️ Anti-Spam Commands").
		SetColor(constants.DefaultEmbedColor).
		AddField("Status", fmt.Sprintf("`%santispam status` - Show system status", prefix), false).
		AddField("Restore", fmt.Sprintf("`%santispam restore <user_id>` - Restore user roles", prefix), false).
		AddField("Toggle", fmt.Sprintf("`%santispam toggle` - Enable/disable the system", prefix), false).
		AddField("Debug", fmt.Sprintf("`%santispam debug <user_id>` - Show user activity", prefix), false).
		AddField("Trusted Domains", fmt.Sprintf("`%santispam trust add|remove|list [domain]`", prefix), false).
		Build()

	b.reply(event, discord.NewMessageCreateBuilder().SetEmbeds(embed).Build())
}

func (b *Bot) showStatus(event *events.GuildMessageCreate) {
	status := b.detector.Status()

	color := constants.ErrorEmbedColor
	state := "❌ Disabled"

	if status.Enabled {
		color = constants.SuccessEmbedColor
		state = "✅ Enabled"
	}

	embed := discord.NewEmbedBuilder().
		SetTitle("🛡️ Anti-Spam System Status").
		SetColor(color).
		AddField("Status", state, true).
		AddField("Image Threshold", fmt.Sprintf("%d images", status.ImageThreshold), true).
		AddField("Link Threshold", fmt.Sprintf("%d links", status.LinkThreshold), true).
		AddField("Time Window", status.TimeWindow.String(), true).
		AddField("Active Histories", fmt.Sprintf("%d users", status.TrackedUsers), true).
		AddField("Stored Snapshots", fmt.Sprintf("%d users", status.StoredSnapshots), true).
		AddField("Trusted Domains", fmt.Sprintf("%d domains", status.TrustedDomains), true).
		AddField("Suspension Role", roleMention(status.SuspensionRole), true).
		AddField("Channels", strings.Join([]string{
			"Log: " + channelMention(status.LogChannel),
			"Alert: " + channelMention(status.AlertChannel),
			"Notification: " + channelMention(status.NotifyChannel),
		}, "\n"), false).
		SetTimestamp(time.Now()).
		Build()

	b.reply(event, discord.NewMessageCreateBuilder().SetEmbeds(embed).Build())
}

func (b *Bot) restoreUser(event *events.GuildMessageCreate, args []string) {
	if len(args) == 0 {
		b.reply(event, discord.NewMessageCreateBuilder().
			SetContentf("❌ Please provide a user ID: `%santispam restore <user_id>`", b.commandPrefix()).
			Build())

		return
	}

	userID, err := snowflake.Parse(args[0])
	if err != nil {
		b.reply(event, discord.NewMessageCreateBuilder().
			SetContent("❌ Invalid user ID.").
			Build())

		return
	}

	actorTag := event.Message.Author.Username

	result, err := b.detector.Restore(context.Background(), event.GuildID, userID, actorTag)
	if err != nil {
		if errors.Is(err, antispam.ErrNoSnapshot) {
			b.reply(event, discord.NewMessageCreateBuilder().
				SetContent("❌ No stored role data found for this user.").
				Build())

			return
		}

		b.logger.Error("Failed to restore roles", zap.Error(err))
		b.reply(event, discord.NewMessageCreateBuilder().
			SetContentf("❌ Error restoring roles for <@%d>.", userID).
			Build())

		return
	}

	embed := discord.NewEmbedBuilder().
		SetTitle("✅ Roles Restored").
		SetColor(constants.SuccessEmbedColor).
		SetDescriptionf("Successfully restored roles for <@%d>", userID).
		AddField("Restoration Stats", fmt.Sprintf("**Restored:** %d/%d roles\n**Failed:** %d roles",
			result.Restored, result.Total, len(result.Failed)), true).
		AddField("Action By", actorTag, true).
		SetTimestamp(time.Now())

	if len(result.Failed) > 0 {
		mentions := make([]string, 0, len(result.Failed))
		for _, roleID := range result.Failed {
			mentions = append(mentions, fmt.Sprintf("<@&%d>", roleID))
		}

		embed.AddField("⚠️ Failed Roles", strings.Join(mentions, ", "), false)
	}

	b.reply(event, discord.NewMessageCreateBuilder().SetEmbeds(embed.Build()).Build())
}

func (b *Bot) toggleSystem(event *events.GuildMessageCreate) {
	enabled := b.detector.Toggle()

	color := constants.ErrorEmbedColor
	state := "DISABLED"

	if enabled {
		color = constants.SuccessEmbedColor
		state = "ENABLED"
	}

	b.logger.Info("Anti-spam system toggled",
		zap.Bool("enabled", enabled),
		zap.String("actor", event.Message.Author.Username))

	embed := discord.NewEmbedBuilder().
		SetTitle("🔧 System Toggled").
		SetColor(color).
		SetDescriptionf("Anti-Spam System is now **%s**", state).
		AddField("Changed By", event.Message.Author.Username, true).
		SetTimestamp(time.Now()).
		Build()

	b.reply(event, discord.NewMessageCreateBuilder().SetEmbeds(embed).Build())
}

func (b *Bot) debugUser(event *events.GuildMessageCreate, args []string) {
	if len(args) == 0 {
		b.reply(event, discord.NewMessageCreateBuilder().
			SetContentf("❌ Please provide a user ID: `%santispam debug <user_id>`", b.commandPrefix()).
			Build())

		return
	}

	userID, err := snowflake.Parse(args[0])
	if err != nil {
		b.reply(event, discord.NewMessageCreateBuilder().
			SetContent("❌ Invalid user ID.").
			Build())

		return
	}

	dump, ok := b.detector.DebugUser(userID)
	if !ok {
		b.reply(event, discord.NewMessageCreateBuilder().
			SetContent("❌ No data found for this user.").
			Build())

		return
	}

	embed := discord.NewEmbedBuilder().
		SetTitle("🐛 User Debug Information").
		SetColor(constants.DefaultEmbedColor).
		AddField("User", fmt.Sprintf("<@%d> (`%d`)", userID, userID), true).
		AddField("Message History", fmt.Sprintf("%d messages", len(dump.History)), true)

	if dump.Snapshot != nil {
		embed.AddField("Stored Roles", fmt.Sprintf("%d roles\nStored: <t:%d:R>\nReason: %s",
			len(dump.Snapshot.Roles), dump.Snapshot.CapturedAt.Unix(), dump.Snapshot.Reason), true)
	}

	if len(dump.History) > 0 {
		recent := dump.History
		if len(recent) > 5 {
			recent = recent[len(recent)-5:]
		}

		lines := make([]string, 0, len(recent))
		for _, msg := range recent {
			indicators := make([]string, 0, 4)

			if msg.AttachmentCount > 0 {
				indicators = append(indicators, fmt.Sprintf("%d img", msg.AttachmentCount))
			}

			if msg.URLCount() > 0 {
				indicators = append(indicators, fmt.Sprintf("%d links", msg.URLCount()))
			}

			if msg.SuspiciousURLCount() > 0 {
				indicators = append(indicators, fmt.Sprintf("%d sus", msg.SuspiciousURLCount()))
			}

			if msg.HasMassMention {
				indicators = append(indicators, "@everyone")
			}

			summary := "text"
			if len(indicators) > 0 {
				summary = strings.Join(indicators, ", ")
			}

			lines = append(lines, fmt.Sprintf("<t:%d:T> - %s", msg.Timestamp.Unix(), summary))
		}

		embed.AddField("Recent Activity (Last 5)", strings.Join(lines, "\n"), false)
	}

	builder := discord.NewMessageCreateBuilder().SetEmbeds(embed.Build())

	// Attach the raw dump for deeper inspection.
	if data, err := sonic.MarshalIndent(dump, "", "  "); err == nil {
		builder.AddFiles(discord.NewFile("debug.json", "", bytes.NewReader(data)))
	}

	b.reply(event, builder.Build())
}

func (b *Bot) handleTrust(event *events.GuildMessageCreate, args []string) {
	if len(args) == 0 {
		b.reply(event, discord.NewMessageCreateBuilder().
			SetContentf("❌ Usage: `%santispam trust add|remove|list [domain]`", b.commandPrefix()).
			Build())

		return
	}

	switch strings.ToLower(args[0]) {
	case "add":
		if len(args) < 2 {
			b.reply(event, discord.NewMessageCreateBuilder().
				SetContent("❌ Please provide a domain to trust.").
				Build())

			return
		}

		domain := strings.ToLower(args[1])
		if !b.detector.AddTrustedDomain(domain) {
			b.reply(event, discord.NewMessageCreateBuilder().
				SetContentf("❌ Domain `%s` is already in the trusted list.", domain).
				Build())

			return
		}

		b.reply(event, discord.NewMessageCreateBuilder().
			SetContentf("✅ Domain `%s` added to the trusted list (%d total).",
				domain, len(b.detector.TrustedDomains())).
			Build())
	case "remove":
		if len(args) < 2 {
			b.reply(event, discord.NewMessageCreateBuilder().
				SetContent("❌ Please provide a domain to remove.").
				Build())

			return
		}

		domain := strings.ToLower(args[1])
		if !b.detector.RemoveTrustedDomain(domain) {
			b.reply(event, discord.NewMessageCreateBuilder().
				SetContentf("❌ Domain `%s` is not in the trusted list.", domain).
				Build())

			return
		}

		b.reply(event, discord.NewMessageCreateBuilder().
			SetContentf("✅ Domain `%s` removed from the trusted list (%d remaining).",
				domain, len(b.detector.TrustedDomains())).
			Build())
	case "list":
		domains := b.detector.TrustedDomains()
		if len(domains) == 0 {
			b.reply(event, discord.NewMessageCreateBuilder().
				SetContent("❌ No trusted domains configured.").
				Build())

			return
		}

		lines := make([]string, 0, len(domains))
		for i, domain := range domains {
			lines = append(lines, fmt.Sprintf("%d. `%s`", i+1, domain))
		}

		embed := discord.NewEmbedBuilder().
			SetTitle("📋 Trusted Domains").
			SetColor(constants.DefaultEmbedColor).
			SetDescription(strings.Join(lines, "\n")).
			AddField("Effect", "Links from these domains are not considered suspicious", false).
			SetTimestamp(time.Now()).
			Build()

		b.reply(event, discord.NewMessageCreateBuilder().SetEmbeds(embed).Build())
	default:
		b.reply(event, discord.NewMessageCreateBuilder().
			SetContentf("❌ Usage: `%santispam trust add|remove|list [domain]`", b.commandPrefix()).
			Build())
	}
}

// reply sends a message referencing the invoking command message.
func (b *Bot) reply(event *events.GuildMessageCreate, create discord.MessageCreate) {
	builder := discord.NewMessageCreateBuilder().
		SetContent(create.Content).
		SetEmbeds(create.Embeds...).
		SetFiles(create.Files...).
		SetMessageReferenceByID(event.MessageID)

	if _, err := b.client.Rest().CreateMessage(event.ChannelID, builder.Build()); err != nil {
		b.logger.Error("Failed to send command reply", zap.Error(err))
	}
}

func roleMention(id snowflake.ID) string {
	if id == 0 {
		return "❌ Not set"
	}

	return fmt.Sprintf("<@&%d>", id)
}

func channelMention(id snowflake.ID) string {
	if id == 0 {
		return "❌ Not set"
	}

	return fmt.Sprintf("<#%d>", id)
}
