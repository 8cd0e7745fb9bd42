package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	disgobot "github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/snowflake/v2"
	"github.com/dubblu/sentinel/internal/antispam"
	"github.com/dubblu/sentinel/internal/bot/constants"
	"github.com/dubblu/sentinel/internal/setup/config"
	"go.uber.org/zap"
)

// Notifier implements antispam.Notifier by posting embeds to the configured
// notification, log, alert and DM-failure channels. An unconfigured channel
// skips the post without error.
type Notifier struct {
	client disgobot.Client
	cfg    *config.AntiSpamConfig
	logger *zap.Logger
}

// NewNotifier creates a Notifier bound to a Discord client.
func NewNotifier(client disgobot.Client, cfg *config.AntiSpamConfig, logger *zap.Logger) *Notifier {
	return &Notifier{
		client: client,
		cfg:    cfg,
		logger: logger.Named("notifier"),
	}
}

// NotifyQuarantine posts the public notice mentioning the quarantined user.
func (n *Notifier) NotifyQuarantine(_ context.Context, _, userID snowflake.ID) error {
	if n.cfg.NotificationChannelID == 0 {
		n.logger.Warn("No notification channel configured")
		return nil
	}

	content := fmt.Sprintf(
		"<@%d>\n> Your account has been temporarily suspended for %s due to "+
			"detected spam activity or security concerns. During this time, you cannot "+
			"view or send messages. Please wait for the timeout period to end. "+
			"Contact support if you believe this is an error.",
		userID, formatDuration(n.cfg.TimeoutDuration()))

	_, err := n.client.Rest().CreateMessage(snowflake.ID(n.cfg.NotificationChannelID),
		discord.NewMessageCreateBuilder().SetContent(content).Build())

	return err
}

// DirectMessage sends the security DM explaining the quarantine and how to
// recover the account.
func (n *Notifier) DirectMessage(_ context.Context, userID snowflake.ID) error {
	channel, err := n.client.Rest().CreateDMChannel(userID)
	if err != nil {
		return fmt.Errorf("failed to create DM channel: %w", err)
	}

	embed := discord.NewEmbedBuilder().
		SetTitle("🔒 Account Security Alert").
		SetColor(constants.SecurityEmbedColor).
		SetDescription(strings.Join([]string{
			"**Your account has been temporarily restricted due to suspicious activity.**",
			"",
			"**What happened?**",
			"Our security system detected potential spam activity from your account,",
			"such as mass pings with attachments or suspicious links posted across",
			"multiple channels. This pattern is consistent with compromised accounts.",
			"",
			"**What you should do:**",
			"1. Change your Discord password immediately",
			"2. Enable 2FA on your account",
			"3. Run an antivirus scan on your device",
			"4. Check for unauthorized applications in your Discord settings",
			"5. Log out of Discord on all devices and log back in",
			"",
			"**Appeal process:**",
			"Once your account is secured, ask a moderator to restore your roles.",
			"",
			fmt.Sprintf("**Timeout duration:** %s", formatDuration(n.cfg.TimeoutDuration())),
		}, "\n")).
		SetFooter("This is an automated security measure", "").
		SetTimestamp(time.Now()).
		Build()

	_, err = n.client.Rest().CreateMessage(channel.ID(),
		discord.NewMessageCreateBuilder().SetEmbeds(embed).Build())

	return err
}

// LogDMFailure reports a failed security DM to the DM-failure channel.
func (n *Notifier) LogDMFailure(_ context.Context, userID snowflake.ID, cause error) error {
	if n.cfg.DMFailLogChannelID == 0 {
		return nil
	}

	embed := discord.NewEmbedBuilder().
		SetTitle("📧 DM Delivery Failed").
		SetColor(constants.WarningEmbedColor).
		AddField("User", fmt.Sprintf("<@%d> (`%d`)", userID, userID), true).
		AddField("Reason", cause.Error(), false).
		SetTimestamp(time.Now()).
		Build()

	_, err := n.client.Rest().CreateMessage(snowflake.ID(n.cfg.DMFailLogChannelID),
		discord.NewMessageCreateBuilder().SetEmbeds(embed).Build())

	return err
}

// LogIncident posts the audit embed with the role and activity summary.
func (n *Notifier) LogIncident(_ context.Context, incident *antispam.Incident) error {
	if n.cfg.LogChannelID == 0 {
		return nil
	}

	roleList := "No roles"
	if len(incident.Roles) > 0 {
		mentions := make([]string, 0, min(len(incident.Roles), 10))
		for i, roleID := range incident.Roles {
			if i == 10 {
				break
			}

			mentions = append(mentions, fmt.Sprintf("<@&%d>", roleID))
		}

		roleList = strings.Join(mentions, ", ")
	}

	activity := strings.Join([]string{
		fmt.Sprintf("Messages: %d", incident.Stats.Messages),
		fmt.Sprintf("Channels: %d", incident.Stats.ChannelCount),
		fmt.Sprintf("Images: %d", incident.Stats.TotalImages),
		fmt.Sprintf("Links: %d", incident.Stats.TotalLinks),
		fmt.Sprintf("Suspicious links: %d", incident.Stats.SuspiciousLinks),
		fmt.Sprintf("Mass mentions: %d", incident.Stats.MassMentions),
	}, "\n")

	actions := strings.Join([]string{
		fmt.Sprintf("Spam messages deleted: %d", incident.DeletedMessages),
		"User timed out",
		"Roles removed and stored for restoration",
		"Suspension role applied",
		"User notified",
	}, "\n")

	embed := discord.NewEmbedBuilder().
		SetTitle("🚨 Multi-Channel Spam Detection").
		SetColor(constants.SecurityEmbedColor).
		AddField("User", fmt.Sprintf("**Name:** %s\n**ID:** `%d`\n**Mention:** <@%d>",
			incident.DisplayName, incident.UserID, incident.UserID), true).
		AddField("Detection Rule", fmt.Sprintf("`%s`", incident.Rule), true).
		AddField("Stored Roles", fmt.Sprintf("**Count:** %d\n%s", len(incident.Roles), roleList), false).
		AddField("Activity Summary", activity, true).
		AddField("Actions Taken", actions, true).
		SetFooter(fmt.Sprintf("Incident %s", incident.ID), "").
		SetTimestamp(incident.Timestamp).
		Build()

	_, err := n.client.Rest().CreateMessage(snowflake.ID(n.cfg.LogChannelID),
		discord.NewMessageCreateBuilder().SetEmbeds(embed).Build())

	return err
}

// Alert posts the server-facing compromised-account alert.
func (n *Notifier) Alert(_ context.Context, _, userID snowflake.ID, displayName string) error {
	if n.cfg.AlertChannelID == 0 {
		return nil
	}

	embed := discord.NewEmbedBuilder().
		SetTitle("🔒 Compromised Account Detected").
		SetColor(constants.WarningEmbedColor).
		SetDescription(strings.Join([]string{
			fmt.Sprintf("**%s** (<@%d>) has been temporarily restricted due to "+
				"suspicious multi-channel spam activity.", displayName, userID),
			"",
			"Their account appears to be compromised and was posting spam content",
			"across multiple channels.",
			"",
			"**Security measures applied:**",
			"• Account timed out",
			"• Roles temporarily removed and stored",
			"• Suspension role applied",
			"• Spam messages cleaned up",
			"",
			"If this is your friend, let them know their account may be hacked and",
			"they should secure it immediately.",
		}, "\n")).
		SetFooter("This is an automated security response", "").
		SetTimestamp(time.Now()).
		Build()

	_, err := n.client.Rest().CreateMessage(snowflake.ID(n.cfg.AlertChannelID),
		discord.NewMessageCreateBuilder().SetEmbeds(embed).Build())

	return err
}

// LogRestoration posts the restoration tally to the log channel.
func (n *Notifier) LogRestoration(_ context.Context, restoration *antispam.Restoration) error {
	if n.cfg.LogChannelID == 0 {
		return nil
	}

	embed := discord.NewEmbedBuilder().
		SetTitle("🔄 Role Restoration").
		SetColor(constants.SuccessEmbedColor).
		AddField("User", fmt.Sprintf("<@%d>", restoration.UserID), true).
		AddField("Restored By", restoration.ActorTag, true).
		AddField("Results", fmt.Sprintf("%d/%d roles restored",
			restoration.Restored, restoration.Total), false).
		SetTimestamp(time.Now()).
		Build()

	_, err := n.client.Rest().CreateMessage(snowflake.ID(n.cfg.LogChannelID),
		discord.NewMessageCreateBuilder().SetEmbeds(embed).Build())

	return err
}

// formatDuration renders a duration in its largest whole unit so short
// timeouts never display as zero.
func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Hour:
		return pluralize(int(d.Hours()), "hour")
	case d >= time.Minute:
		return pluralize(int(d.Minutes()), "minute")
	default:
		return pluralize(int(d.Seconds()), "second")
	}
}

func pluralize(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}

	return fmt.Sprintf("%d %ss", n, unit)
}
