package antispam

import (
	"context"
	"slices"
	"sync/atomic"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/dubblu/sentinel/internal/antispam/classifier"
	"github.com/dubblu/sentinel/internal/antispam/types"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

const quarantineReason = "Anti-spam: Compromised account detected"

// quarantine runs the orchestration for a positive verdict. Each step is
// independently fallible; a failure is logged and never prevents the
// remaining steps. Repeated triggers for an already-quarantined user
// overwrite the stored snapshot.
func (d *Detector) quarantine(ctx context.Context, in *types.Inbound, verdict classifier.Verdict, stats *classifier.Stats) {
	logger := d.logger.With(
		zap.Uint64("guild_id", uint64(in.GuildID)),
		zap.Uint64("user_id", uint64(in.UserID)))

	// Step 1: snapshot current roles for later restoration.
	snap := &types.RoleSnapshot{
		Roles:       slices.Clone(in.MemberRoleIDs),
		CapturedAt:  time.Now(),
		Reason:      quarantineReason,
		DisplayName: in.DisplayName,
	}
	if replaced := d.snapshots.Set(in.UserID, snap); replaced {
		logger.Warn("Overwrote existing role snapshot for repeated quarantine")
	}

	// Step 2: delete the user's messages within the active window.
	deleted := d.deleteRecentMessages(ctx, in, logger)

	// Steps 3-4 require both elevated capabilities; a deficiency aborts
	// the role and timeout steps only.
	caps, err := d.effects.Perms.BotCapabilities(ctx, in.GuildID)

	switch {
	case err != nil:
		logger.Error("Failed to resolve bot capabilities, skipping role and timeout steps", zap.Error(err))
	case !caps.ManageRoles || !caps.ModerateMembers:
		logger.Error("Bot lacks required permissions, skipping role and timeout steps",
			zap.Bool("manage_roles", caps.ManageRoles),
			zap.Bool("moderate_members", caps.ModerateMembers))
	default:
		d.applyPunishment(ctx, in, caps, logger)
	}

	// Step 5: notifications, each fire-and-forget.
	incident := &Incident{
		ID:              uuid.New().String(),
		GuildID:         in.GuildID,
		UserID:          in.UserID,
		DisplayName:     in.DisplayName,
		Rule:            verdict.Rule,
		Stats:           stats,
		Roles:           snap.Roles,
		DeletedMessages: deleted,
		Timestamp:       time.Now(),
	}

	if err := d.effects.Notify.NotifyQuarantine(ctx, in.GuildID, in.UserID); err != nil {
		logger.Error("Failed to send user notification", zap.Error(err))
	}

	if err := d.effects.Notify.DirectMessage(ctx, in.UserID); err != nil {
		logger.Warn("Could not send security DM", zap.Error(err))

		if err := d.effects.Notify.LogDMFailure(ctx, in.UserID, err); err != nil {
			logger.Error("Failed to log DM failure", zap.Error(err))
		}
	}

	if err := d.effects.Notify.LogIncident(ctx, incident); err != nil {
		logger.Error("Failed to log incident", zap.Error(err))
	}

	if err := d.effects.Notify.Alert(ctx, in.GuildID, in.UserID, in.DisplayName); err != nil {
		logger.Error("Failed to send server alert", zap.Error(err))
	}

	logger.Info("Quarantine applied",
		zap.String("incident_id", incident.ID),
		zap.String("rule", verdict.Rule),
		zap.Int("deleted_messages", deleted),
		zap.Int("snapshot_roles", len(snap.Roles)))
}

// deleteRecentMessages removes the user's ledger-window messages across
// channels, using the same window the classifier saw so delivery lag cannot
// let an offending message age out. Deletion is best-effort per message; an
// already-deleted or missing message is not an error.
func (d *Detector) deleteRecentMessages(ctx context.Context, in *types.Inbound, logger *zap.Logger) int {
	window := d.ledger.Window(in.UserID, in.Timestamp, d.thresholds.TimeWindow)

	var deleted atomic.Int64

	p := pool.New().WithContext(ctx)

	for _, msg := range window {
		p.Go(func(ctx context.Context) error {
			if err := d.deleteSem.Acquire(ctx, 1); err != nil {
				return nil
			}
			defer d.deleteSem.Release(1)

			err := d.effects.Messages.DeleteMessage(ctx, msg.ChannelID, msg.MessageID, quarantineReason)
			if err != nil {
				logger.Debug("Could not delete message",
					zap.Uint64("channel_id", uint64(msg.ChannelID)),
					zap.Uint64("message_id", uint64(msg.MessageID)),
					zap.Error(err))
				return nil
			}

			deleted.Add(1)

			return nil
		})
	}

	_ = p.Wait()

	logger.Info("Deleted spam messages",
		zap.Int64("deleted", deleted.Load()),
		zap.Int("window_messages", len(window)))

	return int(deleted.Load())
}

// applyPunishment strips manageable roles, applies the suspension role and
// times the member out. Every sub-step is individually best-effort.
func (d *Detector) applyPunishment(ctx context.Context, in *types.Inbound, caps Capabilities, logger *zap.Logger) {
	guildRoles, err := d.effects.Roles.GuildRoles(ctx, in.GuildID)
	if err != nil {
		logger.Error("Failed to fetch guild roles", zap.Error(err))
	}

	positions := make(map[snowflake.ID]int, len(guildRoles))
	for _, role := range guildRoles {
		positions[role.ID] = role.Position
	}

	// Strip all roles except @everyone, preserved roles and roles at or
	// above the bot's own ceiling.
	var removedCount int

	for _, roleID := range in.MemberRoleIDs {
		if roleID == in.GuildID {
			continue
		}

		if _, ok := d.preserved[roleID]; ok {
			continue
		}

		if pos, ok := positions[roleID]; ok && pos >= caps.TopRolePosition {
			continue
		}

		if err := d.effects.Roles.RemoveRole(ctx, in.GuildID, in.UserID, roleID, quarantineReason); err != nil {
			logger.Warn("Could not remove role",
				zap.Uint64("role_id", uint64(roleID)),
				zap.Error(err))
			continue
		}

		removedCount++
	}

	logger.Info("Removed roles", zap.Int("removed", removedCount))

	d.addSuspensionRole(ctx, in, caps, positions, logger)

	// Apply the timeout.
	until := time.Now().Add(d.cfg.TimeoutDuration())
	if err := d.effects.Mod.Timeout(ctx, in.GuildID, in.UserID, until, quarantineReason); err != nil {
		logger.Error("Could not apply timeout", zap.Error(err))
	} else {
		logger.Info("Applied timeout", zap.Time("until", until))
	}
}

// addSuspensionRole adds the configured suspension role when it exists and
// sits below the bot's privilege ceiling; otherwise the addition is skipped
// and logged, not retried.
func (d *Detector) addSuspensionRole(
	ctx context.Context, in *types.Inbound, caps Capabilities,
	positions map[snowflake.ID]int, logger *zap.Logger,
) {
	if d.cfg.SuspensionRoleID == 0 {
		logger.Warn("No suspension role configured")
		return
	}

	roleID := snowflake.ID(d.cfg.SuspensionRoleID)

	pos, ok := positions[roleID]
	if !ok {
		logger.Error("Suspension role not found in guild",
			zap.Uint64("role_id", uint64(roleID)))
		return
	}

	if pos >= caps.TopRolePosition {
		logger.Error("Suspension role is above the bot's highest role",
			zap.Uint64("role_id", uint64(roleID)),
			zap.Int("role_position", pos),
			zap.Int("bot_top_position", caps.TopRolePosition))
		return
	}

	if err := d.effects.Roles.AddRole(ctx, in.GuildID, in.UserID, roleID, quarantineReason); err != nil {
		logger.Error("Could not add suspension role", zap.Error(err))
		return
	}

	logger.Info("Added suspension role", zap.Uint64("role_id", uint64(roleID)))
}
