package antispam

import (
	"context"
	"errors"

	"github.com/disgoorg/snowflake/v2"
	"go.uber.org/zap"
)

// ErrNoSnapshot is returned when restoration is requested for a user with
// no stored role snapshot.
var ErrNoSnapshot = errors.New("no role snapshot stored for user")

// RestoreResult tallies one restoration attempt.
type RestoreResult struct {
	Restored int
	Total    int
	Failed   []snowflake.ID
}

// Restore reverses a quarantine from the stored snapshot: removes the
// suspension role, re-adds every snapshot role, clears the timeout and
// deletes the snapshot. Each role addition is individually fallible;
// failures accumulate in the result instead of aborting. The snapshot is
// dropped even after partial failure, so restoration is one-shot.
func (d *Detector) Restore(ctx context.Context, guildID, userID snowflake.ID, actorTag string) (*RestoreResult, error) {
	snap, ok := d.snapshots.Get(userID)
	if !ok {
		return nil, ErrNoSnapshot
	}

	defer d.snapshots.Delete(userID)

	logger := d.logger.With(
		zap.Uint64("guild_id", uint64(guildID)),
		zap.Uint64("user_id", uint64(userID)),
		zap.String("actor", actorTag))

	reason := "Role restoration by " + actorTag

	if d.cfg.SuspensionRoleID != 0 {
		suspensionRole := snowflake.ID(d.cfg.SuspensionRoleID)
		if err := d.effects.Roles.RemoveRole(ctx, guildID, userID, suspensionRole, reason); err != nil {
			logger.Warn("Could not remove suspension role", zap.Error(err))
		}
	}

	result := &RestoreResult{Total: len(snap.Roles)}

	for _, roleID := range snap.Roles {
		if err := d.effects.Roles.AddRole(ctx, guildID, userID, roleID, reason); err != nil {
			logger.Warn("Could not restore role",
				zap.Uint64("role_id", uint64(roleID)),
				zap.Error(err))

			result.Failed = append(result.Failed, roleID)

			continue
		}

		result.Restored++
	}

	if err := d.effects.Mod.ClearTimeout(ctx, guildID, userID, reason); err != nil {
		logger.Warn("Could not clear timeout", zap.Error(err))
	}

	restoration := &Restoration{
		GuildID:  guildID,
		UserID:   userID,
		ActorTag: actorTag,
		Restored: result.Restored,
		Total:    result.Total,
		Failed:   result.Failed,
	}
	if err := d.effects.Notify.LogRestoration(ctx, restoration); err != nil {
		logger.Error("Failed to log restoration", zap.Error(err))
	}

	logger.Info("Roles restored",
		zap.Int("restored", result.Restored),
		zap.Int("total", result.Total),
		zap.Int("failed", len(result.Failed)))

	return result, nil
}
