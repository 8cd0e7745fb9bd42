package antispam

import (
	"context"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/dubblu/sentinel/internal/antispam/classifier"
	"github.com/dubblu/sentinel/internal/antispam/types"
)

// Capabilities reports the elevated permissions the bot holds in a guild,
// plus its privilege ceiling for role management.
type Capabilities struct {
	ManageRoles     bool
	ModerateMembers bool
	// TopRolePosition is the position of the bot's highest role; roles at
	// or above it cannot be managed.
	TopRolePosition int
}

// RoleManager edits guild member roles.
type RoleManager interface {
	GuildRoles(ctx context.Context, guildID snowflake.ID) ([]types.Role, error)
	AddRole(ctx context.Context, guildID, userID, roleID snowflake.ID, reason string) error
	RemoveRole(ctx context.Context, guildID, userID, roleID snowflake.ID, reason string) error
}

// Moderator applies and clears member timeouts.
type Moderator interface {
	Timeout(ctx context.Context, guildID, userID snowflake.ID, until time.Time, reason string) error
	ClearTimeout(ctx context.Context, guildID, userID snowflake.ID, reason string) error
}

// Messenger deletes messages.
type Messenger interface {
	DeleteMessage(ctx context.Context, channelID, messageID snowflake.ID, reason string) error
}

// Permissions resolves the bot's own capabilities in a guild.
type Permissions interface {
	BotCapabilities(ctx context.Context, guildID snowflake.ID) (Capabilities, error)
}

// Incident summarizes one quarantine for audit logging.
type Incident struct {
	ID              string
	GuildID         snowflake.ID
	UserID          snowflake.ID
	DisplayName     string
	Rule            string
	Stats           *classifier.Stats
	Roles           []snowflake.ID
	DeletedMessages int
	Timestamp       time.Time
}

// Restoration summarizes one role restoration for audit logging.
type Restoration struct {
	GuildID  snowflake.ID
	UserID   snowflake.ID
	ActorTag string
	Restored int
	Total    int
	Failed   []snowflake.ID
}

// Notifier emits the user-facing and audit-facing notifications around
// quarantine and restoration. Every call is best-effort; failures are
// returned for logging, never propagated.
type Notifier interface {
	// NotifyQuarantine posts the public notice mentioning the user.
	NotifyQuarantine(ctx context.Context, guildID, userID snowflake.ID) error
	// DirectMessage sends the security DM to the user.
	DirectMessage(ctx context.Context, userID snowflake.ID) error
	// LogDMFailure reports a failed security DM.
	LogDMFailure(ctx context.Context, userID snowflake.ID, cause error) error
	// LogIncident posts the audit embed with role and activity summary.
	LogIncident(ctx context.Context, incident *Incident) error
	// Alert posts the server-facing compromised-account alert.
	Alert(ctx context.Context, guildID, userID snowflake.ID, displayName string) error
	// LogRestoration posts the restoration tally.
	LogRestoration(ctx context.Context, restoration *Restoration) error
}

// Effects bundles the platform capabilities the detector consumes, keeping
// the engine independent of the concrete Discord SDK types.
type Effects struct {
	Roles    RoleManager
	Mod      Moderator
	Messages Messenger
	Perms    Permissions
	Notify   Notifier
}
