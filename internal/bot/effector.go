package bot

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/json"
	"github.com/disgoorg/snowflake/v2"
	"github.com/dubblu/sentinel/internal/antispam"
	"github.com/dubblu/sentinel/internal/antispam/types"
)

// Effector implements the antispam capability interfaces
// (RoleManager, Moderator, Messenger, Permissions) over the Discord REST API.
type Effector struct {
	client bot.Client
}

// NewEffector creates an Effector bound to a Discord client.
func NewEffector(client bot.Client) *Effector {
	return &Effector{client: client}
}

// GuildRoles fetches the guild's roles as the narrow view the engine needs.
func (e *Effector) GuildRoles(_ context.Context, guildID snowflake.ID) ([]types.Role, error) {
	roles, err := e.client.Rest().GetRoles(guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch guild roles: %w", err)
	}

	result := make([]types.Role, 0, len(roles))
	for _, role := range roles {
		result = append(result, types.Role{
			ID:       role.ID,
			Name:     role.Name,
			Position: role.Position,
		})
	}

	return result, nil
}

// AddRole adds a role to a member with an audit reason.
func (e *Effector) AddRole(_ context.Context, guildID, userID, roleID snowflake.ID, reason string) error {
	return e.client.Rest().AddMemberRole(guildID, userID, roleID, rest.WithReason(reason))
}

// RemoveRole removes a role from a member with an audit reason.
func (e *Effector) RemoveRole(_ context.Context, guildID, userID, roleID snowflake.ID, reason string) error {
	return e.client.Rest().RemoveMemberRole(guildID, userID, roleID, rest.WithReason(reason))
}

// Timeout disables a member's communication until the given time.
func (e *Effector) Timeout(_ context.Context, guildID, userID snowflake.ID, until time.Time, reason string) error {
	_, err := e.client.Rest().UpdateMember(guildID, userID, discord.MemberUpdate{
		CommunicationDisabledUntil: json.NewNullablePtr(until),
	}, rest.WithReason(reason))

	return err
}

// ClearTimeout removes a member's communication timeout.
func (e *Effector) ClearTimeout(_ context.Context, guildID, userID snowflake.ID, reason string) error {
	_, err := e.client.Rest().UpdateMember(guildID, userID, discord.MemberUpdate{
		CommunicationDisabledUntil: json.NullPtr[time.Time](),
	}, rest.WithReason(reason))

	return err
}

// DeleteMessage deletes one message with an audit reason.
func (e *Effector) DeleteMessage(_ context.Context, channelID, messageID snowflake.ID, reason string) error {
	return e.client.Rest().DeleteMessage(channelID, messageID, rest.WithReason(reason))
}

// BotCapabilities computes the bot's own permissions in a guild by folding
// the permission bits of @everyone and every role the bot member holds,
// along with the bot's highest role position.
func (e *Effector) BotCapabilities(_ context.Context, guildID snowflake.ID) (antispam.Capabilities, error) {
	member, err := e.client.Rest().GetMember(guildID, e.client.ApplicationID())
	if err != nil {
		return antispam.Capabilities{}, fmt.Errorf("failed to fetch bot member: %w", err)
	}

	roles, err := e.client.Rest().GetRoles(guildID)
	if err != nil {
		return antispam.Capabilities{}, fmt.Errorf("failed to fetch guild roles: %w", err)
	}

	var (
		perms       discord.Permissions
		topPosition int
	)

	for _, role := range roles {
		// The @everyone role shares the guild's ID.
		if role.ID == guildID {
			perms = perms.Add(role.Permissions)
			continue
		}

		if slices.Contains(member.RoleIDs, role.ID) {
			perms = perms.Add(role.Permissions)

			if role.Position > topPosition {
				topPosition = role.Position
			}
		}
	}

	admin := perms.Has(discord.PermissionAdministrator)

	return antispam.Capabilities{
		ManageRoles:     admin || perms.Has(discord.PermissionManageRoles),
		ModerateMembers: admin || perms.Has(discord.PermissionModerateMembers),
		TopRolePosition: topPosition,
	}, nil
}
