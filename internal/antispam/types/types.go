package types

import (
	"time"

	"github.com/disgoorg/snowflake/v2"
)

// URLInfo describes a single URL extracted from message content.
type URLInfo struct {
	// Raw is the matched URL text.
	Raw string
	// Domain is the lowercased hostname, or the raw text if unparseable.
	Domain string
	// Suspicious reports whether the domain failed classification.
	Suspicious bool
}

// Message is one observed guild message. Immutable once recorded.
type Message struct {
	Timestamp       time.Time
	ChannelID       snowflake.ID
	MessageID       snowflake.ID
	AttachmentCount int
	HasMassMention  bool
	URLs            []URLInfo
}

// URLCount returns the number of URLs found in the message.
func (m *Message) URLCount() int {
	return len(m.URLs)
}

// SuspiciousURLCount returns the number of suspicious URLs in the message.
func (m *Message) SuspiciousURLCount() int {
	var count int

	for _, u := range m.URLs {
		if u.Suspicious {
			count++
		}
	}

	return count
}

// Inbound is one non-bot message event as delivered by the gateway.
type Inbound struct {
	UserID          snowflake.ID
	GuildID         snowflake.ID
	ChannelID       snowflake.ID
	MessageID       snowflake.ID
	Timestamp       time.Time
	Content         string
	AttachmentCount int
	MentionEveryone bool
	// MemberRoleIDs holds the author's roles at the time of the message.
	// May be empty when member context is unavailable.
	MemberRoleIDs []snowflake.ID
	DisplayName   string
}

// RoleSnapshot captures a member's roles immediately before quarantine so
// they can be restored later. At most one live snapshot exists per user;
// a second quarantine overwrites the prior snapshot.
type RoleSnapshot struct {
	// Roles held before quarantine, in their original order.
	Roles      []snowflake.ID
	CapturedAt time.Time
	Reason     string
	// DisplayName of the user at capture time, kept for audit output.
	DisplayName string
}

// Role is the narrow view of a guild role the engine needs for
// privilege-ceiling checks.
type Role struct {
	ID       snowflake.ID
	Name     string
	Position int
}
