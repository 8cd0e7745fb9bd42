// Package classifier decides whether a window of one user's recent messages
// matches a compromised-account spam pattern.
package classifier

import (
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/dubblu/sentinel/internal/antispam/types"
)

// Thresholds carries the configurable knobs consulted during classification.
type Thresholds struct {
	TimeWindow  time.Duration
	RapidWindow time.Duration
	// ImageThreshold is accepted for compatibility with existing configs
	// but no rule consults it; the image-burst rule uses a fixed count.
	ImageThreshold int
	LinkThreshold  int
}

// Stats aggregates one user's windowed activity.
type Stats struct {
	Messages               int
	ChannelCount           int
	TotalImages            int
	TotalLinks             int
	SuspiciousLinks        int
	MassMentions           int
	MassMentionsWithImages int
	MassMentionsWithLinks  int
	// RapidMessages and RapidChannels cover the secondary tighter window.
	RapidMessages int
	RapidChannels int
}

// Verdict is the outcome of one classification pass.
type Verdict struct {
	Spam bool
	// Rule names the first matching rule, empty when not spam.
	Rule string
}

// Rule is one spam heuristic evaluated against windowed stats.
type Rule struct {
	Name  string
	Match func(s *Stats, t Thresholds) bool
}

// rules are evaluated in priority order; the first match wins. The order
// only affects which rule gets credited in diagnostics, since any match
// yields the same verdict.
var rules = []Rule{
	{
		Name: "mass_mention_media_multi_channel",
		Match: func(s *Stats, _ Thresholds) bool {
			return (s.MassMentionsWithImages > 0 || s.MassMentionsWithLinks > 0) && s.ChannelCount >= 2
		},
	},
	{
		Name: "suspicious_links_multi_channel",
		Match: func(s *Stats, _ Thresholds) bool {
			return s.SuspiciousLinks >= 2 && s.ChannelCount >= 2
		},
	},
	{
		Name: "image_burst_multi_channel",
		Match: func(s *Stats, _ Thresholds) bool {
			return s.TotalImages >= 4 && s.ChannelCount >= 2
		},
	},
	{
		Name: "link_burst_multi_channel",
		Match: func(s *Stats, t Thresholds) bool {
			return s.TotalLinks >= t.LinkThreshold && s.ChannelCount >= 2
		},
	},
	{
		Name: "mass_mention_burst",
		Match: func(s *Stats, _ Thresholds) bool {
			return s.MassMentions >= 3 && s.ChannelCount >= 2
		},
	},
	{
		Name: "rapid_cross_channel_posting",
		Match: func(s *Stats, _ Thresholds) bool {
			return s.RapidMessages >= 5 && s.RapidChannels >= 2
		},
	},
	{
		Name: "suspicious_link_mass_mention",
		Match: func(s *Stats, _ Thresholds) bool {
			return s.SuspiciousLinks >= 1 && s.MassMentions >= 1 && s.ChannelCount >= 3
		},
	},
}

// Collect computes windowed stats over a user's messages. The messages are
// expected to already be limited to the classification window; the rapid
// sub-window is derived here relative to now.
func Collect(msgs []types.Message, now time.Time, t Thresholds) *Stats {
	stats := &Stats{Messages: len(msgs)}

	channels := make(map[snowflake.ID]struct{})
	rapidChannels := make(map[snowflake.ID]struct{})

	for _, msg := range msgs {
		channels[msg.ChannelID] = struct{}{}

		stats.TotalImages += msg.AttachmentCount
		stats.TotalLinks += msg.URLCount()
		stats.SuspiciousLinks += msg.SuspiciousURLCount()

		if msg.HasMassMention {
			stats.MassMentions++

			if msg.AttachmentCount > 0 {
				stats.MassMentionsWithImages++
			}

			if msg.URLCount() > 0 {
				stats.MassMentionsWithLinks++
			}
		}

		if now.Sub(msg.Timestamp) <= t.RapidWindow {
			stats.RapidMessages++
			rapidChannels[msg.ChannelID] = struct{}{}
		}
	}

	stats.ChannelCount = len(channels)
	stats.RapidChannels = len(rapidChannels)

	return stats
}

// Classify runs the rule cascade over a window of one user's messages.
// Pure and deterministic; diagnostic logging is left to the caller.
func Classify(msgs []types.Message, now time.Time, t Thresholds) (Verdict, *Stats) {
	stats := Collect(msgs, now, t)

	for _, rule := range rules {
		if rule.Match(stats, t) {
			return Verdict{Spam: true, Rule: rule.Name}, stats
		}
	}

	return Verdict{}, stats
}
