// Package antispam implements the compromised-account spam detection engine:
// the per-user activity ledger, the windowed heuristic classifier and the
// quarantine/restoration orchestration around positive verdicts.
package antispam

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/dubblu/sentinel/internal/antispam/classifier"
	"github.com/dubblu/sentinel/internal/antispam/ledger"
	"github.com/dubblu/sentinel/internal/antispam/snapshot"
	"github.com/dubblu/sentinel/internal/antispam/types"
	"github.com/dubblu/sentinel/internal/antispam/urlcheck"
	"github.com/dubblu/sentinel/internal/setup/config"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// maxConcurrentDeletes bounds in-flight message deletion calls.
const maxConcurrentDeletes = 4

// Detector owns the engine's only process-wide mutable state (message
// ledger, snapshot store, trusted-domain list and the enabled flag) and
// runs the per-message detection flow. All state starts empty and is torn
// down implicitly at process exit.
type Detector struct {
	cfg        *config.AntiSpamConfig
	checker    *urlcheck.Checker
	ledger     *ledger.Ledger
	snapshots  *snapshot.Store
	effects    Effects
	logger     *zap.Logger
	thresholds classifier.Thresholds

	enabled     atomic.Bool
	exemptUsers map[snowflake.ID]struct{}
	exemptRoles map[snowflake.ID]struct{}
	preserved   map[snowflake.ID]struct{}
	deleteSem   *semaphore.Weighted
}

// New creates a Detector with empty state.
func New(cfg *config.AntiSpamConfig, effects Effects, logger *zap.Logger) *Detector {
	logger = logger.Named("antispam")

	d := &Detector{
		cfg:       cfg,
		checker:   urlcheck.NewChecker(cfg.TrustedDomains),
		ledger:    ledger.New(logger),
		snapshots: snapshot.NewStore(),
		effects:   effects,
		logger:    logger,
		thresholds: classifier.Thresholds{
			TimeWindow:     cfg.TimeWindow(),
			RapidWindow:    cfg.RapidWindow(),
			ImageThreshold: cfg.ImageThresholdValue(),
			LinkThreshold:  cfg.LinkThresholdValue(),
		},
		exemptUsers: make(map[snowflake.ID]struct{}, len(cfg.ExemptUsers)),
		exemptRoles: make(map[snowflake.ID]struct{}, len(cfg.ExemptRoles)),
		preserved:   make(map[snowflake.ID]struct{}, len(cfg.PreserveRoles)),
		deleteSem:   semaphore.NewWeighted(maxConcurrentDeletes),
	}

	for _, id := range cfg.ExemptUsers {
		d.exemptUsers[snowflake.ID(id)] = struct{}{}
	}

	for _, id := range cfg.ExemptRoles {
		d.exemptRoles[snowflake.ID(id)] = struct{}{}
	}

	for _, id := range cfg.PreserveRoles {
		d.preserved[snowflake.ID(id)] = struct{}{}
	}

	d.enabled.Store(cfg.Enabled)

	return d
}

// CheckMessage runs the detection flow for one inbound message: classify
// its URLs, record it in the ledger, classify the user's window and
// quarantine on a positive verdict. Exempt users are recorded but never
// classified. Never returns an error; every sub-step failure is logged
// and the handler continues.
func (d *Detector) CheckMessage(ctx context.Context, in *types.Inbound) {
	if !d.enabled.Load() {
		return
	}

	// Missing guild or author context means the event cannot be attributed.
	if in.GuildID == 0 || in.UserID == 0 {
		d.logger.Debug("Skipping message without guild context",
			zap.Uint64("message_id", uint64(in.MessageID)))
		return
	}

	msg := types.Message{
		Timestamp:       in.Timestamp,
		ChannelID:       in.ChannelID,
		MessageID:       in.MessageID,
		AttachmentCount: in.AttachmentCount,
		HasMassMention:  hasMassMention(in),
		URLs:            d.checker.Extract(in.Content),
	}

	d.ledger.Record(in.UserID, msg)

	if d.isExempt(in) {
		d.logger.Debug("Recorded message from exempt user",
			zap.Uint64("user_id", uint64(in.UserID)))
		return
	}

	window := d.ledger.Window(in.UserID, in.Timestamp, d.thresholds.TimeWindow)
	verdict, stats := classifier.Classify(window, in.Timestamp, d.thresholds)

	d.logger.Debug("Spam check",
		zap.Uint64("user_id", uint64(in.UserID)),
		zap.Int("recent_messages", stats.Messages),
		zap.Int("unique_channels", stats.ChannelCount),
		zap.Int("total_images", stats.TotalImages),
		zap.Int("total_links", stats.TotalLinks),
		zap.Int("suspicious_links", stats.SuspiciousLinks),
		zap.Int("mass_mentions", stats.MassMentions))

	if !verdict.Spam {
		return
	}

	d.logger.Info("Spam pattern detected",
		zap.Uint64("user_id", uint64(in.UserID)),
		zap.String("display_name", in.DisplayName),
		zap.String("rule", verdict.Rule))

	d.quarantine(ctx, in, verdict, stats)
}

// Enabled reports whether detection is active.
func (d *Detector) Enabled() bool {
	return d.enabled.Load()
}

// Toggle flips the enabled flag and returns the new state.
func (d *Detector) Toggle() bool {
	for {
		old := d.enabled.Load()
		if d.enabled.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

// Status is a read-only summary of config and live counts.
type Status struct {
	Enabled         bool
	TimeWindow      time.Duration
	ImageThreshold  int
	LinkThreshold   int
	TrackedUsers    int
	StoredSnapshots int
	TrustedDomains  int
	SuspensionRole  snowflake.ID
	LogChannel      snowflake.ID
	AlertChannel    snowflake.ID
	NotifyChannel   snowflake.ID
}

// Status returns the current system status.
func (d *Detector) Status() Status {
	return Status{
		Enabled:         d.enabled.Load(),
		TimeWindow:      d.thresholds.TimeWindow,
		ImageThreshold:  d.thresholds.ImageThreshold,
		LinkThreshold:   d.thresholds.LinkThreshold,
		TrackedUsers:    d.ledger.UserCount(),
		StoredSnapshots: d.snapshots.Len(),
		TrustedDomains:  len(d.checker.TrustedDomains()),
		SuspensionRole:  snowflake.ID(d.cfg.SuspensionRoleID),
		LogChannel:      snowflake.ID(d.cfg.LogChannelID),
		AlertChannel:    snowflake.ID(d.cfg.AlertChannelID),
		NotifyChannel:   snowflake.ID(d.cfg.NotificationChannelID),
	}
}

// UserDebug is a dump of everything retained for one user.
type UserDebug struct {
	History  []types.Message     `json:"history"`
	Snapshot *types.RoleSnapshot `json:"snapshot,omitempty"`
}

// DebugUser returns the retained state for a user, or false when nothing
// is stored.
func (d *Detector) DebugUser(userID snowflake.ID) (*UserDebug, bool) {
	history := d.ledger.History(userID)
	snap, hasSnap := d.snapshots.Get(userID)

	if len(history) == 0 && !hasSnap {
		return nil, false
	}

	return &UserDebug{History: history, Snapshot: snap}, true
}

// AddTrustedDomain adds a domain to the runtime trusted list.
func (d *Detector) AddTrustedDomain(domain string) bool {
	return d.checker.AddTrusted(domain)
}

// RemoveTrustedDomain removes a domain from the runtime trusted list.
func (d *Detector) RemoveTrustedDomain(domain string) bool {
	return d.checker.RemoveTrusted(domain)
}

// TrustedDomains returns a copy of the runtime trusted list.
func (d *Detector) TrustedDomains() []string {
	return d.checker.TrustedDomains()
}

// RunSweeper runs the periodic ledger sweep until the context is done.
func (d *Detector) RunSweeper(ctx context.Context) {
	d.ledger.RunSweeper(ctx, d.cfg.SweepInterval(), d.cfg.HistoryMaxAge())
}

// isExempt reports whether the author is excluded from classification by
// user ID or by any held role.
func (d *Detector) isExempt(in *types.Inbound) bool {
	if _, ok := d.exemptUsers[in.UserID]; ok {
		return true
	}

	for _, roleID := range in.MemberRoleIDs {
		if _, ok := d.exemptRoles[roleID]; ok {
			return true
		}
	}

	return false
}

// hasMassMention reports whether the message addresses a broadcast
// audience. The raw text is matched in addition to the resolved mention
// flag so unprivileged pings still count.
func hasMassMention(in *types.Inbound) bool {
	return in.MentionEveryone ||
		strings.Contains(in.Content, "@everyone") ||
		strings.Contains(in.Content, "@here")
}
