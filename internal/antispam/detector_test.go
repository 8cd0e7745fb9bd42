package antispam_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/dubblu/sentinel/internal/antispam"
	"github.com/dubblu/sentinel/internal/antispam/types"
	"github.com/dubblu/sentinel/internal/setup/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testGuild = snowflake.ID(100)
	testUser  = snowflake.ID(200)
)

// fakeEffects records every side effect the detector requests. All methods
// are safe for concurrent use since message deletion fans out.
type fakeEffects struct {
	mu sync.Mutex

	caps    antispam.Capabilities
	capsErr error

	guildRoles []types.Role

	removedRoles []snowflake.ID
	addedRoles   []snowflake.ID
	addRoleErr   map[snowflake.ID]error

	timeoutUntil   time.Time
	timeoutCleared bool

	deletedMessages []snowflake.ID
	deleteErr       error

	notified     int
	dms          int
	dmErr        error
	dmFailures   []error
	incidents    []*antispam.Incident
	alerts       int
	restorations []*antispam.Restoration
}

func newFakeEffects() *fakeEffects {
	return &fakeEffects{
		caps: antispam.Capabilities{
			ManageRoles:     true,
			ModerateMembers: true,
			TopRolePosition: 10,
		},
	}
}

func (f *fakeEffects) GuildRoles(_ context.Context, _ snowflake.ID) ([]types.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.guildRoles, nil
}

func (f *fakeEffects) AddRole(_ context.Context, _, _, roleID snowflake.ID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.addRoleErr[roleID]; ok {
		return err
	}

	f.addedRoles = append(f.addedRoles, roleID)

	return nil
}

func (f *fakeEffects) RemoveRole(_ context.Context, _, _, roleID snowflake.ID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.removedRoles = append(f.removedRoles, roleID)

	return nil
}

func (f *fakeEffects) Timeout(_ context.Context, _, _ snowflake.ID, until time.Time, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.timeoutUntil = until

	return nil
}

func (f *fakeEffects) ClearTimeout(_ context.Context, _, _ snowflake.ID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.timeoutCleared = true

	return nil
}

func (f *fakeEffects) DeleteMessage(_ context.Context, _, messageID snowflake.ID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.deleteErr != nil {
		return f.deleteErr
	}

	f.deletedMessages = append(f.deletedMessages, messageID)

	return nil
}

func (f *fakeEffects) BotCapabilities(_ context.Context, _ snowflake.ID) (antispam.Capabilities, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.caps, f.capsErr
}

func (f *fakeEffects) NotifyQuarantine(_ context.Context, _, _ snowflake.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.notified++

	return nil
}

func (f *fakeEffects) DirectMessage(_ context.Context, _ snowflake.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.dms++

	return f.dmErr
}

func (f *fakeEffects) LogDMFailure(_ context.Context, _ snowflake.ID, cause error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.dmFailures = append(f.dmFailures, cause)

	return nil
}

func (f *fakeEffects) LogIncident(_ context.Context, incident *antispam.Incident) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.incidents = append(f.incidents, incident)

	return nil
}

func (f *fakeEffects) Alert(_ context.Context, _, _ snowflake.ID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.alerts++

	return nil
}

func (f *fakeEffects) LogRestoration(_ context.Context, restoration *antispam.Restoration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.restorations = append(f.restorations, restoration)

	return nil
}

func (f *fakeEffects) effects() antispam.Effects {
	return antispam.Effects{
		Roles:    f,
		Mod:      f,
		Messages: f,
		Perms:    f,
		Notify:   f,
	}
}

func testConfig() *config.AntiSpamConfig {
	return &config.AntiSpamConfig{
		Enabled:          true,
		SuspensionRoleID: 900,
		PreserveRoles:    []uint64{800},
	}
}

func newTestDetector(t *testing.T, cfg *config.AntiSpamConfig, fake *fakeEffects) *antispam.Detector {
	t.Helper()
	return antispam.New(cfg, fake.effects(), zap.NewNop())
}

// inbound builds a message event. Each call gets a fresh message ID so
// ledger entries stay distinguishable.
func inbound(channelID snowflake.ID, content string, ts time.Time) *types.Inbound {
	return &types.Inbound{
		UserID:        testUser,
		GuildID:       testGuild,
		ChannelID:     channelID,
		MessageID:     snowflake.ID(ts.UnixNano()),
		Timestamp:     ts,
		Content:       content,
		MemberRoleIDs: []snowflake.ID{700, 800},
		DisplayName:   "testuser",
	}
}

func TestCheckMessageDisabled(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Enabled = false

	fake := newFakeEffects()
	d := newTestDetector(t, cfg, fake)

	d.CheckMessage(context.Background(), inbound(1, "https://bit.ly/a https://bit.ly/b", time.Now()))

	assert.Zero(t, fake.notified, "disabled system takes no action")
	assert.Zero(t, d.Status().TrackedUsers, "disabled system records nothing")
}

func TestCheckMessageExemptUserRecordedNotClassified(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.ExemptUsers = []uint64{uint64(testUser)}

	fake := newFakeEffects()
	d := newTestDetector(t, cfg, fake)

	now := time.Now()

	// Traffic that would otherwise trip the suspicious-links rule.
	for i := 0; i < 4; i++ {
		d.CheckMessage(context.Background(), inbound(snowflake.ID(i+1), "https://bit.ly/scam", now.Add(time.Duration(i)*time.Second)))
	}

	assert.Zero(t, fake.notified, "exempt user is never quarantined")
	assert.Equal(t, 1, d.Status().TrackedUsers, "exempt traffic is still recorded")

	dump, ok := d.DebugUser(testUser)
	require.True(t, ok)
	assert.Len(t, dump.History, 4)
	assert.Nil(t, dump.Snapshot)
}

func TestCheckMessageExemptRole(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.ExemptRoles = []uint64{700}

	fake := newFakeEffects()
	d := newTestDetector(t, cfg, fake)

	now := time.Now()
	for i := 0; i < 4; i++ {
		d.CheckMessage(context.Background(), inbound(snowflake.ID(i+1), "https://bit.ly/scam", now.Add(time.Duration(i)*time.Second)))
	}

	assert.Zero(t, fake.notified)
}

func TestCheckMessageMissingGuildContext(t *testing.T) {
	t.Parallel()

	fake := newFakeEffects()
	d := newTestDetector(t, testConfig(), fake)

	in := inbound(1, "https://bit.ly/scam", time.Now())
	in.GuildID = 0

	d.CheckMessage(context.Background(), in)

	assert.Zero(t, d.Status().TrackedUsers)
}

func TestQuarantineEndToEnd(t *testing.T) {
	t.Parallel()

	fake := newFakeEffects()
	fake.guildRoles = []types.Role{
		{ID: 700, Name: "Member", Position: 2},
		{ID: 800, Name: "Staff", Position: 5},
		{ID: 900, Name: "Suspended", Position: 1},
	}

	d := newTestDetector(t, testConfig(), fake)

	// Suspicious links in two channels trips the classifier.
	now := time.Now()
	d.CheckMessage(context.Background(), inbound(1, "free nitro https://bit.ly/a", now.Add(-2*time.Second)))
	d.CheckMessage(context.Background(), inbound(2, "free nitro https://bit.ly/a", now))

	require.Equal(t, 1, fake.notified, "public notice sent once")
	assert.Equal(t, 1, fake.dms)
	assert.Equal(t, 1, fake.alerts)
	require.Len(t, fake.incidents, 1)

	incident := fake.incidents[0]
	assert.Equal(t, "suspicious_links_multi_channel", incident.Rule)
	assert.Equal(t, testUser, incident.UserID)
	assert.Equal(t, []snowflake.ID{700, 800}, incident.Roles)
	assert.Equal(t, 2, incident.DeletedMessages)
	assert.NotEmpty(t, incident.ID)

	// Both window messages were deleted.
	assert.Len(t, fake.deletedMessages, 2)

	// Role 700 stripped, 800 preserved, @everyone untouched.
	assert.Equal(t, []snowflake.ID{700}, fake.removedRoles)
	assert.Equal(t, []snowflake.ID{900}, fake.addedRoles, "suspension role applied")
	assert.False(t, fake.timeoutUntil.IsZero(), "timeout applied")

	assert.Equal(t, 1, d.Status().StoredSnapshots)
}

func TestQuarantineSkipsStepsWithoutPermissions(t *testing.T) {
	t.Parallel()

	fake := newFakeEffects()
	fake.caps.ManageRoles = false

	d := newTestDetector(t, testConfig(), fake)

	now := time.Now()
	d.CheckMessage(context.Background(), inbound(1, "https://bit.ly/a", now.Add(-time.Second)))
	d.CheckMessage(context.Background(), inbound(2, "https://bit.ly/a", now))

	// Role and timeout steps are skipped entirely.
	assert.Empty(t, fake.removedRoles)
	assert.Empty(t, fake.addedRoles)
	assert.True(t, fake.timeoutUntil.IsZero())

	// Snapshot, deletion and notifications still run.
	assert.Equal(t, 1, d.Status().StoredSnapshots)
	assert.Len(t, fake.deletedMessages, 2)
	assert.Equal(t, 1, fake.notified)
	assert.Equal(t, 1, fake.alerts)
	assert.Len(t, fake.incidents, 1)
}

func TestQuarantinePermissionLookupFailure(t *testing.T) {
	t.Parallel()

	fake := newFakeEffects()
	fake.capsErr = errors.New("gateway hiccup")

	d := newTestDetector(t, testConfig(), fake)

	now := time.Now()
	d.CheckMessage(context.Background(), inbound(1, "https://bit.ly/a", now.Add(-time.Second)))
	d.CheckMessage(context.Background(), inbound(2, "https://bit.ly/a", now))

	assert.Empty(t, fake.removedRoles)
	assert.True(t, fake.timeoutUntil.IsZero())
	assert.Equal(t, 1, fake.notified, "notifications still fire")
}

func TestQuarantineDMFailureIsLogged(t *testing.T) {
	t.Parallel()

	fake := newFakeEffects()
	fake.dmErr = errors.New("cannot send messages to this user")

	d := newTestDetector(t, testConfig(), fake)

	now := time.Now()
	d.CheckMessage(context.Background(), inbound(1, "https://bit.ly/a", now.Add(-time.Second)))
	d.CheckMessage(context.Background(), inbound(2, "https://bit.ly/a", now))

	require.Len(t, fake.dmFailures, 1)
	assert.ErrorIs(t, fake.dmFailures[0], fake.dmErr)
	assert.Len(t, fake.incidents, 1, "incident is still logged")
}

func TestQuarantineMessageDeletionBestEffort(t *testing.T) {
	t.Parallel()

	fake := newFakeEffects()
	fake.deleteErr = errors.New("message already deleted")

	d := newTestDetector(t, testConfig(), fake)

	now := time.Now()
	d.CheckMessage(context.Background(), inbound(1, "https://bit.ly/a", now.Add(-time.Second)))
	d.CheckMessage(context.Background(), inbound(2, "https://bit.ly/a", now))

	require.Len(t, fake.incidents, 1)
	assert.Zero(t, fake.incidents[0].DeletedMessages)
	assert.Equal(t, []snowflake.ID{900}, fake.addedRoles, "punishment still applies")
}

func TestImageBurstQuarantineAndRestore(t *testing.T) {
	t.Parallel()

	fake := newFakeEffects()
	fake.guildRoles = []types.Role{
		{ID: 700, Name: "Member", Position: 2},
		{ID: 800, Name: "Regular", Position: 3},
		{ID: 900, Name: "Suspended", Position: 1},
	}

	cfg := testConfig()
	cfg.PreserveRoles = nil

	d := newTestDetector(t, cfg, fake)

	// Four attachments spread over two channels inside the window.
	now := time.Now()

	first := inbound(1, "check this out", now.Add(-3*time.Second))
	first.AttachmentCount = 2

	second := inbound(2, "check this out", now)
	second.AttachmentCount = 2

	d.CheckMessage(context.Background(), first)
	d.CheckMessage(context.Background(), second)

	require.Len(t, fake.incidents, 1)
	assert.Equal(t, "image_burst_multi_channel", fake.incidents[0].Rule)
	assert.ElementsMatch(t, []snowflake.ID{700, 800}, fake.removedRoles)
	assert.Equal(t, []snowflake.ID{900}, fake.addedRoles)
	assert.False(t, fake.timeoutUntil.IsZero())

	fake.mu.Lock()
	fake.removedRoles = nil
	fake.addedRoles = nil
	fake.mu.Unlock()

	result, err := d.Restore(context.Background(), testGuild, testUser, "moderator#0001")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Restored)

	// Exactly the snapshot roles come back and the timeout is lifted.
	assert.Equal(t, []snowflake.ID{900}, fake.removedRoles)
	assert.Equal(t, []snowflake.ID{700, 800}, fake.addedRoles)
	assert.True(t, fake.timeoutCleared)
}

func TestQuarantineDeletesLaggedWindow(t *testing.T) {
	t.Parallel()

	fake := newFakeEffects()
	d := newTestDetector(t, testConfig(), fake)

	// Events delivered long after they were sent; the deletion window must
	// follow the event timestamps the classifier saw, not the wall clock.
	base := time.Now().Add(-40 * time.Minute)
	d.CheckMessage(context.Background(), inbound(1, "https://bit.ly/a", base))
	d.CheckMessage(context.Background(), inbound(2, "https://bit.ly/a", base.Add(time.Second)))

	require.Len(t, fake.incidents, 1)
	assert.Equal(t, 2, fake.incidents[0].DeletedMessages)
	assert.Len(t, fake.deletedMessages, 2)
}

func TestRestore(t *testing.T) {
	t.Parallel()

	fake := newFakeEffects()
	fake.guildRoles = []types.Role{
		{ID: 700, Name: "Member", Position: 2},
		{ID: 900, Name: "Suspended", Position: 1},
	}

	cfg := testConfig()
	cfg.PreserveRoles = nil

	d := newTestDetector(t, cfg, fake)

	now := time.Now()
	d.CheckMessage(context.Background(), inbound(1, "https://bit.ly/a", now.Add(-time.Second)))
	d.CheckMessage(context.Background(), inbound(2, "https://bit.ly/a", now))

	require.Equal(t, 1, d.Status().StoredSnapshots)

	fake.mu.Lock()
	fake.removedRoles = nil
	fake.addedRoles = nil
	fake.mu.Unlock()

	result, err := d.Restore(context.Background(), testGuild, testUser, "moderator#0001")
	require.NoError(t, err)

	assert.Equal(t, 2, result.Restored)
	assert.Equal(t, 2, result.Total)
	assert.Empty(t, result.Failed)

	// Suspension role removed, both snapshot roles re-added, timeout cleared.
	assert.Equal(t, []snowflake.ID{900}, fake.removedRoles)
	assert.Equal(t, []snowflake.ID{700, 800}, fake.addedRoles)
	assert.True(t, fake.timeoutCleared)

	require.Len(t, fake.restorations, 1)
	assert.Equal(t, "moderator#0001", fake.restorations[0].ActorTag)

	// The snapshot is one-shot.
	assert.Zero(t, d.Status().StoredSnapshots)

	_, err = d.Restore(context.Background(), testGuild, testUser, "moderator#0001")
	assert.ErrorIs(t, err, antispam.ErrNoSnapshot)
}

func TestRestorePartialFailure(t *testing.T) {
	t.Parallel()

	fake := newFakeEffects()
	fake.addRoleErr = map[snowflake.ID]error{
		700: errors.New("role was deleted"),
	}

	d := newTestDetector(t, testConfig(), fake)

	now := time.Now()
	d.CheckMessage(context.Background(), inbound(1, "https://bit.ly/a", now.Add(-time.Second)))
	d.CheckMessage(context.Background(), inbound(2, "https://bit.ly/a", now))

	result, err := d.Restore(context.Background(), testGuild, testUser, "moderator#0001")
	require.NoError(t, err)

	assert.Equal(t, 1, result.Restored)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, []snowflake.ID{700}, result.Failed)

	// Even a partial restoration consumes the snapshot.
	_, err = d.Restore(context.Background(), testGuild, testUser, "moderator#0001")
	assert.ErrorIs(t, err, antispam.ErrNoSnapshot)
}

func TestRestoreWithoutSnapshot(t *testing.T) {
	t.Parallel()

	fake := newFakeEffects()
	d := newTestDetector(t, testConfig(), fake)

	_, err := d.Restore(context.Background(), testGuild, snowflake.ID(12345), "moderator#0001")
	assert.ErrorIs(t, err, antispam.ErrNoSnapshot)
}

func TestToggle(t *testing.T) {
	t.Parallel()

	fake := newFakeEffects()
	d := newTestDetector(t, testConfig(), fake)

	assert.True(t, d.Enabled())
	assert.False(t, d.Toggle())
	assert.False(t, d.Enabled())
	assert.True(t, d.Toggle())
	assert.True(t, d.Enabled())
}

func TestStatus(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.TrustedDomains = []string{"example.org"}

	fake := newFakeEffects()
	d := newTestDetector(t, cfg, fake)

	status := d.Status()
	assert.True(t, status.Enabled)
	assert.Equal(t, 30*time.Second, status.TimeWindow)
	assert.Equal(t, 2, status.ImageThreshold)
	assert.Equal(t, 3, status.LinkThreshold)
	assert.Equal(t, 1, status.TrustedDomains)
	assert.Equal(t, snowflake.ID(900), status.SuspensionRole)
}

func TestTrustedDomainPassthrough(t *testing.T) {
	t.Parallel()

	fake := newFakeEffects()
	d := newTestDetector(t, testConfig(), fake)

	assert.True(t, d.AddTrustedDomain("example.org"))
	assert.Equal(t, []string{"example.org"}, d.TrustedDomains())
	assert.True(t, d.RemoveTrustedDomain("example.org"))
	assert.Empty(t, d.TrustedDomains())
}

func TestMassMentionDetectedFromRawText(t *testing.T) {
	t.Parallel()

	fake := newFakeEffects()
	d := newTestDetector(t, testConfig(), fake)

	now := time.Now()

	// Unprivileged @everyone pings never set the resolved mention flag, so
	// the raw text has to count. Paired with attachments across two
	// channels this trips the mass-mention media rule.
	first := inbound(1, "@everyone free stuff", now.Add(-time.Second))
	first.AttachmentCount = 1

	second := inbound(2, "@here more free stuff", now)
	second.AttachmentCount = 1

	d.CheckMessage(context.Background(), first)
	d.CheckMessage(context.Background(), second)

	require.Len(t, fake.incidents, 1)
	assert.Equal(t, "mass_mention_media_multi_channel", fake.incidents[0].Rule)
}
