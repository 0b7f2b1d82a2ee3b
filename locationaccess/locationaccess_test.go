package locationaccess_test

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sephiroth74/go_permission_controller/activitymanager"
	"github.com/sephiroth74/go_permission_controller/config"
	"github.com/sephiroth74/go_permission_controller/locationaccess"
	"github.com/sephiroth74/go_permission_controller/packagemanager"
	"github.com/sephiroth74/go_permission_controller/permissions"
	"github.com/sephiroth74/go_permission_controller/prefs"
	"github.com/sephiroth74/go_permission_controller/types"
	"github.com/sephiroth74/go_permission_controller/workmanager"
)

const (
	tracker  = "com.example.tracker"
	runner   = "com.example.runner"
	provider = "com.example.location.provider"
	fine     = packagemanager.PermissionAccessFineLocation
	bg       = packagemanager.PermissionAccessBackgroundLocation
	user     = types.UserSystem
	profile  = types.UserHandle(11)
)

var epoch = time.Date(2023, 5, 1, 8, 0, 0, 0, time.UTC)

type harness struct {
	t             *testing.T
	pm            *packagemanager.MemoryPackageManager
	perms         *permissions.Reconciler
	am            *activitymanager.MemoryActivityManager
	history       *locationaccess.MemoryAppOpsHistory
	notifications *locationaccess.MemoryNotificationManager
	users         *locationaccess.MemoryUserManager
	clock         *workmanager.ManualClock
	dataDir       string
	cfg           config.LocationAccessCheck
	device        config.Device
	check         *locationaccess.LocationAccessCheck
}

func newHarness(t *testing.T) *harness {
	pm := packagemanager.NewMemoryPackageManager()
	packagemanager.RegisterPlatformPermissions(pm)
	users := locationaccess.NewMemoryUserManager()
	users.AddUser(profile, 5, user)

	h := &harness{
		t:             t,
		pm:            pm,
		perms:         permissions.NewReconciler(pm, permissions.NewIndex(pm)),
		am:            activitymanager.NewMemoryActivityManager(),
		history:       locationaccess.NewMemoryAppOpsHistory(),
		notifications: locationaccess.NewMemoryNotificationManager(),
		users:         users,
		clock:         workmanager.NewManualClock(epoch),
		dataDir:       t.TempDir(),
		cfg:           config.Default().LocationAccessCheck,
		device:        config.Device{LocationProviders: []string{provider}},
	}
	h.rebuild()
	return h
}

func (h *harness) rebuild() {
	h.check = locationaccess.New(locationaccess.Options{
		Permissions:     h.perms,
		ActivityManager: h.am,
		History:         h.history,
		Notifications:   h.notifications,
		Users:           h.users,
		Prefs:           prefs.Open(filepath.Join(h.dataDir, "location.properties")),
		DataDir:         h.dataDir,
		Config:          h.cfg,
		Device:          h.device,
		Clock:           h.clock,
		Random:          rand.New(rand.NewSource(1)),
	})
}

// install adds a package holding fine and background location
func (h *harness) install(name string, u types.UserHandle) {
	h.pm.InstallPackage(types.PackageInfo{PackageName: name, Label: name, TargetSdkVersion: types.SdkQ, RequestedPermissions: []string{fine, bg}, Enabled: true}, u)
	h.perms.Grant(name, []string{fine, bg}, permissions.GrantOptions{}, u)
	require.True(h.t, h.perms.IsPermissionAndAppOpGranted(name, bg, u))
}

// enable runs a first check so accesses are counted from now on
func (h *harness) enable() {
	require.NoError(h.t, h.check.CheckLocationAccessSinceLastCheck(context.Background(), user))
	h.clock.Advance(time.Minute)
}

func (h *harness) access(name string, u types.UserHandle, proxy string) {
	h.history.Record(locationaccess.Access{PackageName: name, User: u, Time: h.clock.Now(), ProxyPackage: proxy})
	h.clock.Advance(time.Minute)
}

func (h *harness) run() {
	require.NoError(h.t, h.check.CheckLocationAccessSinceLastCheck(context.Background(), user))
}

func (h *harness) notifiedPackages() []string {
	var result []string
	for _, n := range h.notifications.Posted() {
		result = append(result, n.PackageName)
	}
	return result
}

func TestNotifiesAboutBackgroundAccess(t *testing.T) {
	h := newHarness(t)
	h.install(tracker, user)
	h.enable()
	h.access(tracker, user, "")
	h.run()

	posted := h.notifications.Posted()
	require.Len(t, posted, 1)
	assert.Equal(t, tracker, posted[0].PackageName)
	assert.Equal(t, user, posted[0].User)
	assert.Equal(t, locationaccess.ActionNotificationClicked, posted[0].ContentIntent.Action)
	assert.Equal(t, tracker, posted[0].DeleteIntent.Extras[types.ExtraPackageName])
	assert.Equal(t, []string{locationaccess.NotificationChannelID}, h.notifications.Channels())
}

func TestAccessesBeforeEnablingAreIgnored(t *testing.T) {
	h := newHarness(t)
	h.install(tracker, user)
	h.access(tracker, user, "")
	h.run()
	assert.Empty(t, h.notifications.Posted())
}

func TestDisabledCheck(t *testing.T) {
	h := newHarness(t)
	h.cfg.Enabled = false
	h.rebuild()
	h.install(tracker, user)
	h.enable()
	h.access(tracker, user, "")
	h.run()
	assert.Empty(t, h.notifications.Posted())
}

func TestRateLimit(t *testing.T) {
	h := newHarness(t)
	h.install(tracker, user)
	h.install(runner, user)
	h.enable()
	h.access(tracker, user, "")
	h.access(runner, user, "")

	h.run()
	require.Len(t, h.notifications.Posted(), 1)
	h.notifications.Cancel(locationaccess.NotificationTag, locationaccess.NotificationID, user)

	h.clock.Advance(h.cfg.InBetweenNotifications - time.Hour)
	h.run()
	assert.Len(t, h.notifications.Posted(), 1)

	h.clock.Advance(time.Hour)
	h.run()
	assert.Len(t, h.notifications.Posted(), 2)
}

func TestShowingNotificationBlocksCheck(t *testing.T) {
	h := newHarness(t)
	h.install(tracker, profile)
	h.install(runner, user)
	h.enable()
	h.access(tracker, profile, "")

	h.run()
	require.Equal(t, []string{tracker}, h.notifiedPackages())
	assert.Equal(t, profile, h.notifications.Posted()[0].User)

	h.access(runner, user, "")
	h.clock.Advance(h.cfg.InBetweenNotifications)
	h.run()
	assert.Len(t, h.notifications.Posted(), 1)
}

func TestCandidateExclusions(t *testing.T) {
	h := newHarness(t)
	h.install(tracker, user)
	h.install(runner, user)
	h.install(provider, user)
	h.install("com.example.preinstalled", user)
	h.install("com.example.foreground", user)
	h.pm.SetFlags("com.example.preinstalled", fine, types.FlagGrantedByDefault, types.FlagGrantedByDefault, user)
	h.pm.SetFlags("com.example.preinstalled", bg, types.FlagGrantedByDefault, types.FlagGrantedByDefault, user)
	h.pm.Revoke("com.example.foreground", bg, user)
	h.enable()

	h.access(types.PackageAndroid, user, "")
	h.access(provider, user, "")
	h.access(tracker, user, "com.example.spoofer")
	h.access(runner, types.UserHandle(42), "")
	h.access("com.example.preinstalled", user, "")
	h.access("com.example.foreground", user, "")
	h.run()
	assert.Empty(t, h.notifications.Posted())

	h.access(tracker, user, provider)
	h.run()
	assert.Equal(t, []string{tracker}, h.notifiedPackages())
}

func TestExtraLocationControllerIsPreferred(t *testing.T) {
	for i := int64(0); i < 5; i++ {
		h := newHarness(t)
		h.device.ExtraLocationController = runner
		h.check = locationaccess.New(locationaccess.Options{
			Permissions:   h.perms,
			History:       h.history,
			Notifications: h.notifications,
			Users:         h.users,
			Config:        h.cfg,
			Device:        h.device,
			Clock:         h.clock,
			Random:        rand.New(rand.NewSource(i)),
		})
		h.install(tracker, user)
		h.install(runner, user)
		h.enable()
		h.access(tracker, user, "")
		h.access(runner, user, "")
		h.run()
		assert.Equal(t, []string{runner}, h.notifiedPackages())
	}
}

func TestNotifiedPackagesAreSkipped(t *testing.T) {
	h := newHarness(t)
	h.install(tracker, user)
	h.install(runner, user)
	h.enable()
	receiver := locationaccess.NewNotificationReceiver(h.check)

	h.access(tracker, user, "")
	h.run()
	require.Equal(t, []string{tracker}, h.notifiedPackages())
	first := h.notifications.Posted()[0]
	assert.True(t, receiver.OnReceive(first.DeleteIntent))
	assert.True(t, h.check.IsNotified(tracker, user))
	assert.Empty(t, h.notifications.Active(locationaccess.NotificationTag, user))

	data, err := os.ReadFile(filepath.Join(h.dataDir, locationaccess.NotifiedFileName))
	require.NoError(t, err)
	assert.Equal(t, tracker+" 0\n", string(data))

	h.clock.Advance(h.cfg.InBetweenNotifications)
	h.access(tracker, user, "")
	h.run()
	assert.Len(t, h.notifications.Posted(), 1)

	// losing the background permission removes the package from the notified list
	h.pm.Revoke(tracker, bg, user)
	h.run()
	assert.False(t, h.check.IsNotified(tracker, user))
}

func TestNotificationClick(t *testing.T) {
	h := newHarness(t)
	h.install(tracker, user)
	h.enable()
	h.access(tracker, user, "")
	h.run()

	receiver := locationaccess.NewNotificationReceiver(h.check)
	assert.True(t, receiver.OnReceive(h.notifications.Posted()[0].ContentIntent))
	assert.True(t, h.check.IsNotified(tracker, user))

	started := h.am.StartedActivities()
	require.Len(t, started, 1)
	assert.Equal(t, types.ActionManageAppPermission, started[0].Action)
	assert.Equal(t, tracker, started[0].Extras[types.ExtraPackageName])
	assert.Equal(t, packagemanager.GroupLocation, started[0].Extras[types.ExtraPermissionGroupName])

	assert.False(t, receiver.OnReceive(types.NewIntent(locationaccess.ActionNotificationClicked)))
}

func TestForgetAboutPackage(t *testing.T) {
	h := newHarness(t)
	h.install(tracker, user)
	h.enable()
	h.access(tracker, user, "")
	h.run()
	h.check.MarkAsNotified(tracker, user)

	h.check.ForgetAboutPackage(tracker, user)
	assert.False(t, h.check.IsNotified(tracker, user))
	assert.Empty(t, h.notifications.Active(locationaccess.NotificationTag, user))
}

func TestNotifiedFileSkipsUnknownSerials(t *testing.T) {
	h := newHarness(t)
	content := tracker + " 0\n" + runner + " 99\nbroken line here\n" + provider + " 5\n"
	require.NoError(t, os.WriteFile(filepath.Join(h.dataDir, locationaccess.NotifiedFileName), []byte(content), 0o600))

	assert.True(t, h.check.IsNotified(tracker, user))
	assert.False(t, h.check.IsNotified(runner, user))
	assert.True(t, h.check.IsNotified(provider, profile))
}

func TestNotifiedPackagesWithoutDataDir(t *testing.T) {
	h := newHarness(t)
	h.check = locationaccess.New(locationaccess.Options{
		Permissions:   h.perms,
		History:       h.history,
		Notifications: h.notifications,
		Users:         h.users,
		Config:        h.cfg,
		Clock:         h.clock,
	})
	h.install(tracker, user)
	h.enable()

	h.check.MarkAsNotified(tracker, user)
	assert.True(t, h.check.IsNotified(tracker, user))

	h.access(tracker, user, "")
	h.run()
	assert.Empty(t, h.notifications.Posted())

	h.check.ForgetAboutPackage(tracker, user)
	assert.False(t, h.check.IsNotified(tracker, user))
	h.run()
	assert.Equal(t, []string{tracker}, h.notifiedPackages())
}

type blockingHistory struct {
	locationaccess.AppOpsHistory
	once    sync.Once
	calls   int32
	entered chan struct{}
	release chan struct{}
}

func (b *blockingHistory) FineLocationAccesses(u types.UserHandle, since time.Time) []locationaccess.Access {
	atomic.AddInt32(&b.calls, 1)
	b.once.Do(func() {
		close(b.entered)
		<-b.release
	})
	return b.AppOpsHistory.FineLocationAccesses(u, since)
}

func TestCancelledCheck(t *testing.T) {
	h := newHarness(t)
	h.install(tracker, user)
	h.enable()
	h.access(tracker, user, "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, h.check.CheckLocationAccessSinceLastCheck(ctx, user), locationaccess.ErrCancelled)
	assert.Empty(t, h.notifications.Posted())
}

func TestJobService(t *testing.T) {
	h := newHarness(t)
	h.install(tracker, user)
	h.enable()
	h.access(tracker, user, "")

	scheduler := workmanager.NewJobScheduler(h.clock)
	jobs := locationaccess.NewScheduler(h.check, scheduler, user)
	require.NoError(t, jobs.CheckLocationAccessSoon())
	require.NoError(t, jobs.SchedulePeriodicCheck())
	periodic, ok := scheduler.Pending(locationaccess.PeriodicJobID)
	require.True(t, ok)
	require.NoError(t, jobs.SchedulePeriodicCheck())
	again, _ := scheduler.Pending(locationaccess.PeriodicJobID)
	assert.Equal(t, periodic, again)

	h.clock.Advance(h.cfg.DelayAfterBoot)
	jobs.Service().Wait()
	assert.Equal(t, []string{tracker}, h.notifiedPackages())
	_, ok = scheduler.Pending(locationaccess.OneShotJobID)
	assert.False(t, ok)

	jobs.CancelChecks()
	_, ok = scheduler.Pending(locationaccess.PeriodicJobID)
	assert.False(t, ok)
}

func TestStopJobWaitsForCheck(t *testing.T) {
	h := newHarness(t)
	h.install(tracker, user)
	h.enable()
	h.access(tracker, user, "")

	history := &blockingHistory{AppOpsHistory: h.history, entered: make(chan struct{}), release: make(chan struct{})}
	h.check = locationaccess.New(locationaccess.Options{
		Permissions:   h.perms,
		History:       history,
		Notifications: h.notifications,
		Users:         h.users,
		Prefs:         prefs.Open(filepath.Join(h.dataDir, "location.properties")),
		Config:        h.cfg,
		Clock:         h.clock,
	})

	scheduler := workmanager.NewJobScheduler(h.clock)
	jobs := locationaccess.NewScheduler(h.check, scheduler, user)
	require.NoError(t, jobs.CheckLocationAccessSoon())
	require.True(t, scheduler.RunNow(locationaccess.OneShotJobID))
	<-history.entered
	assert.False(t, jobs.Service().OnStartJob(&workmanager.JobParameters{}), "a second check must not start")

	stopped := make(chan bool)
	go func() { stopped <- scheduler.Stop(locationaccess.OneShotJobID) }()
	require.Eventually(t, func() bool { return !scheduler.IsRunning(locationaccess.OneShotJobID) }, time.Second, time.Millisecond)
	assert.Never(t, func() bool { return !jobs.Service().IsRunning() }, 50*time.Millisecond, time.Millisecond,
		"the cancelled check is still in flight")

	// another job sharing the service is refused while the cancelled check runs
	require.NoError(t, scheduler.Schedule(workmanager.JobInfo{ID: 7, Service: jobs.Service(), MinLatency: time.Hour}))
	require.True(t, scheduler.RunNow(7))
	assert.False(t, scheduler.IsRunning(7))
	assert.Equal(t, int32(1), atomic.LoadInt32(&history.calls))

	select {
	case <-stopped:
		t.Fatal("stop returned before the check ended")
	default:
	}
	close(history.release)
	assert.True(t, <-stopped)
	assert.False(t, jobs.Service().IsRunning())
	assert.Equal(t, int32(1), atomic.LoadInt32(&history.calls))

	assert.Empty(t, h.notifications.Posted())
	next, ok := scheduler.Pending(locationaccess.OneShotJobID)
	assert.True(t, ok)
	assert.Equal(t, h.clock.Now().Add(workmanager.DefaultBackoff), next)
}
