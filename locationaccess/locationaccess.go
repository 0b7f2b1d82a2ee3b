package locationaccess

import (
	"context"
	"errors"
	"math/rand"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/sephiroth74/go_permission_controller/activitymanager"
	"github.com/sephiroth74/go_permission_controller/config"
	"github.com/sephiroth74/go_permission_controller/logging"
	"github.com/sephiroth74/go_permission_controller/packagemanager"
	"github.com/sephiroth74/go_permission_controller/permissions"
	"github.com/sephiroth74/go_permission_controller/prefs"
	"github.com/sephiroth74/go_permission_controller/types"
	"github.com/sephiroth74/go_permission_controller/util"
	"github.com/sephiroth74/go_permission_controller/workmanager"
)

var log = logging.GetLogger("locationaccess")

// ErrCancelled is returned when a check stops because its job was stopped
var ErrCancelled = errors.New("location access check cancelled")

const (
	NotificationTag       = "LocationAccessCheck"
	NotificationID        = 0
	NotificationChannelID = "location access"

	ActionNotificationDeleted = "com.android.permissioncontroller.action.LOCATION_ACCESS_CHECK_NOTIFICATION_DELETED"
	ActionNotificationClicked = "com.android.permissioncontroller.action.LOCATION_ACCESS_CHECK_NOTIFICATION_CLICKED"
	ExtraSessionID            = "com.android.permissioncontroller.extra.SESSION_ID"

	NotifiedFileName = "packages_already_notified_location_access"

	keyLastShown   = "last_location_access_notification_shown"
	keyEnabledTime = "location_access_check_enabled_time"

	fineLocation       = packagemanager.PermissionAccessFineLocation
	backgroundLocation = packagemanager.PermissionAccessBackgroundLocation
)

type Options struct {
	Permissions     *permissions.Reconciler
	ActivityManager activitymanager.ActivityManager
	History         AppOpsHistory
	Notifications   NotificationManager
	Users           UserManager
	Prefs           *prefs.Preferences
	// DataDir holds the already notified packages file, empty keeps nothing on disk
	DataDir string
	Config  config.LocationAccessCheck
	Device  config.Device
	Clock   workmanager.Clock
	Random  *rand.Rand
}

// LocationAccessCheck warns the user about apps which accessed the location in
// background, at most one notification per check and per rate limit interval.
type LocationAccessCheck struct {
	perms         *permissions.Reconciler
	pm            packagemanager.PackageManager
	am            activitymanager.ActivityManager
	history       AppOpsHistory
	notifications NotificationManager
	users         UserManager
	prefs         *prefs.Preferences
	notified      *notifiedFile
	cfg           config.LocationAccessCheck
	device        config.Device
	clock         workmanager.Clock

	// guards the notified file and the random source
	mu     sync.Mutex
	random *rand.Rand
}

func New(options Options) *LocationAccessCheck {
	if options.Clock == nil {
		options.Clock = workmanager.SystemClock{}
	}
	if options.Random == nil {
		options.Random = rand.New(rand.NewSource(options.Clock.Now().UnixNano()))
	}
	if options.Prefs == nil {
		options.Prefs = prefs.Open("")
	}
	var notifiedPath string
	if options.DataDir != "" {
		notifiedPath = filepath.Join(options.DataDir, NotifiedFileName)
	}
	return &LocationAccessCheck{
		perms:         options.Permissions,
		pm:            options.Permissions.PackageManager(),
		am:            options.ActivityManager,
		history:       options.History,
		notifications: options.Notifications,
		users:         options.Users,
		prefs:         options.Prefs,
		notified:      newNotifiedFile(notifiedPath, options.Users),
		cfg:           options.Config,
		device:        options.Device,
		clock:         options.Clock,
		random:        options.Random,
	}
}

func (c *LocationAccessCheck) Config() config.LocationAccessCheck {
	return c.cfg
}

// isEnabled keeps track of when the check got enabled, accesses which happened before
// are never reported
func (c *LocationAccessCheck) isEnabled() bool {
	if !c.cfg.Enabled {
		if c.prefs.Contains(keyEnabledTime) {
			c.prefs.Remove(keyEnabledTime)
			c.prefs.Apply()
		}
		return false
	}
	if !c.prefs.Contains(keyEnabledTime) {
		c.prefs.PutInt64(keyEnabledTime, c.clock.Now().UnixMilli())
		c.prefs.Apply()
	}
	return true
}

func (c *LocationAccessCheck) enabledTime() time.Time {
	return time.UnixMilli(c.prefs.GetInt64(keyEnabledTime, 0))
}

func checkCancelled(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ErrCancelled
	default:
		return nil
	}
}

// CheckLocationAccessSinceLastCheck posts a notification about one of the packages
// which accessed the location in background since the check got enabled. It returns
// ErrCancelled when ctx is done before the check completes.
func (c *LocationAccessCheck) CheckLocationAccessSinceLastCheck(ctx context.Context, user types.UserHandle) error {
	if !c.isEnabled() {
		log.Debug().Msg("location access check is disabled")
		return nil
	}

	now := c.clock.Now()
	if lastShown := c.prefs.GetInt64(keyLastShown, 0); lastShown > 0 {
		if now.Sub(time.UnixMilli(lastShown)) < c.cfg.InBetweenNotifications {
			log.Debug().Msg("notification shown recently, skipping check")
			return nil
		}
	}

	profiles := c.users.ProfileGroup(user)
	for _, profile := range profiles {
		if len(c.notifications.Active(NotificationTag, profile)) > 0 {
			log.Debug().Msgf("notification still showing for user %d", int(profile))
			return nil
		}
	}

	if err := checkCancelled(ctx); err != nil {
		return err
	}

	candidates, err := c.candidates(ctx, profiles)
	if err != nil {
		return err
	}
	return c.selectAndNotify(ctx, candidates)
}

func (c *LocationAccessCheck) isLocationProvider(packageName string) bool {
	return util.Contains(c.device.LocationProviders, packageName)
}

// isTrustedProxy is true for the packages allowed to attribute location accesses
// to other packages
func (c *LocationAccessCheck) isTrustedProxy(packageName string) bool {
	return packageName == types.PackageAndroid || c.isLocationProvider(packageName)
}

// IsBackgroundLocationReportable is true when the package holds the background
// location permission in a way the user should be told about
func (c *LocationAccessCheck) IsBackgroundLocationReportable(packageName string, user types.UserHandle) bool {
	if !c.perms.IsPermissionAndAppOpGranted(packageName, backgroundLocation, user) {
		return false
	}
	info, err := c.pm.PermissionInfo(backgroundLocation)
	if err != nil || !info.UserSensitive {
		return false
	}
	fgFlags := c.pm.Flags(packageName, fineLocation, user)
	bgFlags := c.pm.Flags(packageName, backgroundLocation, user)
	return !(fgFlags.Has(types.FlagGrantedByDefault) && bgFlags.Has(types.FlagGrantedByDefault))
}

func (c *LocationAccessCheck) candidates(ctx context.Context, profiles []types.UserHandle) ([]types.UserPackage, error) {
	enabledTime := c.enabledTime()
	found := make(map[types.UserPackage]bool)
	var ordered []types.UserPackage

	for _, profile := range profiles {
		if err := checkCancelled(ctx); err != nil {
			return nil, err
		}
		for _, access := range c.history.FineLocationAccesses(profile, enabledTime) {
			if err := checkCancelled(ctx); err != nil {
				return nil, err
			}

			if access.PackageName == types.PackageAndroid || c.isLocationProvider(access.PackageName) {
				continue
			}
			if !util.Contains(profiles, access.User) {
				continue
			}
			if access.ProxyPackage != "" && !c.isTrustedProxy(access.ProxyPackage) {
				log.Debug().Msgf("ignoring access of %s attributed by %s", access.PackageName, access.ProxyPackage)
				continue
			}
			if !access.Time.After(enabledTime) {
				continue
			}

			key := types.NewUserPackage(access.PackageName, access.User)
			if found[key] {
				continue
			}
			if !c.IsBackgroundLocationReportable(access.PackageName, access.User) {
				continue
			}
			found[key] = true
			ordered = append(ordered, key)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	notified := c.notified.load()
	pruned := false
	for p := range notified {
		if err := checkCancelled(ctx); err != nil {
			return nil, err
		}
		if !c.perms.IsPermissionAndAppOpGranted(p.PackageName, backgroundLocation, p.User) {
			delete(notified, p)
			pruned = true
		}
	}
	if pruned {
		c.notified.store(notified)
	}

	var result []types.UserPackage
	for _, p := range ordered {
		if !notified[p] {
			result = append(result, p)
		}
	}
	return result, nil
}

func (c *LocationAccessCheck) selectAndNotify(ctx context.Context, candidates []types.UserPackage) error {
	for len(candidates) > 0 {
		if err := checkCancelled(ctx); err != nil {
			return err
		}

		index := -1
		for i, p := range candidates {
			if c.device.ExtraLocationController != "" && p.PackageName == c.device.ExtraLocationController {
				index = i
				break
			}
		}
		if index < 0 {
			c.mu.Lock()
			index = c.random.Intn(len(candidates))
			c.mu.Unlock()
		}

		selected := candidates[index]
		info, err := c.pm.PackageInfo(selected.PackageName, selected.User)
		if err != nil {
			log.Warn().Err(err).Msgf("dropping candidate %s", selected.PackageName)
			candidates = append(candidates[:index:index], candidates[index+1:]...)
			continue
		}

		c.notify(info, selected.User)
		return nil
	}
	log.Debug().Msg("no package to notify about")
	return nil
}

func (c *LocationAccessCheck) notify(info *types.PackageInfo, user types.UserHandle) {
	now := c.clock.Now()
	label := info.Label
	if label == "" {
		label = info.PackageName
	}
	sessionID := now.UnixNano()

	c.notifications.CreateChannel(NotificationChannelID, "Location access")
	c.notifications.Notify(NotificationTag, NotificationID, Notification{
		ChannelID:     NotificationChannelID,
		Title:         label + " accessed your location in the background",
		Text:          "This app can always access your location. Tap to change.",
		PackageName:   info.PackageName,
		User:          user,
		SessionID:     sessionID,
		ContentIntent: notificationIntent(ActionNotificationClicked, info.PackageName, user, sessionID),
		DeleteIntent:  notificationIntent(ActionNotificationDeleted, info.PackageName, user, sessionID),
	}, user)

	c.prefs.PutInt64(keyLastShown, now.UnixMilli())
	c.prefs.Apply()
	log.Info().Msgf("notified about background location access of %s", info.PackageName)
}

func notificationIntent(action string, packageName string, user types.UserHandle, sessionID int64) *types.Intent {
	return types.NewIntent(action).
		PutExtra(types.ExtraPackageName, packageName).
		PutExtra(types.ExtraUser, strconv.Itoa(int(user))).
		PutExtra(ExtraSessionID, strconv.FormatInt(sessionID, 10))
}

// MarkAsNotified stops further notifications about the package
func (c *LocationAccessCheck) MarkAsNotified(packageName string, user types.UserHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	notified := c.notified.load()
	key := types.NewUserPackage(packageName, user)
	if notified[key] {
		return
	}
	notified[key] = true
	c.notified.store(notified)
}

// IsNotified reports whether the package is in the already notified list
func (c *LocationAccessCheck) IsNotified(packageName string, user types.UserHandle) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notified.load()[types.NewUserPackage(packageName, user)]
}

// ForgetAboutPackage removes the package from the already notified list and cancels
// its notification if it is showing. Called when the package data is cleared.
func (c *LocationAccessCheck) ForgetAboutPackage(packageName string, user types.UserHandle) {
	for _, n := range c.notifications.Active(NotificationTag, user) {
		if n.PackageName == packageName {
			c.notifications.Cancel(NotificationTag, NotificationID, user)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	notified := c.notified.load()
	key := types.NewUserPackage(packageName, user)
	if !notified[key] {
		return
	}
	delete(notified, key)
	c.notified.store(notified)
}
