package permissioncontroller

import (
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"sync"

	"github.com/reactivex/rxgo/v2"

	"github.com/sephiroth74/go_permission_controller/activitymanager"
	"github.com/sephiroth74/go_permission_controller/backup"
	"github.com/sephiroth74/go_permission_controller/config"
	"github.com/sephiroth74/go_permission_controller/events"
	"github.com/sephiroth74/go_permission_controller/locationaccess"
	"github.com/sephiroth74/go_permission_controller/logging"
	"github.com/sephiroth74/go_permission_controller/onetime"
	"github.com/sephiroth74/go_permission_controller/packagemanager"
	"github.com/sephiroth74/go_permission_controller/permissions"
	"github.com/sephiroth74/go_permission_controller/prefs"
	"github.com/sephiroth74/go_permission_controller/role"
	"github.com/sephiroth74/go_permission_controller/types"
	"github.com/sephiroth74/go_permission_controller/workmanager"
)

var log = logging.GetLogger("controller")

const (
	OneTimePrefsFileName        = "one_time_permissions.properties"
	LocationAccessPrefsFileName = "location_access_check.properties"

	// events queued on Channel before new ones get dropped
	channelSize = 64
)

var ErrNoPackageManager = errors.New("a package manager is required")

type Options struct {
	Config         *config.Config
	User           types.UserHandle
	PackageManager packagemanager.PackageManager
	// ActivityManager defaults to a MemoryActivityManager, which also serves as
	// UsageStats when none is given
	ActivityManager activitymanager.ActivityManager
	UsageStats      onetime.UsageStats
	History         locationaccess.AppOpsHistory
	Notifications   locationaccess.NotificationManager
	Users           locationaccess.UserManager
	Holders         role.HolderStore
	Clock           workmanager.Clock
	Random          *rand.Rand
}

// Controller manages the role holders of a user and the background work around
// runtime permissions
type Controller struct {
	Env     *role.Environment
	User    types.UserHandle
	Channel chan rxgo.Item

	Alarms            *workmanager.AlarmManager
	Jobs              *workmanager.JobScheduler
	Work              workmanager.WorkManager
	OneTime           *onetime.Revoker
	LocationAccess    *locationaccess.LocationAccessCheck
	LocationScheduler *locationaccess.Scheduler
	LocationReceiver  *locationaccess.NotificationReceiver
	Backup            *backup.Helper

	// serializes the changes of role holders
	mu sync.Mutex
}

func NewController(options Options) (*Controller, error) {
	if options.PackageManager == nil {
		return nil, ErrNoPackageManager
	}
	cfg := options.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if options.ActivityManager == nil {
		options.ActivityManager = activitymanager.NewMemoryActivityManager()
	}
	if options.UsageStats == nil {
		if usage, ok := options.ActivityManager.(onetime.UsageStats); ok {
			options.UsageStats = usage
		}
	}
	if options.History == nil {
		options.History = locationaccess.NewMemoryAppOpsHistory()
	}
	if options.Notifications == nil {
		options.Notifications = locationaccess.NewMemoryNotificationManager()
	}
	if options.Users == nil {
		options.Users = locationaccess.NewMemoryUserManager()
	}
	if options.Holders == nil {
		options.Holders = role.NewMemoryHolderStore()
	}
	if options.Clock == nil {
		options.Clock = workmanager.SystemClock{}
	}

	registry, err := role.LoadFile(cfg.RolesFile, options.PackageManager, cfg.Strict)
	if err != nil {
		return nil, fmt.Errorf("failed to load roles: %w", err)
	}

	perms := permissions.NewReconciler(options.PackageManager, permissions.NewIndex(options.PackageManager))
	c := &Controller{
		Env: &role.Environment{
			PackageManager:  options.PackageManager,
			Permissions:     perms,
			ActivityManager: options.ActivityManager,
			Holders:         options.Holders,
			Roles:           registry,
			Config:          cfg,
		},
		User:    options.User,
		Channel: make(chan rxgo.Item, channelSize),
		Alarms:  workmanager.NewAlarmManager(options.Clock),
		Jobs:    workmanager.NewJobScheduler(options.Clock),
	}

	c.OneTime = onetime.NewRevoker(onetime.Options{
		User:            options.User,
		PackageManager:  options.PackageManager,
		ActivityManager: options.ActivityManager,
		UsageStats:      options.UsageStats,
		Alarms:          c.Alarms,
		Prefs:           prefs.Open(dataFile(cfg, OneTimePrefsFileName)),
		Timeout:         cfg.OneTimePermissions.Timeout,
	})

	c.LocationAccess = locationaccess.New(locationaccess.Options{
		Permissions:     perms,
		ActivityManager: options.ActivityManager,
		History:         options.History,
		Notifications:   options.Notifications,
		Users:           options.Users,
		Prefs:           prefs.Open(dataFile(cfg, LocationAccessPrefsFileName)),
		DataDir:         cfg.DataDir,
		Config:          cfg.LocationAccessCheck,
		Device:          cfg.Device,
		Clock:           options.Clock,
		Random:          options.Random,
	})
	c.LocationScheduler = locationaccess.NewScheduler(c.LocationAccess, c.Jobs, options.User)
	c.LocationReceiver = locationaccess.NewNotificationReceiver(c.LocationAccess)
	c.Backup = backup.NewHelper(perms, cfg.DataDir)

	log.Info().Msgf("loaded %d roles for user %d", registry.Len(), int(options.User))
	return c, nil
}

func dataFile(cfg *config.Config, name string) string {
	if cfg.DataDir == "" {
		return ""
	}
	return filepath.Join(cfg.DataDir, name)
}

// Dispatch queues an event on Channel, dropping it when nobody drains the channel
func (c *Controller) Dispatch(eventType events.EventType, data interface{}) {
	select {
	case c.Channel <- rxgo.Of(events.ControllerEvent{Event: eventType, Item: data}):
	default:
		log.Warn().Msgf("event channel full, dropping %s", eventType)
	}
}

// Close completes Channel, no event may be dispatched afterwards
func (c *Controller) Close() {
	close(c.Channel)
}

// region Roles

// availableRole returns the role when it exists and is available to the user
func (c *Controller) availableRole(roleName string, user types.UserHandle) (*role.Role, error) {
	r, err := c.Env.Roles.Get(roleName)
	if err != nil {
		return nil, err
	}
	if !r.IsAvailableAsUser(c.Env, user) {
		return nil, fmt.Errorf("%w: %s", role.ErrNotAvailable, roleName)
	}
	return r, nil
}

func (c *Controller) RoleHolders(roleName string, user types.UserHandle) []string {
	return c.Env.Holders.Holders(roleName, user)
}

// RolesHeldBy returns the names of the roles the package holds
func (c *Controller) RolesHeldBy(packageName string, user types.UserHandle) []string {
	return c.Env.Holders.RolesHeldBy(packageName, user)
}

func (c *Controller) IsRoleVisible(roleName string, user types.UserHandle) bool {
	r, err := c.availableRole(roleName, user)
	if err != nil {
		return false
	}
	return r.IsVisibleAsUser(c.Env, user)
}

func (c *Controller) QualifyingPackages(roleName string, user types.UserHandle) ([]string, error) {
	r, err := c.availableRole(roleName, user)
	if err != nil {
		return nil, err
	}
	return r.QualifyingPackagesAsUser(c.Env, user), nil
}

// AddRoleHolder makes the package a holder of the role and grants what the role
// grants. The other holders of an exclusive role are removed first.
func (c *Controller) AddRoleHolder(roleName string, packageName string, dontKillApp bool, user types.UserHandle) error {
	r, err := c.availableRole(roleName, user)
	if err != nil {
		return err
	}
	if _, err := c.Env.PackageManager.PackageInfo(packageName, user); err != nil {
		return err
	}
	if !r.IsPackageQualified(c.Env, packageName, user) {
		return fmt.Errorf("%w: %s for %s", role.ErrNotQualified, packageName, roleName)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	changed := false
	if r.Exclusive {
		for _, holder := range c.Env.Holders.Holders(roleName, user) {
			if holder != packageName && c.removeHolderLocked(r, holder, dontKillApp, user) {
				changed = true
			}
		}
	}
	added := c.addHolderLocked(r, packageName, false, user)
	if added {
		r.OnHolderSelectedAsUser(c.Env, packageName, user)
		changed = true
	}
	if changed {
		c.holdersChangedLocked(r, user)
	}
	return nil
}

// RemoveRoleHolder revokes the role from the package. A role left without holders
// gets its fallback holder.
func (c *Controller) RemoveRoleHolder(roleName string, packageName string, dontKillApp bool, user types.UserHandle) error {
	r, err := c.Env.Roles.Get(roleName)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.removeHolderLocked(r, packageName, dontKillApp, user) {
		return nil
	}
	c.addFallbackHolderLocked(r, packageName, user)
	c.holdersChangedLocked(r, user)
	return nil
}

// ClearRoleHolders removes every holder of the role, then adds its fallback holder
func (c *Controller) ClearRoleHolders(roleName string, dontKillApp bool, user types.UserHandle) error {
	r, err := c.Env.Roles.Get(roleName)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	holders := c.Env.Holders.Holders(roleName, user)
	if len(holders) == 0 {
		return nil
	}
	for _, holder := range holders {
		c.removeHolderLocked(r, holder, dontKillApp, user)
	}
	c.addFallbackHolderLocked(r, "", user)
	c.holdersChangedLocked(r, user)
	return nil
}

// GrantDefaultRoles refreshes the holders of every available role: holders which
// no longer qualify are removed, the others get their grants again, and roles left
// without holders get their default holders or their fallback holder.
func (c *Controller) GrantDefaultRoles(user types.UserHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, r := range c.Env.Roles.Roles() {
		if !r.IsAvailableAsUser(c.Env, user) {
			for _, holder := range c.Env.Holders.Holders(r.Name, user) {
				c.removeHolderLocked(r, holder, true, user)
			}
			continue
		}

		changed := false
		for _, holder := range c.Env.Holders.Holders(r.Name, user) {
			_, err := c.Env.PackageManager.PackageInfo(holder, user)
			if err != nil || !r.IsPackageQualified(c.Env, holder, user) {
				log.Info().Msgf("%s no longer qualifies for %s", holder, r.Name)
				c.removeHolderLocked(r, holder, true, user)
				changed = true
				continue
			}
			r.Grant(c.Env, holder, false, user)
		}

		if len(c.Env.Holders.Holders(r.Name, user)) == 0 {
			defaults := r.DefaultHolders(c.Env, user)
			if r.Exclusive && len(defaults) > 1 {
				log.Warn().Msgf("%s is exclusive, keeping the first of %d default holders", r.Name, len(defaults))
				defaults = defaults[:1]
			}
			for _, holder := range defaults {
				if c.addHolderLocked(r, holder, false, user) {
					changed = true
				}
			}
			if len(defaults) == 0 && c.addFallbackHolderLocked(r, "", user) {
				changed = true
			}
		}

		if changed {
			c.holdersChangedLocked(r, user)
		}
	}
}

func (c *Controller) addHolderLocked(r *role.Role, packageName string, overrideUserSetAndFixed bool, user types.UserHandle) bool {
	r.Grant(c.Env, packageName, overrideUserSetAndFixed, user)
	if !c.Env.Holders.AddHolder(r.Name, packageName, user) {
		return false
	}
	log.Info().Msgf("added %s as holder of %s", packageName, r.Name)
	return true
}

func (c *Controller) removeHolderLocked(r *role.Role, packageName string, dontKillApp bool, user types.UserHandle) bool {
	if !c.isHolder(r.Name, packageName, user) {
		return false
	}
	r.Revoke(c.Env, packageName, dontKillApp, false, user)
	c.Env.Holders.RemoveHolder(r.Name, packageName, user)
	log.Info().Msgf("removed %s as holder of %s", packageName, r.Name)
	return true
}

// addFallbackHolderLocked adds the fallback holder of a role left without holders,
// unless it is the package just removed
func (c *Controller) addFallbackHolderLocked(r *role.Role, removed string, user types.UserHandle) bool {
	if len(c.Env.Holders.Holders(r.Name, user)) > 0 || !r.IsAvailableAsUser(c.Env, user) {
		return false
	}
	fallback := r.FallbackHolder(c.Env, user)
	if fallback == "" || fallback == removed {
		return false
	}
	if !c.addHolderLocked(r, fallback, false, user) {
		return false
	}
	r.OnHolderSelectedAsUser(c.Env, fallback, user)
	return true
}

func (c *Controller) isHolder(roleName string, packageName string, user types.UserHandle) bool {
	for _, holder := range c.Env.Holders.Holders(roleName, user) {
		if holder == packageName {
			return true
		}
	}
	return false
}

func (c *Controller) holdersChangedLocked(r *role.Role, user types.UserHandle) {
	r.OnHolderChangedAsUser(c.Env, user)
	holders := c.Env.Holders.Holders(r.Name, user)
	c.Env.ActivityManager.Broadcast(types.NewIntent(types.ActionRoleHoldersChanged).PutExtra(types.ExtraRoleName, r.Name), user)
	c.Dispatch(events.RoleHoldersChanged, events.RoleHolders{RoleName: r.Name, User: user, Holders: holders})
}

// endregion Roles
