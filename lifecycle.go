package permissioncontroller

import (
	"strconv"

	"github.com/sephiroth74/go_permission_controller/events"
	"github.com/sephiroth74/go_permission_controller/locationaccess"
	"github.com/sephiroth74/go_permission_controller/types"
	"github.com/sephiroth74/go_permission_controller/workmanager"
)

const (
	DataRestored = "restored"
	DataRevoked  = "revoked"
	DataLocation = "location_check_scheduled"
)

// OnBootCompleted reloads the one time permission state and revokes all of it, then
// schedules the location access checks. The works run in order on a background
// goroutine and the returned channel receives their merged data.
func (c *Controller) OnBootCompleted() chan types.Pair[workmanager.Data, error] {
	return c.Work.Execute(
		workmanager.NamedWork{Name: "restore one time permissions", Func: func(workmanager.Data) (workmanager.Data, error) {
			c.OneTime.Restore()
			return workmanager.Data{DataRestored: len(c.OneTime.Entries())}, nil
		}},
		workmanager.NamedWork{Name: "revoke one time permissions", Func: func(workmanager.Data) (workmanager.Data, error) {
			revoked := c.OneTime.RevokeAll()
			if revoked > 0 {
				c.Dispatch(events.OneTimePermissionsRevoked, events.Revoked{User: c.User, Count: revoked})
			}
			return workmanager.Data{DataRevoked: revoked}, nil
		}},
		workmanager.NamedWork{Name: "schedule location access check", Func: func(workmanager.Data) (workmanager.Data, error) {
			if !c.LocationAccess.Config().Enabled {
				c.LocationScheduler.CancelChecks()
				return workmanager.Data{DataLocation: false}, nil
			}
			if err := c.LocationScheduler.SchedulePeriodicCheck(); err != nil {
				return nil, err
			}
			if err := c.LocationScheduler.CheckLocationAccessSoon(); err != nil {
				return nil, err
			}
			return workmanager.Data{DataLocation: true}, nil
		}},
		workmanager.NamedWork{Name: "notify boot completed", Func: func(data workmanager.Data) (workmanager.Data, error) {
			c.Dispatch(events.BootCompleted, data)
			return nil, nil
		}},
	)
}

// OnPackageReset forgets what is tracked about a package whose data got cleared
func (c *Controller) OnPackageReset(packageName string, user types.UserHandle) {
	c.LocationAccess.ForgetAboutPackage(packageName, user)
	if user == c.User {
		c.OneTime.Forget(packageName)
	}
	c.Dispatch(events.PackageReset, types.NewUserPackage(packageName, user))
}

// OnPackageAdded replays the delayed restore of the package, it returns whether
// there was anything to restore
func (c *Controller) OnPackageAdded(packageName string, user types.UserHandle) bool {
	return c.Backup.RestoreDelayed(packageName, user)
}

// OnPackageRemoved drops the package from the roles it held, giving the roles their
// fallback holders
func (c *Controller) OnPackageRemoved(packageName string, user types.UserHandle) {
	c.OnPackageReset(packageName, user)

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, roleName := range c.Env.Holders.RolesHeldBy(packageName, user) {
		c.Env.Holders.RemoveHolder(roleName, packageName, user)
		r, err := c.Env.Roles.Get(roleName)
		if err != nil {
			continue
		}
		c.addFallbackHolderLocked(r, packageName, user)
		c.holdersChangedLocked(r, user)
	}
	c.Dispatch(events.PackageRemoved, types.NewUserPackage(packageName, user))
}

// OnReceive handles the platform broadcasts and the intents of the location access
// notification, it returns false for intents it does not handle
func (c *Controller) OnReceive(intent *types.Intent) bool {
	switch intent.Action {
	case types.ActionBootCompleted:
		go func() {
			for result := range c.OnBootCompleted() {
				if result.Second != nil {
					log.Error().Err(result.Second).Msg("boot completed handling failed")
				}
			}
		}()
		return true
	case types.ActionPackageDataCleared, types.ActionPackageFullyRemoved:
		packageName := intent.Extras[types.ExtraPackageName]
		user := c.User
		if value, ok := intent.Extras[types.ExtraUser]; ok {
			id, err := strconv.Atoi(value)
			if err != nil {
				log.Warn().Msgf("ignoring malformed intent %s", intent.String())
				return false
			}
			user = types.UserHandle(id)
		}
		if packageName == "" {
			log.Warn().Msgf("ignoring intent without package %s", intent.String())
			return false
		}
		if intent.Action == types.ActionPackageDataCleared {
			c.OnPackageReset(packageName, user)
		} else {
			c.OnPackageRemoved(packageName, user)
		}
		return true
	case locationaccess.ActionNotificationClicked, locationaccess.ActionNotificationDeleted:
		return c.LocationReceiver.OnReceive(intent)
	}
	return false
}
