package permissions

import (
	"github.com/alecthomas/repr"
	"github.com/sephiroth74/go_permission_controller/types"
)

// AppOp is an app op a role sets on its holders
type AppOp struct {
	Name string
	// MaxTargetSdkVersion limits the app op to packages targeting at most this SDK, 0 means no limit
	MaxTargetSdkVersion int
	Mode                types.AppOpMode
}

func (a AppOp) String() string {
	return repr.String(a)
}

func (a AppOp) appliesTo(r *Reconciler, packageName string, user types.UserHandle) bool {
	if a.MaxTargetSdkVersion <= 0 {
		return true
	}
	info, err := r.pm.PackageInfo(packageName, user)
	if err != nil {
		return false
	}
	return info.TargetSdkVersion <= a.MaxTargetSdkVersion
}

// Grant sets the app op to its configured mode, returns whether the mode changed
func (a AppOp) Grant(r *Reconciler, packageName string, overrideUserFixed bool, user types.UserHandle) bool {
	if !a.appliesTo(r, packageName, user) {
		return false
	}

	permission := r.pm.PermissionForOp(a.Name)
	if permission == "" {
		return r.setAppOpMode(packageName, a.Name, a.Mode, user)
	}

	mode, ok := a.grantMode(r, packageName, permission, overrideUserFixed, user)
	if !ok {
		return false
	}
	return r.setAppOpMode(packageName, a.Name, mode, user)
}

func (a AppOp) grantMode(r *Reconciler, packageName string, permission string, overrideUserFixed bool, user types.UserHandle) (types.AppOpMode, bool) {
	current, ok := r.pm.AppOpMode(packageName, a.Name, user)
	if !ok {
		return a.Mode, false
	}
	background, hasBackground := r.index.BackgroundOf(permission)

	if !a.Mode.IsPermissive() {
		if r.isAppOpPermissionFixed(packageName, permission, overrideUserFixed, user) {
			return a.Mode, false
		}
		if hasBackground && r.isAppOpPermissionFixed(packageName, background, overrideUserFixed, user) {
			return a.Mode, false
		}
		return a.Mode, true
	}

	if !r.pm.IsGranted(packageName, permission, user) {
		return a.Mode, false
	}
	if r.isAppOpPermissionFixed(packageName, permission, overrideUserFixed, user) && !current.IsPermissive() {
		return a.Mode, false
	}
	if !hasBackground {
		return a.Mode, true
	}

	if r.IsRuntimePermissionsSupported(packageName, user) {
		if r.pm.IsGranted(packageName, background, user) {
			return types.ModeAllowed, true
		}
		return types.ModeForeground, true
	}

	// legacy packages never lose an allowed app op here
	if current == types.ModeAllowed {
		return types.ModeAllowed, true
	}
	if r.isAppOpPermissionFixed(packageName, background, overrideUserFixed, user) {
		return types.ModeForeground, true
	}
	return a.Mode, true
}

// Revoke resets the app op to its default mode, returns whether the mode changed
func (a AppOp) Revoke(r *Reconciler, packageName string, user types.UserHandle) bool {
	if !a.appliesTo(r, packageName, user) {
		return false
	}

	mode := r.pm.DefaultModeFor(a.Name)
	permission := r.pm.PermissionForOp(a.Name)
	if permission == "" {
		return r.setAppOpMode(packageName, a.Name, mode, user)
	}

	current, ok := r.pm.AppOpMode(packageName, a.Name, user)
	if !ok {
		return false
	}
	if r.isAppOpPermissionFixed(packageName, permission, false, user) {
		return false
	}

	runtimeSupported := r.IsRuntimePermissionsSupported(packageName, user)
	if background, ok := r.index.BackgroundOf(permission); ok && mode.IsPermissive() {
		if runtimeSupported {
			switch {
			case !r.pm.IsGranted(packageName, permission, user):
				mode = types.ModeIgnored
			case r.pm.IsGranted(packageName, background, user):
				mode = types.ModeAllowed
			default:
				mode = types.ModeForeground
			}
		} else if r.isAppOpPermissionFixed(packageName, background, false, user) {
			if current == types.ModeAllowed {
				mode = types.ModeAllowed
			} else {
				mode = types.ModeForeground
			}
		}
	}

	changed := r.setAppOpMode(packageName, a.Name, mode, user)
	if changed && !runtimeSupported && mode.IsPermissive() {
		r.pm.SetFlags(packageName, permission, types.FlagReviewRequired, types.FlagReviewRequired, user)
	}
	return changed
}

func (r *Reconciler) isAppOpPermissionFixed(packageName string, permission string, overrideUserFixed bool, user types.UserHandle) bool {
	fixedFlags := types.FlagPolicyFixed | types.FlagSystemFixed
	if !overrideUserFixed {
		fixedFlags |= types.FlagUserFixed
	}
	return r.pm.Flags(packageName, permission, user).HasAny(fixedFlags)
}
