package permissions

import (
	"github.com/sephiroth74/go_permission_controller/logging"
	"github.com/sephiroth74/go_permission_controller/packagemanager"
	"github.com/sephiroth74/go_permission_controller/types"
	"github.com/sephiroth74/go_permission_controller/util"
)

var log = logging.GetLogger("permissions")

type GrantOptions struct {
	// OverrideDisabledSystemPackage grants permissions the factory version of an
	// updated system package did not request
	OverrideDisabledSystemPackage bool
	OverrideUserSetAndFixed       bool
	SetGrantedByRole              bool
	SetGrantedByDefault           bool
	SetSystemFixed                bool
}

// RevokeOptions selects which grants are revoked, exactly one of OnlyIfGrantedByRole
// and OnlyIfGrantedByDefault must be set
type RevokeOptions struct {
	OnlyIfGrantedByRole    bool
	OnlyIfGrantedByDefault bool
	OverrideSystemFixed    bool
}

// Reconciler grants and revokes runtime permissions together with their app ops
type Reconciler struct {
	pm    packagemanager.PackageManager
	index *Index
}

func NewReconciler(pm packagemanager.PackageManager, index *Index) *Reconciler {
	return &Reconciler{pm: pm, index: index}
}

func (r *Reconciler) PackageManager() packagemanager.PackageManager {
	return r.pm
}

func (r *Reconciler) Index() *Index {
	return r.index
}

// Grant grants the permissions requested by the package, returns whether any
// permission or app op changed
func (r *Reconciler) Grant(packageName string, permissions []string, options GrantOptions, user types.UserHandle) bool {
	packageInfo, err := r.pm.PackageInfo(packageName, user)
	if err != nil {
		log.Debug().Msgf("cannot grant permissions: %s", err.Error())
		return false
	}
	if len(packageInfo.RequestedPermissions) == 0 {
		return false
	}

	permissionsToGrant := util.Distinct(permissions)
	for _, split := range r.pm.SplitPermissions() {
		if packageInfo.TargetSdkVersion < split.TargetSdk && util.Contains(permissions, split.SplitPermission) {
			permissionsToGrant = util.Distinct(append(permissionsToGrant, split.NewPermissions...))
		}
	}

	permissionsToGrant = util.Intersect(permissionsToGrant, packageInfo.RequestedPermissions)
	if len(permissionsToGrant) == 0 {
		return false
	}

	// Only grant what the system image version of an updated system package declared,
	// unless told otherwise
	if !options.OverrideDisabledSystemPackage && packageInfo.UpdatedSystemApp {
		factoryInfo, err := r.pm.FactoryPackageInfo(packageName, user)
		if err == nil {
			if len(factoryInfo.RequestedPermissions) == 0 {
				return false
			}
			permissionsToGrant = util.Intersect(permissionsToGrant, factoryInfo.RequestedPermissions)
			if len(permissionsToGrant) == 0 {
				return false
			}
		}
	}

	// Foreground permissions go first so that background permissions find their
	// foreground permission already granted
	foreground, other := util.Partition(permissionsToGrant, r.index.IsForeground)

	changed := false
	for _, permission := range append(foreground, other...) {
		if r.grantSingle(packageName, permission, options, user) {
			changed = true
		}
	}
	return changed
}

func (r *Reconciler) grantSingle(packageName string, permission string, options GrantOptions, user types.UserHandle) bool {
	if r.pm.Flags(packageName, permission, user).HasAny(types.FlagSystemFixed | types.FlagPolicyFixed) {
		// grant state, flags and app op of a system or policy fixed permission stay as they are
		return false
	}
	wasGranted := r.IsPermissionAndAppOpGranted(packageName, permission, user)
	if r.isPermissionFixed(packageName, permission, false, options.OverrideUserSetAndFixed, user) && !wasGranted {
		// fixed to revoked
		return false
	}

	if r.index.IsBackground(permission) {
		anyForegroundGranted := false
		for _, fg := range r.index.ForegroundsOf(permission) {
			if r.IsPermissionAndAppOpGranted(packageName, fg, user) {
				anyForegroundGranted = true
				break
			}
		}
		if !anyForegroundGranted {
			log.Debug().Msgf("not granting %s to %s, no foreground permission granted", permission, packageName)
			return false
		}
	}

	changed := r.grantPermissionAndAppOp(packageName, permission, user)

	newFlags := types.FlagNone
	if !wasGranted && options.SetGrantedByRole {
		newFlags |= types.FlagGrantedByRole
	}
	if options.SetGrantedByDefault {
		newFlags |= types.FlagGrantedByDefault
	}
	if options.SetSystemFixed {
		newFlags |= types.FlagSystemFixed
	}
	newMask := newFlags | types.FlagRevokeWhenRequested
	if !wasGranted {
		// a permission granted here is no longer user set or fixed, nor pending review
		newMask |= types.FlagUserFixed | types.FlagUserSet | types.FlagReviewRequired
	}
	// SYSTEM_FIXED is only ever added, a weaker grant keeps it
	r.pm.SetFlags(packageName, permission, newFlags, newMask, user)
	return changed
}

func (r *Reconciler) grantPermissionAndAppOp(packageName string, permission string, user types.UserHandle) bool {
	changed := false
	if !r.pm.IsGranted(packageName, permission, user) {
		r.pm.Grant(packageName, permission, user)
		changed = true
	}

	if !r.index.IsBackground(permission) {
		op := r.pm.OpForPermission(permission)
		if op == "" {
			return changed
		}
		mode := types.ModeAllowed
		if bg, ok := r.index.BackgroundOf(permission); ok && !r.isBackgroundGranted(packageName, bg, user) {
			mode = types.ModeForeground
		}
		if r.setAppOpMode(packageName, op, mode, user) {
			changed = true
		}
		return changed
	}

	// background permission: upgrade the granted foreground permissions
	for _, fg := range r.index.ForegroundsOf(permission) {
		op := r.pm.OpForPermission(fg)
		if op == "" || !r.pm.IsGranted(packageName, fg, user) {
			continue
		}
		if r.setAppOpMode(packageName, op, types.ModeAllowed, user) {
			changed = true
		}
	}
	return changed
}

// Revoke revokes the permissions previously granted by a role or by default.
// Panics unless exactly one of the OnlyIfGrantedBy options is set.
func (r *Reconciler) Revoke(packageName string, permissions []string, options RevokeOptions, user types.UserHandle) bool {
	if options.OnlyIfGrantedByRole == options.OnlyIfGrantedByDefault {
		panic("exactly one of OnlyIfGrantedByRole and OnlyIfGrantedByDefault must be set")
	}

	packageInfo, err := r.pm.PackageInfo(packageName, user)
	if err != nil {
		log.Debug().Msgf("cannot revoke permissions: %s", err.Error())
		return false
	}
	if len(packageInfo.RequestedPermissions) == 0 {
		return false
	}

	permissionsToRevoke := util.Intersect(util.Distinct(permissions), packageInfo.RequestedPermissions)
	if len(permissionsToRevoke) == 0 {
		return false
	}

	// Background permissions go first so that foreground permissions are demoted
	// knowing their background permission is gone
	background, other := util.Partition(permissionsToRevoke, r.index.IsBackground)

	changed := false
	for _, permission := range append(background, other...) {
		if r.revokeSingle(packageName, permission, options, user) {
			changed = true
		}
	}
	return changed
}

func (r *Reconciler) revokeSingle(packageName string, permission string, options RevokeOptions, user types.UserHandle) bool {
	if r.isPermissionFixed(packageName, permission, options.OverrideSystemFixed, false, user) {
		return false
	}

	grantedBy := types.FlagGrantedByDefault
	if options.OnlyIfGrantedByRole {
		grantedBy = types.FlagGrantedByRole
	}
	if !r.pm.Flags(packageName, permission, user).Has(grantedBy) {
		return false
	}

	changed := r.revokePermissionAndAppOp(packageName, permission, user)
	r.pm.SetFlags(packageName, permission, types.FlagNone, grantedBy, user)
	return changed
}

func (r *Reconciler) revokePermissionAndAppOp(packageName string, permission string, user types.UserHandle) bool {
	runtimeSupported := r.IsRuntimePermissionsSupported(packageName, user)
	changed := false
	if runtimeSupported && r.pm.IsGranted(packageName, permission, user) {
		r.pm.Revoke(packageName, permission, user)
		changed = true
	}

	if !r.index.IsBackground(permission) {
		op := r.pm.OpForPermission(permission)
		if op == "" {
			return changed
		}
		mode := r.pm.DefaultModeFor(op)
		if runtimeSupported && r.index.IsForeground(permission) && mode.IsPermissive() {
			// the foreground permission is gone, its app op cannot stay permissive
			mode = types.ModeIgnored
		}
		if r.setAppOpMode(packageName, op, mode, user) {
			changed = true
			if !runtimeSupported && mode.IsPermissive() {
				// the app op was reset to permissive, the user has to review it again
				r.pm.SetFlags(packageName, permission, types.FlagReviewRequired, types.FlagReviewRequired, user)
			}
		}
		return changed
	}

	// background permission: demote the foreground permissions which still hold
	for _, fg := range r.index.ForegroundsOf(permission) {
		op := r.pm.OpForPermission(fg)
		if op == "" {
			continue
		}
		mode, ok := r.pm.AppOpMode(packageName, op, user)
		if !ok || mode != types.ModeAllowed {
			continue
		}
		if r.setAppOpMode(packageName, op, types.ModeForeground, user) {
			changed = true
		}
	}
	return changed
}

// IsRuntimePermissionsSupported reports whether the package targets an SDK with
// runtime permissions, legacy packages are only controlled through app ops
func (r *Reconciler) IsRuntimePermissionsSupported(packageName string, user types.UserHandle) bool {
	info, err := r.pm.PackageInfo(packageName, user)
	if err != nil {
		return false
	}
	return info.TargetSdkVersion >= types.SdkM
}

// IsPermissionAndAppOpGranted reports whether the permission is effectively granted,
// taking review state and app op modes into account
func (r *Reconciler) IsPermissionAndAppOpGranted(packageName string, permission string, user types.UserHandle) bool {
	if !r.pm.IsGranted(packageName, permission, user) {
		return false
	}
	if r.pm.Flags(packageName, permission, user).Has(types.FlagReviewRequired) {
		return false
	}

	if !r.index.IsBackground(permission) {
		op := r.pm.OpForPermission(permission)
		if op == "" {
			return true
		}
		mode, ok := r.pm.AppOpMode(packageName, op, user)
		if !ok {
			return false
		}
		if !r.index.IsForeground(permission) {
			return mode == types.ModeAllowed
		}
		return mode.IsPermissive()
	}

	// a background permission is effective when any foreground app op allows it
	for _, fg := range r.index.ForegroundsOf(permission) {
		op := r.pm.OpForPermission(fg)
		if op == "" {
			continue
		}
		if mode, ok := r.pm.AppOpMode(packageName, op, user); ok && mode == types.ModeAllowed {
			return true
		}
	}
	return false
}

// isBackgroundGranted decides whether a foreground app op can be fully allowed
func (r *Reconciler) isBackgroundGranted(packageName string, background string, user types.UserHandle) bool {
	if !r.IsRuntimePermissionsSupported(packageName, user) {
		return r.IsPermissionAndAppOpGranted(packageName, background, user)
	}
	return r.pm.IsGranted(packageName, background, user) &&
		!r.pm.Flags(packageName, background, user).Has(types.FlagReviewRequired)
}

func (r *Reconciler) isPermissionFixed(packageName string, permission string, overrideSystemFixed bool, overrideUserSetAndFixed bool, user types.UserHandle) bool {
	fixedFlags := types.FlagPolicyFixed
	if !overrideSystemFixed {
		fixedFlags |= types.FlagSystemFixed
	}
	if !overrideUserSetAndFixed {
		fixedFlags |= types.FlagUserFixed | types.FlagUserSet
	}
	return r.pm.Flags(packageName, permission, user).HasAny(fixedFlags)
}

// setAppOpMode changes the mode only when it differs, returns whether it changed
func (r *Reconciler) setAppOpMode(packageName string, op string, mode types.AppOpMode, user types.UserHandle) bool {
	current, ok := r.pm.AppOpMode(packageName, op, user)
	if !ok || current == mode {
		return false
	}
	r.pm.SetAppOpMode(packageName, op, mode, user)
	log.Debug().Msgf("%s: %s %s -> %s", packageName, op, current, mode)
	return true
}
