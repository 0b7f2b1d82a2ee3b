package role

import (
	"github.com/alecthomas/repr"
	streams "github.com/sephiroth74/go_streams"

	"github.com/sephiroth74/go_permission_controller/activitymanager"
	"github.com/sephiroth74/go_permission_controller/config"
	"github.com/sephiroth74/go_permission_controller/logging"
	"github.com/sephiroth74/go_permission_controller/packagemanager"
	"github.com/sephiroth74/go_permission_controller/permissions"
	"github.com/sephiroth74/go_permission_controller/types"
	"github.com/sephiroth74/go_permission_controller/util"
)

var log = logging.GetLogger("role")

// Environment holds the collaborators roles operate on
type Environment struct {
	PackageManager  packagemanager.PackageManager
	Permissions     *permissions.Reconciler
	ActivityManager activitymanager.ActivityManager
	Holders         HolderStore
	Roles           *Registry
	Config          *config.Config
}

// Role is a named capability, optionally exclusive, held by the packages which
// qualify for it
type Role struct {
	Name        string
	Label       string
	Description string
	Behavior    Behavior
	// DefaultHolderPackages as declared by the definition
	DefaultHolderPackages []string
	Exclusive             bool
	Visible               bool
	Requestable           bool
	ShowNone              bool
	SystemOnly            bool
	RequiredComponents    []RequiredComponent
	Permissions           []string
	AppOps                []permissions.AppOp
	PreferredActivities   []PreferredActivity
}

func (r *Role) String() string {
	return repr.String(r)
}

// region Availability

func (r *Role) behavior() Behavior {
	if r.Behavior == nil {
		return BaseBehavior{}
	}
	return r.Behavior
}

func (r *Role) IsAvailableAsUser(env *Environment, user types.UserHandle) bool {
	return r.behavior().IsAvailableAsUser(r, env, user)
}

func (r *Role) IsVisibleAsUser(env *Environment, user types.UserHandle) bool {
	return r.Visible && r.behavior().IsVisibleAsUser(r, env, user)
}

// DefaultHolders returns the installed and qualified default holders of the role
func (r *Role) DefaultHolders(env *Environment, user types.UserHandle) []string {
	holders, ok := r.behavior().DefaultHolders(r, env, user)
	if !ok {
		holders = r.DefaultHolderPackages
		if env.Config != nil {
			if configured, ok := env.Config.DefaultHoldersFor(r.Name); ok {
				holders = configured
			}
		}
	}

	var result []string
	for _, packageName := range util.Distinct(holders) {
		if _, err := env.PackageManager.PackageInfo(packageName, user); err != nil {
			log.Warn().Msgf("default holder %s of %s is not installed", packageName, r.Name)
			continue
		}
		if !r.IsPackageQualified(env, packageName, user) {
			log.Warn().Msgf("default holder %s does not qualify for %s", packageName, r.Name)
			continue
		}
		result = append(result, packageName)
	}
	return result
}

// FallbackHolder returns the holder to add when the role would be left without
// holders, empty if none
func (r *Role) FallbackHolder(env *Environment, user types.UserHandle) string {
	return r.behavior().FallbackHolder(r, env, user)
}

func (r *Role) ConfirmationMessage(env *Environment, packageName string) string {
	return r.behavior().ConfirmationMessage(r, env, packageName)
}

// endregion Availability

// region Qualification

func (r *Role) IsPackageQualified(env *Environment, packageName string, user types.UserHandle) bool {
	if r.SystemOnly && !isSystemPackage(env.PackageManager, packageName, user) {
		return false
	}
	if qualified, ok := r.behavior().IsPackageQualified(r, env, packageName, user); ok {
		return qualified
	}
	return r.isPackageQualifiedByComponents(env.PackageManager, packageName, user)
}

func (r *Role) isPackageQualifiedByComponents(pm packagemanager.PackageManager, packageName string, user types.UserHandle) bool {
	if len(r.RequiredComponents) == 0 {
		return false
	}
	for _, component := range r.RequiredComponents {
		if component.QualifyingComponentForPackage(pm, packageName, user) == nil {
			log.Debug().Msgf("%s has no qualifying component for %s: %s", packageName, r.Name, component.IntentFilterData.String())
			return false
		}
	}
	return true
}

// QualifyingPackagesAsUser returns the packages which qualify for the role
func (r *Role) QualifyingPackagesAsUser(env *Environment, user types.UserHandle) []string {
	packages, ok := r.behavior().QualifyingPackagesAsUser(r, env, user)
	if !ok {
		packages = r.qualifyingPackagesByComponents(env.PackageManager, user)
	}
	if !r.SystemOnly {
		return packages
	}
	var result []string
	for _, packageName := range packages {
		if isSystemPackage(env.PackageManager, packageName, user) {
			result = append(result, packageName)
		}
	}
	return result
}

// qualifyingPackagesByComponents returns the packages with a qualifying component for every
// required component, in the order of the first required component
func (r *Role) qualifyingPackagesByComponents(pm packagemanager.PackageManager, user types.UserHandle) []string {
	if len(r.RequiredComponents) == 0 {
		return nil
	}

	counts := make(map[string]int)
	var order []string
	for _, component := range r.RequiredComponents {
		for _, name := range component.QualifyingComponentsAsUser(pm, user) {
			if _, ok := counts[name.PackageName]; !ok {
				order = append(order, name.PackageName)
			}
			counts[name.PackageName]++
		}
	}

	var packages []string
	for _, packageName := range order {
		if counts[packageName] == len(r.RequiredComponents) {
			packages = append(packages, packageName)
		}
	}
	return packages
}

func isSystemPackage(pm packagemanager.PackageManager, packageName string, user types.UserHandle) bool {
	info, err := pm.PackageInfo(packageName, user)
	return err == nil && info.System
}

// endregion Qualification

// region Grant

// Grant grants the permissions, app ops and preferred activities of the role to the package
func (r *Role) Grant(env *Environment, packageName string, overrideUserSetAndFixed bool, user types.UserHandle) bool {
	changed := env.Permissions.Grant(packageName, r.Permissions, permissions.GrantOptions{
		OverrideDisabledSystemPackage: true,
		OverrideUserSetAndFixed:       overrideUserSetAndFixed,
		SetGrantedByRole:              true,
	}, user)

	for _, appOp := range r.AppOps {
		if appOp.Grant(env.Permissions, packageName, overrideUserSetAndFixed, user) {
			changed = true
		}
	}

	for _, preferred := range r.PreferredActivities {
		preferred.Configure(env.PackageManager, packageName, user)
	}

	r.behavior().Grant(r, env, packageName, user)

	if changed && !env.Permissions.IsRuntimePermissionsSupported(packageName, user) {
		// app op changes take effect for legacy packages only after a restart
		env.ActivityManager.ForceStop(packageName, user, "granted role "+r.Name)
	}
	return changed
}

// Revoke revokes what the role granted, keeping the permissions and app ops that other
// roles held by the package grant too
func (r *Role) Revoke(env *Environment, packageName string, dontKillApp bool, overrideSystemFixed bool, user types.UserHandle) bool {
	otherRoles := r.otherRolesHeldBy(env, packageName, user)

	permissionsToRevoke := r.Permissions
	var keptAppOps []string
	for _, other := range otherRoles {
		permissionsToRevoke = util.Remove(permissionsToRevoke, other.Permissions)
		keptAppOps = append(keptAppOps, streams.Map(other.AppOps, func(op permissions.AppOp) string {
			return op.Name
		})...)
	}

	changed := env.Permissions.Revoke(packageName, permissionsToRevoke, permissions.RevokeOptions{
		OnlyIfGrantedByRole: true,
		OverrideSystemFixed: overrideSystemFixed,
	}, user)

	for _, appOp := range r.AppOps {
		if util.Contains(keptAppOps, appOp.Name) {
			continue
		}
		if appOp.Revoke(env.Permissions, packageName, user) {
			changed = true
		}
	}

	r.behavior().Revoke(r, env, packageName, user)

	if changed && !dontKillApp {
		env.ActivityManager.ForceStop(packageName, user, "revoked role "+r.Name)
	}
	return changed
}

func (r *Role) otherRolesHeldBy(env *Environment, packageName string, user types.UserHandle) []*Role {
	if env.Holders == nil || env.Roles == nil {
		return nil
	}
	var roles []*Role
	for _, name := range env.Holders.RolesHeldBy(packageName, user) {
		if name == r.Name {
			continue
		}
		other, err := env.Roles.Get(name)
		if err != nil {
			log.Warn().Msgf("%s holds unknown role %s", packageName, name)
			continue
		}
		roles = append(roles, other)
	}
	return roles
}

func (r *Role) OnHolderSelectedAsUser(env *Environment, packageName string, user types.UserHandle) {
	r.behavior().OnHolderSelectedAsUser(r, env, packageName, user)
}

func (r *Role) OnHolderChangedAsUser(env *Environment, user types.UserHandle) {
	r.behavior().OnHolderChangedAsUser(r, env, user)
}

// endregion Grant
