package packagemanager

import (
	"errors"
	"fmt"

	"github.com/sephiroth74/go_permission_controller/types"
)

var ErrNameNotFound = errors.New("name not found")

// NameNotFoundError is returned when a package or permission lookup fails
func NameNotFoundError(name string) error {
	return fmt.Errorf("%w: %s", ErrNameNotFound, name)
}

type QueryFlags int

const (
	MatchDirectBootAware QueryFlags = 1 << iota
	MatchDirectBootUnaware
	GetMetaData
	MatchSystemOnly
)

func (f QueryFlags) Has(flag QueryFlags) bool {
	return f&flag == flag
}

type ComponentKind int

const (
	ComponentActivity ComponentKind = iota
	ComponentService
	ComponentProvider
	ComponentReceiver
)

var componentKindNames = map[ComponentKind]string{
	ComponentActivity: "activity",
	ComponentService:  "service",
	ComponentProvider: "provider",
	ComponentReceiver: "receiver",
}

func (k ComponentKind) String() string {
	return componentKindNames[k]
}

func ParseComponentKind(value string) (ComponentKind, error) {
	for kind, name := range componentKindNames {
		if name == value {
			return kind, nil
		}
	}
	return ComponentActivity, fmt.Errorf("unknown component kind: %q", value)
}

// PackageManager is the platform permission store together with the package and
// component queries the permission controller needs.
//
// Lookups of missing packages return an error wrapping ErrNameNotFound, mutations of
// missing packages are ignored.
type PackageManager interface {
	PackageInfo(packageName string, user types.UserHandle) (*types.PackageInfo, error)
	// FactoryPackageInfo returns the pre-update version of a system package
	FactoryPackageInfo(packageName string, user types.UserHandle) (*types.PackageInfo, error)
	InstalledPackages(user types.UserHandle) []types.PackageInfo

	PermissionInfo(permission string) (*types.PermissionInfo, error)
	PermissionGroups() []types.PermissionGroupInfo
	// PermissionsByGroup returns the permissions of a group, the empty group name
	// returns the permissions which belong to no group
	PermissionsByGroup(group string) []types.PermissionInfo
	SplitPermissions() []types.SplitPermissionInfo

	IsGranted(packageName string, permission string, user types.UserHandle) bool
	Flags(packageName string, permission string, user types.UserHandle) types.PermissionFlags
	SetFlags(packageName string, permission string, flags types.PermissionFlags, mask types.PermissionFlags, user types.UserHandle)
	Grant(packageName string, permission string, user types.UserHandle)
	Revoke(packageName string, permission string, user types.UserHandle)

	AppOpMode(packageName string, op string, user types.UserHandle) (types.AppOpMode, bool)
	SetAppOpMode(packageName string, op string, mode types.AppOpMode, user types.UserHandle)
	DefaultModeFor(op string) types.AppOpMode
	OpForPermission(permission string) string
	PermissionForOp(op string) string

	QueryIntentActivities(intent types.Intent, flags QueryFlags, user types.UserHandle) []types.ResolveInfo
	QueryIntentServices(intent types.Intent, flags QueryFlags, user types.UserHandle) []types.ResolveInfo
	QueryIntentContentProviders(intent types.Intent, flags QueryFlags, user types.UserHandle) []types.ResolveInfo
	QueryBroadcastReceivers(intent types.Intent, flags QueryFlags, user types.UserHandle) []types.ResolveInfo
	ReplacePreferredActivity(filter types.IntentFilter, activity types.ComponentName, user types.UserHandle)
}
