package types

import (
	"fmt"
	"strings"
)

// region PermissionFlags

// PermissionFlags is the per (package, permission) flag bitset kept by the permission store
type PermissionFlags uint32

const (
	FlagUserSet PermissionFlags = 1 << iota
	FlagUserFixed
	FlagPolicyFixed
	FlagRevokeWhenRequested
	FlagSystemFixed
	FlagGrantedByDefault
	FlagReviewRequired
	FlagGrantedByRole

	FlagNone PermissionFlags = 0
)

var permissionFlagNames = []Pair[PermissionFlags, string]{
	{First: FlagUserSet, Second: "USER_SET"},
	{First: FlagUserFixed, Second: "USER_FIXED"},
	{First: FlagPolicyFixed, Second: "POLICY_FIXED"},
	{First: FlagRevokeWhenRequested, Second: "REVOKE_WHEN_REQUESTED"},
	{First: FlagSystemFixed, Second: "SYSTEM_FIXED"},
	{First: FlagGrantedByDefault, Second: "GRANTED_BY_DEFAULT"},
	{First: FlagReviewRequired, Second: "REVIEW_REQUIRED"},
	{First: FlagGrantedByRole, Second: "GRANTED_BY_ROLE"},
}

func (f PermissionFlags) Has(flags PermissionFlags) bool {
	return f&flags == flags
}

func (f PermissionFlags) HasAny(flags PermissionFlags) bool {
	return f&flags != 0
}

// Apply returns f with the bits selected by mask replaced by the ones in flags
func (f PermissionFlags) Apply(flags PermissionFlags, mask PermissionFlags) PermissionFlags {
	return (f &^ mask) | (flags & mask)
}

func (f PermissionFlags) String() string {
	var names []string
	for _, p := range permissionFlagNames {
		if f&p.First != 0 {
			names = append(names, p.Second)
		}
	}
	return strings.Join(names, "|")
}

// ParsePermissionFlags parses the "|" separated flag names printed by dumpsys.
// Unknown names are returned as an error, the known ones are still set.
func ParsePermissionFlags(value string) (PermissionFlags, error) {
	var flags PermissionFlags
	var unknown []string
	for _, name := range strings.Split(value, "|") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		found := false
		for _, p := range permissionFlagNames {
			if p.Second == name {
				flags |= p.First
				found = true
				break
			}
		}
		if !found {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		return flags, fmt.Errorf("unknown permission flags: %s", strings.Join(unknown, ", "))
	}
	return flags, nil
}

// endregion PermissionFlags

// region Permission

type Permission struct {
	Name string
}

// endregion Permission

// region RequestedPermission

type RequestedPermission struct {
	Permission
}

func (r RequestedPermission) String() string {
	return fmt.Sprintf("RequestedPermission{Name:%s}", r.Name)
}

// endregion RequestedPermission

// region PackagePermission

type PackagePermission struct {
	Permission
	Granted bool
	Flags   PermissionFlags
}

func (r PackagePermission) String() string {
	return fmt.Sprintf("PackagePermission{Name:%s, Granted:%t, Flags:%s}", r.Name, r.Granted, r.Flags)
}

// endregion PackagePermission

// region PermissionInfo

type ProtectionLevel int

const (
	ProtectionNormal    ProtectionLevel = 0
	ProtectionDangerous ProtectionLevel = 1
	ProtectionSignature ProtectionLevel = 2
)

// PermissionInfo describes a permission declared on the device
type PermissionInfo struct {
	Name  string
	Group string
	// BackgroundPermission is the permission which, when granted together with this
	// one, allows access while the app is in background
	BackgroundPermission string
	Protection           ProtectionLevel
	// UserSensitive is false for permissions whose grants are not shown to the user
	UserSensitive bool
}

func (p PermissionInfo) IsRuntime() bool {
	return p.Protection == ProtectionDangerous
}

type PermissionGroupInfo struct {
	Name string
}

// SplitPermissionInfo declares that apps targeting an SDK lower than TargetSdk and
// requesting SplitPermission implicitly request NewPermissions too
type SplitPermissionInfo struct {
	SplitPermission string
	NewPermissions  []string
	TargetSdk       int
}

// endregion PermissionInfo
