package events

import (
	"github.com/alecthomas/repr"

	"github.com/sephiroth74/go_permission_controller/types"
)

type ControllerEvent struct {
	Event EventType
	Item  interface{}
}

func (e ControllerEvent) String() string {
	return repr.String(e)
}

type EventType string

const (
	RoleHoldersChanged        EventType = "RoleHoldersChanged"
	OneTimePermissionsRevoked EventType = "OneTimePermissionsRevoked"
	BootCompleted             EventType = "BootCompleted"
	PackageReset              EventType = "PackageReset"
	PackageRemoved            EventType = "PackageRemoved"
)

// RoleHolders is the item of RoleHoldersChanged
type RoleHolders struct {
	RoleName string
	User     types.UserHandle
	Holders  []string
}

// Revoked is the item of OneTimePermissionsRevoked
type Revoked struct {
	User  types.UserHandle
	Count int
}
