package role

import (
	"sort"

	"github.com/sephiroth74/go_permission_controller/types"
)

// Behavior overrides parts of a role which cannot be expressed by its definition,
// embed BaseBehavior to only override some hooks
type Behavior interface {
	Name() string
	IsAvailableAsUser(role *Role, env *Environment, user types.UserHandle) bool
	IsVisibleAsUser(role *Role, env *Environment, user types.UserHandle) bool
	// DefaultHolders returns ok false to use the default holders of the definition
	DefaultHolders(role *Role, env *Environment, user types.UserHandle) (holders []string, ok bool)
	FallbackHolder(role *Role, env *Environment, user types.UserHandle) string
	ConfirmationMessage(role *Role, env *Environment, packageName string) string
	// QualifyingPackagesAsUser returns ok false to match the required components
	QualifyingPackagesAsUser(role *Role, env *Environment, user types.UserHandle) (packages []string, ok bool)
	IsPackageQualified(role *Role, env *Environment, packageName string, user types.UserHandle) (qualified bool, ok bool)
	Grant(role *Role, env *Environment, packageName string, user types.UserHandle)
	Revoke(role *Role, env *Environment, packageName string, user types.UserHandle)
	OnHolderSelectedAsUser(role *Role, env *Environment, packageName string, user types.UserHandle)
	OnHolderChangedAsUser(role *Role, env *Environment, user types.UserHandle)
}

type BaseBehavior struct{}

func (BaseBehavior) Name() string {
	return ""
}

func (BaseBehavior) IsAvailableAsUser(role *Role, env *Environment, user types.UserHandle) bool {
	return true
}

func (BaseBehavior) IsVisibleAsUser(role *Role, env *Environment, user types.UserHandle) bool {
	return true
}

func (BaseBehavior) DefaultHolders(role *Role, env *Environment, user types.UserHandle) ([]string, bool) {
	return nil, false
}

func (BaseBehavior) FallbackHolder(role *Role, env *Environment, user types.UserHandle) string {
	return ""
}

func (BaseBehavior) ConfirmationMessage(role *Role, env *Environment, packageName string) string {
	return ""
}

func (BaseBehavior) QualifyingPackagesAsUser(role *Role, env *Environment, user types.UserHandle) ([]string, bool) {
	return nil, false
}

func (BaseBehavior) IsPackageQualified(role *Role, env *Environment, packageName string, user types.UserHandle) (bool, bool) {
	return false, false
}

func (BaseBehavior) Grant(role *Role, env *Environment, packageName string, user types.UserHandle) {}

func (BaseBehavior) Revoke(role *Role, env *Environment, packageName string, user types.UserHandle) {}

func (BaseBehavior) OnHolderSelectedAsUser(role *Role, env *Environment, packageName string, user types.UserHandle) {
}

func (BaseBehavior) OnHolderChangedAsUser(role *Role, env *Environment, user types.UserHandle) {}

var behaviors = map[string]func() Behavior{
	"AssistantRoleBehavior":          func() Behavior { return AssistantRoleBehavior{} },
	"BrowserRoleBehavior":            func() Behavior { return BrowserRoleBehavior{} },
	"CallRedirectionRoleBehavior":    func() Behavior { return CallRedirectionRoleBehavior{} },
	"CallScreeningRoleBehavior":      func() Behavior { return CallScreeningRoleBehavior{} },
	"DialerRoleBehavior":             func() Behavior { return DialerRoleBehavior{} },
	"EmergencyRoleBehavior":          func() Behavior { return EmergencyRoleBehavior{} },
	"HomeRoleBehavior":               func() Behavior { return HomeRoleBehavior{} },
	"SmsRoleBehavior":                func() Behavior { return SmsRoleBehavior{} },
	"TemporarySmsAccessRoleBehavior": func() Behavior { return TemporarySmsAccessRoleBehavior{} },
}

// NewBehavior returns the behavior registered with the name, ok is false for unknown names
func NewBehavior(name string) (Behavior, bool) {
	factory, ok := behaviors[name]
	if !ok {
		return nil, false
	}
	return factory(), true
}

func BehaviorNames() []string {
	names := make([]string, 0, len(behaviors))
	for name := range behaviors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
