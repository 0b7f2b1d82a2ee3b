package role

import (
	"github.com/alecthomas/repr"

	"github.com/sephiroth74/go_permission_controller/packagemanager"
	"github.com/sephiroth74/go_permission_controller/types"
)

// RequiredMetaData is a meta-data entry a qualifying component must declare
type RequiredMetaData struct {
	Name  string
	Value string
	// Optional lets a component without the entry qualify
	Optional bool
}

func (m RequiredMetaData) isSatisfiedBy(metaData map[string]string) bool {
	value, ok := metaData[m.Name]
	if !ok {
		return m.Optional
	}
	return value == m.Value
}

// RequiredComponent is a component a package must declare to qualify for a role
type RequiredComponent struct {
	Kind             packagemanager.ComponentKind
	IntentFilterData types.IntentFilterData
	// Permission the component must be protected with, empty if none
	Permission string
	MetaData   []RequiredMetaData
}

func (c RequiredComponent) String() string {
	return repr.String(c)
}

type componentStrategy struct {
	query func(pm packagemanager.PackageManager, intent types.Intent, flags packagemanager.QueryFlags, user types.UserHandle) []types.ResolveInfo
	info  func(ri types.ResolveInfo) *types.ComponentInfo
}

var componentStrategies = map[packagemanager.ComponentKind]componentStrategy{
	packagemanager.ComponentActivity: {
		query: packagemanager.PackageManager.QueryIntentActivities,
		info:  func(ri types.ResolveInfo) *types.ComponentInfo { return ri.ActivityInfo },
	},
	packagemanager.ComponentService: {
		query: packagemanager.PackageManager.QueryIntentServices,
		info:  func(ri types.ResolveInfo) *types.ComponentInfo { return ri.ServiceInfo },
	},
	packagemanager.ComponentProvider: {
		query: packagemanager.PackageManager.QueryIntentContentProviders,
		info:  func(ri types.ResolveInfo) *types.ComponentInfo { return ri.ProviderInfo },
	},
	packagemanager.ComponentReceiver: {
		query: packagemanager.PackageManager.QueryBroadcastReceivers,
		info:  func(ri types.ResolveInfo) *types.ComponentInfo { return ri.ActivityInfo },
	},
}

// QualifyingComponentsAsUser returns the qualifying components of all the packages,
// at most one per package, best match first
func (c RequiredComponent) QualifyingComponentsAsUser(pm packagemanager.PackageManager, user types.UserHandle) []types.ComponentName {
	return c.qualifyingComponents(pm, "", user)
}

// QualifyingComponentForPackage returns the best qualifying component of the package, nil if none
func (c RequiredComponent) QualifyingComponentForPackage(pm packagemanager.PackageManager, packageName string, user types.UserHandle) *types.ComponentName {
	components := c.qualifyingComponents(pm, packageName, user)
	if len(components) == 0 {
		return nil
	}
	return &components[0]
}

func (c RequiredComponent) qualifyingComponents(pm packagemanager.PackageManager, packageName string, user types.UserHandle) []types.ComponentName {
	intent := c.IntentFilterData.CreateIntent()
	if packageName != "" {
		intent.SetPackage(packageName)
	}
	flags := packagemanager.MatchDirectBootAware | packagemanager.MatchDirectBootUnaware
	if len(c.MetaData) > 0 {
		flags |= packagemanager.GetMetaData
	}

	strategy, ok := componentStrategies[c.Kind]
	if !ok {
		log.Error().Msgf("unknown component kind %d", c.Kind)
		return nil
	}

	var components []types.ComponentName
	seen := make(map[string]bool)
	for _, ri := range strategy.query(pm, *intent, flags, user) {
		info := strategy.info(ri)
		if info == nil || seen[info.PackageName] {
			continue
		}
		if c.Permission != "" && info.Permission != c.Permission {
			continue
		}
		if !c.metaDataSatisfied(info.MetaData) {
			continue
		}
		seen[info.PackageName] = true
		components = append(components, info.ComponentName())
	}
	return components
}

func (c RequiredComponent) metaDataSatisfied(metaData map[string]string) bool {
	for _, m := range c.MetaData {
		if !m.isSatisfiedBy(metaData) {
			return false
		}
	}
	return true
}

func (c RequiredComponent) equal(other RequiredComponent) bool {
	if c.Kind != other.Kind || c.Permission != other.Permission || !equalFilterData(c.IntentFilterData, other.IntentFilterData) {
		return false
	}
	if len(c.MetaData) != len(other.MetaData) {
		return false
	}
	for i := range c.MetaData {
		if c.MetaData[i] != other.MetaData[i] {
			return false
		}
	}
	return true
}

func equalFilterData(a types.IntentFilterData, b types.IntentFilterData) bool {
	if a.Action != b.Action || a.DataScheme != b.DataScheme || a.DataType != b.DataType || len(a.Categories) != len(b.Categories) {
		return false
	}
	for i := range a.Categories {
		if a.Categories[i] != b.Categories[i] {
			return false
		}
	}
	return true
}
