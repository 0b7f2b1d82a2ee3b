package packagemanager

import (
	"sort"
	"sync"

	"github.com/sephiroth74/go_permission_controller/types"
)

// PreferredActivity is a preferred activity recorded by ReplacePreferredActivity
type PreferredActivity struct {
	Filter   types.IntentFilter
	Activity types.ComponentName
}

type memoryComponent struct {
	kind                ComponentKind
	info                types.ComponentInfo
	filters             []types.IntentFilter
	handleAllWebDataURI bool
}

type memoryPackage struct {
	info       types.PackageInfo
	grants     map[string]bool
	flags      map[string]types.PermissionFlags
	appOps     map[string]types.AppOpMode
	components []memoryComponent
}

// MemoryPackageManager is a thread safe, in memory PackageManager
type MemoryPackageManager struct {
	mu sync.RWMutex

	permissions     map[string]types.PermissionInfo
	groups          []types.PermissionGroupInfo
	splits          []types.SplitPermissionInfo
	opByPermission  map[string]string
	permissionByOp  map[string]string
	defaultModes    map[string]types.AppOpMode
	packages        map[types.UserPackage]*memoryPackage
	factoryPackages map[string]types.PackageInfo
	preferred       map[types.UserHandle][]PreferredActivity
}

func NewMemoryPackageManager() *MemoryPackageManager {
	return &MemoryPackageManager{
		permissions:     make(map[string]types.PermissionInfo),
		opByPermission:  make(map[string]string),
		permissionByOp:  make(map[string]string),
		defaultModes:    make(map[string]types.AppOpMode),
		packages:        make(map[types.UserPackage]*memoryPackage),
		factoryPackages: make(map[string]types.PackageInfo),
		preferred:       make(map[types.UserHandle][]PreferredActivity),
	}
}

// region Setup

func (m *MemoryPackageManager) AddPermissionGroup(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.groups {
		if g.Name == name {
			return
		}
	}
	m.groups = append(m.groups, types.PermissionGroupInfo{Name: name})
}

func (m *MemoryPackageManager) AddPermission(info types.PermissionInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.permissions[info.Name] = info
}

func (m *MemoryPackageManager) AddSplitPermission(split types.SplitPermissionInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.splits = append(m.splits, split)
}

// AddAppOp registers an app op with its default mode, permission can be empty for
// app ops without an associated permission
func (m *MemoryPackageManager) AddAppOp(op string, permission string, defaultMode types.AppOpMode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultModes[op] = defaultMode
	if permission != "" {
		m.opByPermission[permission] = op
		m.permissionByOp[op] = permission
	}
}

func (m *MemoryPackageManager) InstallPackage(info types.PackageInfo, user types.UserHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := types.NewUserPackage(info.PackageName, user)
	if existing, ok := m.packages[key]; ok {
		existing.info = info
		return
	}
	m.packages[key] = &memoryPackage{
		info:   info,
		grants: make(map[string]bool),
		flags:  make(map[string]types.PermissionFlags),
		appOps: make(map[string]types.AppOpMode),
	}
}

func (m *MemoryPackageManager) SetFactoryPackage(info types.PackageInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.factoryPackages[info.PackageName] = info
}

func (m *MemoryPackageManager) UninstallPackage(packageName string, user types.UserHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.packages, types.NewUserPackage(packageName, user))
}

// AddComponent declares a component of an installed package
func (m *MemoryPackageManager) AddComponent(user types.UserHandle, kind ComponentKind, info types.ComponentInfo, handleAllWebDataURI bool, filters ...types.IntentFilter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pkg, ok := m.packages[types.NewUserPackage(info.PackageName, user)]
	if !ok {
		return
	}
	pkg.components = append(pkg.components, memoryComponent{
		kind:                kind,
		info:                info,
		filters:             filters,
		handleAllWebDataURI: handleAllWebDataURI,
	})
}

func (m *MemoryPackageManager) PreferredActivities(user types.UserHandle) []PreferredActivity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]PreferredActivity(nil), m.preferred[user]...)
}

// endregion Setup

// region Packages

func (m *MemoryPackageManager) PackageInfo(packageName string, user types.UserHandle) (*types.PackageInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pkg, ok := m.packages[types.NewUserPackage(packageName, user)]
	if !ok {
		return nil, NameNotFoundError(packageName)
	}
	info := pkg.info
	info.RequestedPermissions = append([]string(nil), pkg.info.RequestedPermissions...)
	return &info, nil
}

func (m *MemoryPackageManager) FactoryPackageInfo(packageName string, user types.UserHandle) (*types.PackageInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.factoryPackages[packageName]
	if !ok {
		return nil, NameNotFoundError(packageName)
	}
	info.RequestedPermissions = append([]string(nil), info.RequestedPermissions...)
	return &info, nil
}

func (m *MemoryPackageManager) InstalledPackages(user types.UserHandle) []types.PackageInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []types.PackageInfo
	for _, pkg := range m.sortedPackages(user) {
		result = append(result, pkg.info)
	}
	return result
}

func (m *MemoryPackageManager) sortedPackages(user types.UserHandle) []*memoryPackage {
	var result []*memoryPackage
	for key, pkg := range m.packages {
		if key.User == user {
			result = append(result, pkg)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].info.PackageName < result[j].info.PackageName
	})
	return result
}

// endregion Packages

// region Permissions

func (m *MemoryPackageManager) PermissionInfo(permission string) (*types.PermissionInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.permissions[permission]
	if !ok {
		return nil, NameNotFoundError(permission)
	}
	return &info, nil
}

func (m *MemoryPackageManager) PermissionGroups() []types.PermissionGroupInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]types.PermissionGroupInfo(nil), m.groups...)
}

func (m *MemoryPackageManager) PermissionsByGroup(group string) []types.PermissionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []types.PermissionInfo
	for _, info := range m.permissions {
		if info.Group == group {
			result = append(result, info)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

func (m *MemoryPackageManager) SplitPermissions() []types.SplitPermissionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]types.SplitPermissionInfo(nil), m.splits...)
}

func (m *MemoryPackageManager) IsGranted(packageName string, permission string, user types.UserHandle) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pkg, ok := m.packages[types.NewUserPackage(packageName, user)]
	if !ok {
		return false
	}
	if !pkg.info.IsRequested(permission) {
		return false
	}
	if info, ok := m.permissions[permission]; ok && !info.IsRuntime() {
		return true
	}
	if pkg.info.TargetSdkVersion < types.SdkM {
		// legacy apps hold all their permissions since install, app ops gate the access
		return true
	}
	return pkg.grants[permission]
}

func (m *MemoryPackageManager) Flags(packageName string, permission string, user types.UserHandle) types.PermissionFlags {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pkg, ok := m.packages[types.NewUserPackage(packageName, user)]
	if !ok {
		return types.FlagNone
	}
	return pkg.flags[permission]
}

func (m *MemoryPackageManager) SetFlags(packageName string, permission string, flags types.PermissionFlags, mask types.PermissionFlags, user types.UserHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pkg, ok := m.packages[types.NewUserPackage(packageName, user)]
	if !ok {
		return
	}
	pkg.flags[permission] = pkg.flags[permission].Apply(flags, mask)
}

func (m *MemoryPackageManager) Grant(packageName string, permission string, user types.UserHandle) {
	m.setGranted(packageName, permission, true, user)
}

func (m *MemoryPackageManager) Revoke(packageName string, permission string, user types.UserHandle) {
	m.setGranted(packageName, permission, false, user)
}

func (m *MemoryPackageManager) setGranted(packageName string, permission string, granted bool, user types.UserHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pkg, ok := m.packages[types.NewUserPackage(packageName, user)]
	if !ok || !pkg.info.IsRequested(permission) {
		return
	}
	pkg.grants[permission] = granted
}

// endregion Permissions

// region AppOps

func (m *MemoryPackageManager) AppOpMode(packageName string, op string, user types.UserHandle) (types.AppOpMode, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pkg, ok := m.packages[types.NewUserPackage(packageName, user)]
	if !ok {
		return types.ModeDefault, false
	}
	if mode, ok := pkg.appOps[op]; ok {
		return mode, true
	}
	return m.defaultModeLocked(op), true
}

func (m *MemoryPackageManager) SetAppOpMode(packageName string, op string, mode types.AppOpMode, user types.UserHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pkg, ok := m.packages[types.NewUserPackage(packageName, user)]
	if !ok {
		return
	}
	pkg.appOps[op] = mode
}

func (m *MemoryPackageManager) DefaultModeFor(op string) types.AppOpMode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaultModeLocked(op)
}

func (m *MemoryPackageManager) defaultModeLocked(op string) types.AppOpMode {
	if mode, ok := m.defaultModes[op]; ok {
		return mode
	}
	return types.ModeAllowed
}

func (m *MemoryPackageManager) OpForPermission(permission string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.opByPermission[permission]
}

func (m *MemoryPackageManager) PermissionForOp(op string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.permissionByOp[op]
}

// endregion AppOps

// region Intents

func (m *MemoryPackageManager) QueryIntentActivities(intent types.Intent, flags QueryFlags, user types.UserHandle) []types.ResolveInfo {
	return m.query(ComponentActivity, intent, flags, user)
}

func (m *MemoryPackageManager) QueryIntentServices(intent types.Intent, flags QueryFlags, user types.UserHandle) []types.ResolveInfo {
	return m.query(ComponentService, intent, flags, user)
}

func (m *MemoryPackageManager) QueryIntentContentProviders(intent types.Intent, flags QueryFlags, user types.UserHandle) []types.ResolveInfo {
	return m.query(ComponentProvider, intent, flags, user)
}

func (m *MemoryPackageManager) QueryBroadcastReceivers(intent types.Intent, flags QueryFlags, user types.UserHandle) []types.ResolveInfo {
	return m.query(ComponentReceiver, intent, flags, user)
}

func (m *MemoryPackageManager) ReplacePreferredActivity(filter types.IntentFilter, activity types.ComponentName, user types.UserHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []PreferredActivity
	for _, p := range m.preferred[user] {
		if !sameFilter(p.Filter, filter) {
			kept = append(kept, p)
		}
	}
	m.preferred[user] = append(kept, PreferredActivity{Filter: filter, Activity: activity})
}

// query returns the matching components sorted by decreasing priority. Packages are
// visited in name order so results with the same priority are stable.
func (m *MemoryPackageManager) query(kind ComponentKind, intent types.Intent, flags QueryFlags, user types.UserHandle) []types.ResolveInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []types.ResolveInfo
	for _, pkg := range m.sortedPackages(user) {
		if !pkg.info.Enabled {
			continue
		}
		if intent.Package != "" && intent.Package != pkg.info.PackageName {
			continue
		}
		if flags.Has(MatchSystemOnly) && !pkg.info.System {
			continue
		}
		for _, component := range pkg.components {
			if component.kind != kind {
				continue
			}
			if intent.Component != nil && *intent.Component != component.info.ComponentName() {
				continue
			}
			for i := range component.filters {
				filter := component.filters[i]
				if !filter.Match(intent) {
					continue
				}
				info := component.info
				info.MetaData = nil
				if flags.Has(GetMetaData) && component.info.MetaData != nil {
					info.MetaData = make(map[string]string, len(component.info.MetaData))
					for k, v := range component.info.MetaData {
						info.MetaData[k] = v
					}
				}
				ri := types.ResolveInfo{
					Filter:              &filter,
					Priority:            filter.Priority,
					HandleAllWebDataURI: component.handleAllWebDataURI,
					System:              pkg.info.System,
				}
				switch kind {
				case ComponentService:
					ri.ServiceInfo = &info
				case ComponentProvider:
					ri.ProviderInfo = &info
				default:
					ri.ActivityInfo = &info
				}
				result = append(result, ri)
				break
			}
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Priority > result[j].Priority
	})
	return result
}

func sameFilter(a types.IntentFilter, b types.IntentFilter) bool {
	return equalStrings(a.Actions, b.Actions) && equalStrings(a.Categories, b.Categories) &&
		equalStrings(a.DataSchemes, b.DataSchemes) && equalStrings(a.DataTypes, b.DataTypes)
}

func equalStrings(a []string, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// endregion Intents
