package packagemanager_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sephiroth74/go_permission_controller/packagemanager"
	"github.com/sephiroth74/go_permission_controller/types"
)

const user = types.UserSystem

const fixture = `
platform: true
permissions:
  - name: com.example.permission.TRACK
    group: com.example.permission-group.TRACKING
    dangerous: true
    app_op: com.example:track
    app_op_default: ignored
packages:
  - name: com.example.viewer
    label: Viewer
    target_sdk: 29
    permissions: [android.permission.CAMERA, com.example.permission.TRACK]
    granted: [android.permission.CAMERA]
    components:
      - kind: activity
        name: .View
        filters:
          - actions: [android.intent.action.VIEW]
            categories: [android.intent.category.DEFAULT]
            schemes: [https]
            priority: 10
  - name: com.example.system.viewer
    target_sdk: 29
    updated_system: true
    factory_permissions: [android.permission.CAMERA]
    first_install: "2021-03-04T05:06:07Z"
    components:
      - kind: activity
        name: .View
        meta_data:
          com.example.meta: "yes"
        filters:
          - actions: [android.intent.action.VIEW]
            schemes: [https]
  - name: com.example.disabled
    target_sdk: 29
    disabled: true
    components:
      - kind: activity
        name: .View
        filters:
          - actions: [android.intent.action.VIEW]
            schemes: [https]
  - name: com.example.legacy
    target_sdk: 22
    permissions: [android.permission.READ_CONTACTS]
`

const dumpsys = `Activity Resolver Table:
  Non-Data Actions:

Packages:
  Package [com.example.imported] (1b2c3d4):
    userId=10123
    versionCode=42 minSdk=21 targetSdk=29
    versionName=1.2.3
    flags=[ SYSTEM HAS_CODE ALLOW_CLEAR_USER_DATA ]
    requested permissions:
      android.permission.CAMERA
      android.permission.READ_CONTACTS
      android.permission.INTERNET
    install permissions:
      android.permission.INTERNET: granted=true
    User 0: ceDataInode=1 installed=true hidden=false
      runtime permissions:
        android.permission.CAMERA: granted=true, flags=[ USER_SET ]
        android.permission.READ_CONTACTS: granted=false, flags=[ USER_SET|USER_FIXED ]

Queries:
`

func newPackageManager(t *testing.T) *packagemanager.MemoryPackageManager {
	pm, err := packagemanager.LoadFixture([]byte(fixture))
	require.NoError(t, err)
	return pm
}

func TestLoadFixture(t *testing.T) {
	pm := newPackageManager(t)

	info, err := pm.PackageInfo("com.example.viewer", user)
	require.NoError(t, err)
	assert.Equal(t, "Viewer", info.Label)
	assert.True(t, info.Enabled)
	assert.True(t, info.IsRequested("com.example.permission.TRACK"))

	assert.True(t, pm.IsGranted("com.example.viewer", packagemanager.PermissionCamera, user))
	assert.False(t, pm.IsGranted("com.example.viewer", "com.example.permission.TRACK", user))

	permission, err := pm.PermissionInfo("com.example.permission.TRACK")
	require.NoError(t, err)
	assert.True(t, permission.IsRuntime())
	assert.True(t, permission.UserSensitive)
	assert.Equal(t, "com.example:track", pm.OpForPermission("com.example.permission.TRACK"))
	assert.Equal(t, "com.example.permission.TRACK", pm.PermissionForOp("com.example:track"))
	assert.Equal(t, types.ModeIgnored, pm.DefaultModeFor("com.example:track"))
	assert.Len(t, pm.PermissionsByGroup(packagemanager.GroupLocation), 3)

	system, err := pm.PackageInfo("com.example.system.viewer", user)
	require.NoError(t, err)
	assert.True(t, system.System)
	assert.True(t, system.UpdatedSystemApp)
	assert.Equal(t, 2021, system.FirstInstallTime.Year())
	factory, err := pm.FactoryPackageInfo("com.example.system.viewer", user)
	require.NoError(t, err)
	assert.False(t, factory.UpdatedSystemApp)
	assert.Equal(t, []string{packagemanager.PermissionCamera}, factory.RequestedPermissions)

	var names []string
	for _, p := range pm.InstalledPackages(user) {
		names = append(names, p.PackageName)
	}
	assert.Equal(t, []string{"com.example.disabled", "com.example.legacy", "com.example.system.viewer", "com.example.viewer"}, names)
}

func TestInvalidFixture(t *testing.T) {
	_, err := packagemanager.LoadFixture([]byte(`packages: [{name: a, components: [{kind: widget}]}]`))
	assert.Error(t, err)
	_, err = packagemanager.LoadFixture([]byte(`packages: [{name: a, first_install: yesterday}]`))
	assert.Error(t, err)
	_, err = packagemanager.LoadFixture([]byte(`permissions: [{name: a, app_op: x, app_op_default: maybe}]`))
	assert.Error(t, err)

	_, err = packagemanager.LoadFixtureFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "does not exist")
}

func TestLoadFixtureFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fixture), 0o600))
	pm, err := packagemanager.LoadFixtureFile(path)
	require.NoError(t, err)
	assert.Len(t, pm.InstalledPackages(user), 4)
}

func TestUnknownNames(t *testing.T) {
	pm := newPackageManager(t)
	_, err := pm.PackageInfo("com.example.missing", user)
	assert.ErrorIs(t, err, packagemanager.ErrNameNotFound)
	_, err = pm.PackageInfo("com.example.viewer", 10)
	assert.ErrorIs(t, err, packagemanager.ErrNameNotFound)
	_, err = pm.PermissionInfo("com.example.permission.NOPE")
	assert.ErrorIs(t, err, packagemanager.ErrNameNotFound)

	_, ok := pm.AppOpMode("com.example.missing", types.OpCamera, user)
	assert.False(t, ok)
	assert.Equal(t, types.FlagNone, pm.Flags("com.example.missing", packagemanager.PermissionCamera, user))
	assert.False(t, pm.IsGranted("com.example.missing", packagemanager.PermissionCamera, user))
}

func TestLegacyPackagesHoldRequestedPermissions(t *testing.T) {
	pm := newPackageManager(t)
	assert.True(t, pm.IsGranted("com.example.legacy", packagemanager.PermissionReadContacts, user))
	assert.False(t, pm.IsGranted("com.example.legacy", packagemanager.PermissionCamera, user), "not requested")
}

func TestGrantRequiresRequest(t *testing.T) {
	pm := newPackageManager(t)
	pm.Grant("com.example.viewer", packagemanager.PermissionReadSms, user)
	assert.False(t, pm.IsGranted("com.example.viewer", packagemanager.PermissionReadSms, user))

	pm.Revoke("com.example.viewer", packagemanager.PermissionCamera, user)
	assert.False(t, pm.IsGranted("com.example.viewer", packagemanager.PermissionCamera, user))

	pm.SetFlags("com.example.viewer", packagemanager.PermissionCamera, types.FlagUserSet|types.FlagUserFixed, types.FlagUserSet|types.FlagUserFixed, user)
	pm.SetFlags("com.example.viewer", packagemanager.PermissionCamera, types.FlagNone, types.FlagUserFixed, user)
	assert.Equal(t, types.FlagUserSet, pm.Flags("com.example.viewer", packagemanager.PermissionCamera, user))

	mode, ok := pm.AppOpMode("com.example.viewer", types.OpCamera, user)
	assert.True(t, ok)
	assert.Equal(t, types.ModeAllowed, mode)
	pm.SetAppOpMode("com.example.viewer", types.OpCamera, types.ModeIgnored, user)
	mode, _ = pm.AppOpMode("com.example.viewer", types.OpCamera, user)
	assert.Equal(t, types.ModeIgnored, mode)
}

func TestQueryIntentActivities(t *testing.T) {
	pm := newPackageManager(t)
	intent := types.NewIntent(types.ActionView)
	intent.Data = "https://example.com"

	resolved := pm.QueryIntentActivities(*intent, 0, user)
	require.Len(t, resolved, 2, "disabled packages are skipped")
	assert.Equal(t, "com.example.viewer", resolved[0].ActivityInfo.PackageName, "higher priority first")
	assert.Equal(t, 10, resolved[0].Priority)
	assert.Nil(t, resolved[1].ActivityInfo.MetaData)

	resolved = pm.QueryIntentActivities(*intent, packagemanager.MatchSystemOnly|packagemanager.GetMetaData, user)
	require.Len(t, resolved, 1)
	assert.Equal(t, "com.example.system.viewer", resolved[0].ActivityInfo.PackageName)
	assert.Equal(t, "yes", resolved[0].ActivityInfo.MetaData["com.example.meta"])
	assert.True(t, resolved[0].System)

	intent.SetPackage("com.example.viewer")
	assert.Len(t, pm.QueryIntentActivities(*intent, 0, user), 1)
	assert.Empty(t, pm.QueryIntentServices(*intent, 0, user))

	intent = types.NewIntent(types.ActionView)
	intent.Data = "http://example.com"
	assert.Empty(t, pm.QueryIntentActivities(*intent, 0, user))
}

func TestReplacePreferredActivity(t *testing.T) {
	pm := newPackageManager(t)
	filter := types.IntentFilter{Actions: []string{types.ActionView}, DataSchemes: []string{"https"}}
	first := types.ComponentName{PackageName: "com.example.viewer", ClassName: ".View"}
	second := types.ComponentName{PackageName: "com.example.system.viewer", ClassName: ".View"}

	pm.ReplacePreferredActivity(filter, first, user)
	pm.ReplacePreferredActivity(types.IntentFilter{Actions: []string{types.ActionDial}}, first, user)
	pm.ReplacePreferredActivity(filter, second, user)

	preferred := pm.PreferredActivities(user)
	require.Len(t, preferred, 2)
	assert.Equal(t, first, preferred[0].Activity)
	assert.Equal(t, second, preferred[1].Activity)
	assert.Empty(t, pm.PreferredActivities(10))
}

func TestImportDumpsys(t *testing.T) {
	pm := newPackageManager(t)
	name, err := packagemanager.ImportDumpsys(pm, dumpsys, user)
	require.NoError(t, err)
	assert.Equal(t, "com.example.imported", name)

	info, err := pm.PackageInfo(name, user)
	require.NoError(t, err)
	assert.Equal(t, 29, info.TargetSdkVersion)
	assert.True(t, info.System)
	assert.Equal(t, []string{packagemanager.PermissionCamera, packagemanager.PermissionReadContacts, "android.permission.INTERNET"}, info.RequestedPermissions)

	assert.True(t, pm.IsGranted(name, packagemanager.PermissionCamera, user))
	assert.Equal(t, types.FlagUserSet, pm.Flags(name, packagemanager.PermissionCamera, user))
	assert.False(t, pm.IsGranted(name, packagemanager.PermissionReadContacts, user))
	assert.Equal(t, types.FlagUserSet|types.FlagUserFixed, pm.Flags(name, packagemanager.PermissionReadContacts, user))

	_, err = packagemanager.ImportDumpsys(pm, "nothing here", user)
	assert.Error(t, err)
}

func TestPackageReader(t *testing.T) {
	reader := packagemanager.NewPackageReader(dumpsys)
	require.NotNil(t, reader)
	assert.Equal(t, "1.2.3", reader.VersionName())
	assert.Equal(t, []string{"SYSTEM", "HAS_CODE", "ALLOW_CLEAR_USER_DATA"}, reader.Flags())

	install := reader.InstallPermissions()
	require.Len(t, install, 1)
	assert.Equal(t, "android.permission.INTERNET", install[0].Name)
	assert.True(t, install[0].Granted)

	assert.Nil(t, packagemanager.NewPackageReader("Activity Resolver Table:\n"))
}
