package role_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sephiroth74/go_permission_controller/activitymanager"
	"github.com/sephiroth74/go_permission_controller/config"
	"github.com/sephiroth74/go_permission_controller/packagemanager"
	"github.com/sephiroth74/go_permission_controller/permissions"
	"github.com/sephiroth74/go_permission_controller/role"
	"github.com/sephiroth74/go_permission_controller/types"
)

const user = types.UserSystem

const fixture = `
platform: true
packages:
  - name: com.example.browser.a
    target_sdk: 29
    components:
      - kind: activity
        name: .Main
        handle_all_web_data_uri: true
        filters:
          - actions: [android.intent.action.VIEW]
            categories: [android.intent.category.BROWSABLE, android.intent.category.DEFAULT]
            schemes: [http, https]
      - kind: activity
        name: .Incognito
        handle_all_web_data_uri: true
        filters:
          - actions: [android.intent.action.VIEW]
            categories: [android.intent.category.BROWSABLE]
            schemes: [http]
  - name: com.example.browser.b
    target_sdk: 29
    components:
      - kind: activity
        name: .Main
        filters:
          - actions: [android.intent.action.VIEW]
            categories: [android.intent.category.BROWSABLE]
            schemes: [http]
  - name: com.example.sms
    target_sdk: 29
    permissions:
      - android.permission.SEND_SMS
      - android.permission.RECEIVE_SMS
      - android.permission.READ_SMS
      - android.permission.RECEIVE_MMS
      - android.permission.READ_CONTACTS
    components:
      - kind: receiver
        name: .SmsReceiver
        permission: android.permission.BROADCAST_SMS
        filters:
          - actions: [android.provider.Telephony.SMS_DELIVER]
      - kind: receiver
        name: .MmsReceiver
        permission: android.permission.BROADCAST_WAP_PUSH
        filters:
          - actions: [android.provider.Telephony.WAP_PUSH_DELIVER]
            types: [application/vnd.wap.mms-message]
      - kind: service
        name: .RespondService
        permission: android.permission.SEND_RESPOND_VIA_MESSAGE
        filters:
          - actions: [android.intent.action.RESPOND_VIA_MESSAGE]
            schemes: [smsto]
      - kind: activity
        name: .Compose
        filters:
          - actions: [android.intent.action.SENDTO]
            schemes: [smsto, sms]
  - name: com.example.sms.partial
    target_sdk: 29
    components:
      - kind: activity
        name: .Compose
        filters:
          - actions: [android.intent.action.SENDTO]
            schemes: [smsto]
  - name: com.example.dialer
    target_sdk: 29
    system: true
    permissions:
      - android.permission.READ_PHONE_STATE
      - android.permission.CALL_PHONE
      - android.permission.READ_CALL_LOG
      - android.permission.WRITE_CALL_LOG
      - android.permission.READ_CONTACTS
      - android.permission.SEND_SMS
      - android.permission.RECEIVE_SMS
      - android.permission.READ_SMS
      - android.permission.RECEIVE_MMS
      - android.permission.RECORD_AUDIO
    components:
      - kind: activity
        name: .Dialer
        filters:
          - actions: [android.intent.action.DIAL]
          - actions: [android.intent.action.DIAL]
            schemes: [tel]
      - kind: service
        name: .InCall
        permission: android.permission.BIND_INCALL_SERVICE
        meta_data:
          android.telecom.IN_CALL_SERVICE_UI: "true"
        filters:
          - actions: [android.telecom.InCallService]
  - name: com.example.launcher
    target_sdk: 29
    system: true
    components:
      - kind: activity
        name: .Launcher
        filters:
          - actions: [android.intent.action.MAIN]
            categories: [android.intent.category.HOME, android.intent.category.DEFAULT]
  - name: com.example.launcher2
    target_sdk: 29
    components:
      - kind: activity
        name: .Launcher
        filters:
          - actions: [android.intent.action.MAIN]
            categories: [android.intent.category.HOME, android.intent.category.DEFAULT]
  - name: com.android.settings
    target_sdk: 29
    system: true
    components:
      - kind: activity
        name: .FallbackHome
        filters:
          - actions: [android.intent.action.MAIN]
            categories: [android.intent.category.HOME, android.intent.category.DEFAULT]
            priority: -1000
  - name: com.example.emergency.old
    target_sdk: 29
    system: true
    first_install: "2020-01-01T00:00:00Z"
    components:
      - kind: activity
        name: .Emergency
        filters:
          - actions: [android.telephony.action.EMERGENCY_ASSISTANCE]
            categories: [android.intent.category.DEFAULT]
  - name: com.example.emergency.new
    target_sdk: 29
    system: true
    first_install: "2021-01-01T00:00:00Z"
    components:
      - kind: activity
        name: .Emergency
        filters:
          - actions: [android.telephony.action.EMERGENCY_ASSISTANCE]
            categories: [android.intent.category.DEFAULT]
  - name: com.example.emergency.user
    target_sdk: 29
    first_install: "2019-01-01T00:00:00Z"
    components:
      - kind: activity
        name: .Emergency
        filters:
          - actions: [android.telephony.action.EMERGENCY_ASSISTANCE]
            categories: [android.intent.category.DEFAULT]
  - name: com.example.assistant
    target_sdk: 29
    permissions: [android.permission.RECORD_AUDIO]
    components:
      - kind: service
        name: .Interaction
        permission: android.permission.BIND_VOICE_INTERACTION
        meta_data:
          android.voice_interaction: "@xml/interaction_service"
        filters:
          - actions: [android.service.voice.VoiceInteractionService]
`

func NewEnvironment(t *testing.T, cfg *config.Config) (*role.Environment, *packagemanager.MemoryPackageManager, *activitymanager.MemoryActivityManager) {
	pm, err := packagemanager.LoadFixture([]byte(fixture))
	require.NoError(t, err)
	registry, err := role.LoadDefault(pm, true)
	require.NoError(t, err)
	if cfg == nil {
		cfg = config.Default()
	}
	am := activitymanager.NewMemoryActivityManager()
	return &role.Environment{
		PackageManager:  pm,
		Permissions:     permissions.NewReconciler(pm, permissions.NewIndex(pm)),
		ActivityManager: am,
		Holders:         role.NewMemoryHolderStore(),
		Roles:           registry,
		Config:          cfg,
	}, pm, am
}

func getRole(t *testing.T, env *role.Environment, name string) *role.Role {
	r, err := env.Roles.Get(name)
	require.NoError(t, err)
	return r
}

func TestLoadDefaultRoles(t *testing.T) {
	env, _, _ := NewEnvironment(t, nil)
	assert.Equal(t, 8, env.Roles.Len())

	browser := getRole(t, env, "android.app.role.BROWSER")
	assert.True(t, browser.Exclusive)
	assert.True(t, browser.Visible)
	assert.True(t, browser.Requestable)
	assert.Equal(t, "BrowserRoleBehavior", browser.Behavior.Name())
	assert.Len(t, browser.RequiredComponents, 1)
	assert.Equal(t, packagemanager.ComponentActivity, browser.RequiredComponents[0].Kind)
	assert.Equal(t, "http", browser.RequiredComponents[0].IntentFilterData.DataScheme)
	require.Len(t, browser.PreferredActivities, 1)
	assert.Len(t, browser.PreferredActivities[0].IntentFilterDatas, 2)

	sms := getRole(t, env, "android.app.role.SMS")
	assert.Len(t, sms.RequiredComponents, 4)
	assert.Contains(t, sms.Permissions, packagemanager.PermissionReadSms)
	assert.Equal(t, []permissions.AppOp{{Name: types.OpWriteSms, Mode: types.ModeAllowed}}, sms.AppOps)

	redirection := getRole(t, env, "android.app.role.CALL_REDIRECTION")
	assert.False(t, redirection.Visible)
	assert.False(t, redirection.Requestable)

	assert.True(t, getRole(t, env, "android.app.role.EMERGENCY").SystemOnly)

	_, err := env.Roles.Get("android.app.role.NOPE")
	assert.ErrorIs(t, err, role.ErrUnknownRole)
}

func TestBrowserQualifyingPackages(t *testing.T) {
	env, _, _ := NewEnvironment(t, nil)
	browser := getRole(t, env, "android.app.role.BROWSER")

	assert.Equal(t, []string{"com.example.browser.a"}, browser.QualifyingPackagesAsUser(env, user))
	assert.True(t, browser.IsPackageQualified(env, "com.example.browser.a", user))
	assert.False(t, browser.IsPackageQualified(env, "com.example.browser.b", user))
	// no system browser
	assert.Empty(t, browser.FallbackHolder(env, user))
}

func TestQualifyingComponentsOnePerPackage(t *testing.T) {
	env, pm, _ := NewEnvironment(t, nil)
	component := getRole(t, env, "android.app.role.BROWSER").RequiredComponents[0]

	components := component.QualifyingComponentsAsUser(pm, user)
	require.Len(t, components, 2)
	assert.Equal(t, "com.example.browser.a", components[0].PackageName)
	assert.Equal(t, "com.example.browser.b", components[1].PackageName)

	best := component.QualifyingComponentForPackage(pm, "com.example.browser.a", user)
	require.NotNil(t, best)
	assert.Equal(t, ".Main", best.ClassName)
	assert.Nil(t, component.QualifyingComponentForPackage(pm, "com.example.sms", user))
}

func TestRequiredComponentPermissionAndMetaData(t *testing.T) {
	env, pm, _ := NewEnvironment(t, nil)
	inCall := getRole(t, env, "android.app.role.DIALER").RequiredComponents[2]
	assert.NotNil(t, inCall.QualifyingComponentForPackage(pm, "com.example.dialer", user))

	wrongPermission := inCall
	wrongPermission.Permission = packagemanager.PermissionBindScreeningService
	assert.Nil(t, wrongPermission.QualifyingComponentForPackage(pm, "com.example.dialer", user))

	wrongValue := inCall
	wrongValue.MetaData = []role.RequiredMetaData{{Name: "android.telecom.IN_CALL_SERVICE_UI", Value: "false"}}
	assert.Nil(t, wrongValue.QualifyingComponentForPackage(pm, "com.example.dialer", user))

	optional := inCall
	optional.MetaData = []role.RequiredMetaData{{Name: "com.example.MISSING", Value: "x", Optional: true}}
	assert.NotNil(t, optional.QualifyingComponentForPackage(pm, "com.example.dialer", user))

	missing := inCall
	missing.MetaData = []role.RequiredMetaData{{Name: "com.example.MISSING", Value: "x"}}
	assert.Nil(t, missing.QualifyingComponentForPackage(pm, "com.example.dialer", user))
}

func TestQualifyingPackagesNeedEveryComponent(t *testing.T) {
	env, _, _ := NewEnvironment(t, nil)
	sms := getRole(t, env, "android.app.role.SMS")

	assert.Equal(t, []string{"com.example.sms"}, sms.QualifyingPackagesAsUser(env, user))
	assert.True(t, sms.IsPackageQualified(env, "com.example.sms", user))
	assert.False(t, sms.IsPackageQualified(env, "com.example.sms.partial", user))

	dialer := getRole(t, env, "android.app.role.DIALER")
	assert.Equal(t, []string{"com.example.dialer"}, dialer.QualifyingPackagesAsUser(env, user))
}

func TestGrantAndRevokeRole(t *testing.T) {
	env, pm, am := NewEnvironment(t, nil)
	sms := getRole(t, env, "android.app.role.SMS")

	assert.True(t, sms.Grant(env, "com.example.sms", false, user))
	assert.True(t, pm.IsGranted("com.example.sms", packagemanager.PermissionReadSms, user))
	assert.True(t, pm.Flags("com.example.sms", packagemanager.PermissionReadSms, user).Has(types.FlagGrantedByRole))
	mode, _ := pm.AppOpMode("com.example.sms", types.OpWriteSms, user)
	assert.Equal(t, types.ModeAllowed, mode)

	preferred := pm.PreferredActivities(user)
	require.Len(t, preferred, 2)
	assert.Equal(t, types.ComponentName{PackageName: "com.example.sms", ClassName: ".Compose"}, preferred[0].Activity)
	assert.Equal(t, []string{"sms"}, preferred[0].Filter.DataSchemes)
	// runtime permission apps are not killed on grant
	assert.Empty(t, am.Stopped())

	assert.False(t, sms.Grant(env, "com.example.sms", false, user))

	assert.True(t, sms.Revoke(env, "com.example.sms", false, false, user))
	assert.False(t, pm.IsGranted("com.example.sms", packagemanager.PermissionReadSms, user))
	mode, _ = pm.AppOpMode("com.example.sms", types.OpWriteSms, user)
	assert.Equal(t, types.ModeIgnored, mode)
	assert.Equal(t, []types.UserPackage{types.NewUserPackage("com.example.sms", user)}, am.Stopped())
}

func TestRevokeKeepsPermissionsOfOtherRoles(t *testing.T) {
	env, pm, am := NewEnvironment(t, nil)
	sms := getRole(t, env, "android.app.role.SMS")
	dialer := getRole(t, env, "android.app.role.DIALER")

	assert.True(t, dialer.Grant(env, "com.example.dialer", false, user))
	assert.True(t, sms.Grant(env, "com.example.dialer", false, user))
	env.Holders.AddHolder(dialer.Name, "com.example.dialer", user)
	env.Holders.AddHolder(sms.Name, "com.example.dialer", user)

	assert.True(t, sms.Revoke(env, "com.example.dialer", true, false, user))
	assert.True(t, pm.IsGranted("com.example.dialer", packagemanager.PermissionReadSms, user))
	assert.True(t, pm.IsGranted("com.example.dialer", packagemanager.PermissionReadContacts, user))
	mode, _ := pm.AppOpMode("com.example.dialer", types.OpWriteSms, user)
	assert.Equal(t, types.ModeIgnored, mode)
	// dontKillApp
	assert.Empty(t, am.Stopped())
}

func TestLegacyAppKilledOnGrant(t *testing.T) {
	env, pm, am := NewEnvironment(t, nil)
	pm.InstallPackage(types.PackageInfo{PackageName: "com.example.legacy", TargetSdkVersion: types.SdkLollipopMR1, Enabled: true}, user)
	sms := getRole(t, env, "android.app.role.SMS")

	assert.True(t, sms.Grant(env, "com.example.legacy", false, user))
	assert.Equal(t, []types.UserPackage{types.NewUserPackage("com.example.legacy", user)}, am.Stopped())
}

func TestHomeRole(t *testing.T) {
	env, _, am := NewEnvironment(t, nil)
	home := getRole(t, env, "android.app.role.HOME")

	assert.Equal(t, []string{"com.example.launcher", "com.example.launcher2"}, home.QualifyingPackagesAsUser(env, user))
	assert.False(t, home.IsPackageQualified(env, types.PackageSettings, user))
	assert.True(t, home.IsPackageQualified(env, "com.example.launcher2", user))
	assert.Equal(t, "com.example.launcher", home.FallbackHolder(env, user))

	home.OnHolderSelectedAsUser(env, "com.example.launcher2", user)
	started := am.StartedActivities()
	require.Len(t, started, 1)
	assert.Equal(t, types.ActionMain, started[0].Action)
	assert.Equal(t, []string{types.CategoryHome}, started[0].Categories)
}

func TestEmergencyRole(t *testing.T) {
	env, _, _ := NewEnvironment(t, nil)
	emergency := getRole(t, env, "android.app.role.EMERGENCY")

	assert.ElementsMatch(t, []string{"com.example.emergency.old", "com.example.emergency.new"}, emergency.QualifyingPackagesAsUser(env, user))
	assert.False(t, emergency.IsPackageQualified(env, "com.example.emergency.user", user))
	assert.Equal(t, "com.example.emergency.old", emergency.FallbackHolder(env, user))
}

func TestAvailability(t *testing.T) {
	cfg := config.Default()
	cfg.Device.VoiceCapable = false
	cfg.Device.LowRam = true
	env, _, _ := NewEnvironment(t, cfg)

	assert.False(t, getRole(t, env, "android.app.role.DIALER").IsAvailableAsUser(env, user))
	assert.False(t, getRole(t, env, "android.app.role.EMERGENCY").IsAvailableAsUser(env, user))
	assert.False(t, getRole(t, env, "android.app.role.ASSISTANT").IsAvailableAsUser(env, user))
	assert.False(t, getRole(t, env, "android.app.role.CALL_SCREENING").IsVisibleAsUser(env, user))
	assert.True(t, getRole(t, env, "android.app.role.SMS").IsAvailableAsUser(env, user))
	assert.True(t, getRole(t, env, "android.app.role.BROWSER").IsVisibleAsUser(env, user))
	assert.False(t, getRole(t, env, "android.app.role.CALL_REDIRECTION").IsVisibleAsUser(env, user))
}

func TestDialerFallbackHolder(t *testing.T) {
	cfg := config.Default()
	env, _, _ := NewEnvironment(t, cfg)
	dialer := getRole(t, env, "android.app.role.DIALER")
	assert.True(t, dialer.IsAvailableAsUser(env, user))
	assert.Empty(t, dialer.FallbackHolder(env, user))

	cfg.Device.DefaultDialer = "com.example.dialer"
	assert.Equal(t, "com.example.dialer", dialer.FallbackHolder(env, user))

	cfg.Device.DefaultDialer = "com.example.sms"
	assert.Empty(t, dialer.FallbackHolder(env, user))
}

func TestSmsFallbackHolder(t *testing.T) {
	cfg := config.Default()
	env, pm, _ := NewEnvironment(t, cfg)
	sms := getRole(t, env, "android.app.role.SMS")
	assert.Empty(t, sms.FallbackHolder(env, user))

	cfg.Device.DefaultSms = "com.example.sms"
	assert.Equal(t, "com.example.sms", sms.FallbackHolder(env, user))

	cfg.Device.DefaultSms = ""
	info, err := pm.PackageInfo("com.example.sms", user)
	require.NoError(t, err)
	info.System = true
	pm.InstallPackage(*info, user)
	assert.Equal(t, "com.example.sms", sms.FallbackHolder(env, user))
}

func TestDefaultHolders(t *testing.T) {
	cfg := config.Default()
	cfg.DefaultHolders = map[string][]string{
		"android.app.role.BROWSER": {"com.example.browser.a", "com.example.browser.b", "com.example.missing"},
	}
	env, _, _ := NewEnvironment(t, cfg)

	assert.Equal(t, []string{"com.example.browser.a"}, getRole(t, env, "android.app.role.BROWSER").DefaultHolders(env, user))
	assert.Empty(t, getRole(t, env, "android.app.role.SMS").DefaultHolders(env, user))
}

func TestAssistantRole(t *testing.T) {
	env, _, _ := NewEnvironment(t, nil)
	assistant := getRole(t, env, "android.app.role.ASSISTANT")

	assert.True(t, assistant.IsAvailableAsUser(env, user))
	assert.True(t, assistant.ShowNone)
	assert.Equal(t, []string{"com.example.assistant"}, assistant.QualifyingPackagesAsUser(env, user))
	assert.False(t, assistant.IsPackageQualified(env, "com.example.browser.a", user))
	assert.NotEmpty(t, assistant.ConfirmationMessage(env, "com.example.assistant"))
	assert.Empty(t, getRole(t, env, "android.app.role.BROWSER").ConfirmationMessage(env, "com.example.browser.a"))
}

func TestTemporarySmsAccessBehavior(t *testing.T) {
	cfg := config.Default()
	env, _, _ := NewEnvironment(t, cfg)
	behavior, ok := role.NewBehavior("TemporarySmsAccessRoleBehavior")
	require.True(t, ok)

	assert.True(t, behavior.IsAvailableAsUser(nil, env, user))
	assert.False(t, behavior.IsVisibleAsUser(nil, env, user))
	assert.Empty(t, behavior.FallbackHolder(nil, env, user))

	cfg.Device.SmsCapable = false
	assert.False(t, behavior.IsAvailableAsUser(nil, env, user))
}
