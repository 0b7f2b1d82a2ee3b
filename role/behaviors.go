package role

import (
	"github.com/sephiroth74/go_permission_controller/config"
	"github.com/sephiroth74/go_permission_controller/packagemanager"
	"github.com/sephiroth74/go_permission_controller/types"
	"github.com/sephiroth74/go_permission_controller/util"
)

func device(env *Environment) config.Device {
	if env.Config == nil {
		return config.Default().Device
	}
	return env.Config.Device
}

func resolvedPackages(resolved []types.ResolveInfo, info func(types.ResolveInfo) *types.ComponentInfo, keep func(types.ResolveInfo, *types.ComponentInfo) bool) []string {
	var packages []string
	for _, ri := range resolved {
		ci := info(ri)
		if ci == nil || !keep(ri, ci) {
			continue
		}
		packages = append(packages, ci.PackageName)
	}
	return util.Distinct(packages)
}

func activityInfo(ri types.ResolveInfo) *types.ComponentInfo { return ri.ActivityInfo }

func serviceInfo(ri types.ResolveInfo) *types.ComponentInfo { return ri.ServiceInfo }

func directBootFlags() packagemanager.QueryFlags {
	return packagemanager.MatchDirectBootAware | packagemanager.MatchDirectBootUnaware
}

// region Assistant

type AssistantRoleBehavior struct{ BaseBehavior }

func (AssistantRoleBehavior) Name() string { return "AssistantRoleBehavior" }

func (AssistantRoleBehavior) IsAvailableAsUser(role *Role, env *Environment, user types.UserHandle) bool {
	return !device(env).LowRam
}

func (AssistantRoleBehavior) ConfirmationMessage(role *Role, env *Environment, packageName string) string {
	return "The assistant will be able to read information about apps in use on your system, " +
		"including information visible on your screen or accessible within the apps."
}

func (b AssistantRoleBehavior) QualifyingPackagesAsUser(role *Role, env *Environment, user types.UserHandle) ([]string, bool) {
	return b.assistantPackages(env, "", user), true
}

func (b AssistantRoleBehavior) IsPackageQualified(role *Role, env *Environment, packageName string, user types.UserHandle) (bool, bool) {
	return len(b.assistantPackages(env, packageName, user)) > 0, true
}

// assistantPackages returns the packages with a voice interaction service or an assist activity
func (AssistantRoleBehavior) assistantPackages(env *Environment, packageName string, user types.UserHandle) []string {
	pm := env.PackageManager

	services := types.NewIntent(types.ActionVoiceInteraction).SetPackage(packageName)
	packages := resolvedPackages(pm.QueryIntentServices(*services, directBootFlags()|packagemanager.GetMetaData, user), serviceInfo,
		func(ri types.ResolveInfo, ci *types.ComponentInfo) bool {
			if ci.Permission != packagemanager.PermissionBindVoiceInteraction {
				return false
			}
			_, ok := ci.MetaData[types.MetaDataVoiceInteraction]
			return ok
		})

	activities := types.NewIntent(types.ActionAssist).AddCategory(types.CategoryDefault).SetPackage(packageName)
	packages = append(packages, resolvedPackages(pm.QueryIntentActivities(*activities, directBootFlags(), user), activityInfo,
		func(types.ResolveInfo, *types.ComponentInfo) bool { return true })...)
	return util.Distinct(packages)
}

// endregion Assistant

// region Browser

type BrowserRoleBehavior struct{ BaseBehavior }

func (BrowserRoleBehavior) Name() string { return "BrowserRoleBehavior" }

func (b BrowserRoleBehavior) QualifyingPackagesAsUser(role *Role, env *Environment, user types.UserHandle) ([]string, bool) {
	return b.browserPackages(env, "", false, user), true
}

func (b BrowserRoleBehavior) IsPackageQualified(role *Role, env *Environment, packageName string, user types.UserHandle) (bool, bool) {
	return len(b.browserPackages(env, packageName, false, user)) > 0, true
}

// FallbackHolder is the only system browser, if there is exactly one
func (b BrowserRoleBehavior) FallbackHolder(role *Role, env *Environment, user types.UserHandle) string {
	packages := b.browserPackages(env, "", true, user)
	if len(packages) != 1 {
		return ""
	}
	return packages[0]
}

// browserPackages returns the packages with an activity handling all the web uris
func (BrowserRoleBehavior) browserPackages(env *Environment, packageName string, systemOnly bool, user types.UserHandle) []string {
	intent := types.NewIntent(types.ActionView).AddCategory(types.CategoryBrowsable).SetPackage(packageName)
	intent.Data = "http:"
	flags := directBootFlags()
	if systemOnly {
		flags |= packagemanager.MatchSystemOnly
	}
	return resolvedPackages(env.PackageManager.QueryIntentActivities(*intent, flags, user), activityInfo,
		func(ri types.ResolveInfo, _ *types.ComponentInfo) bool { return ri.HandleAllWebDataURI })
}

// endregion Browser

// region Telephony

type CallRedirectionRoleBehavior struct{ BaseBehavior }

func (CallRedirectionRoleBehavior) Name() string { return "CallRedirectionRoleBehavior" }

func (CallRedirectionRoleBehavior) IsAvailableAsUser(role *Role, env *Environment, user types.UserHandle) bool {
	return device(env).VoiceCapable
}

type CallScreeningRoleBehavior struct{ BaseBehavior }

func (CallScreeningRoleBehavior) Name() string { return "CallScreeningRoleBehavior" }

func (CallScreeningRoleBehavior) IsVisibleAsUser(role *Role, env *Environment, user types.UserHandle) bool {
	return device(env).VoiceCapable
}

type DialerRoleBehavior struct{ BaseBehavior }

func (DialerRoleBehavior) Name() string { return "DialerRoleBehavior" }

func (DialerRoleBehavior) IsAvailableAsUser(role *Role, env *Environment, user types.UserHandle) bool {
	return device(env).VoiceCapable
}

// FallbackHolder is the dialer of the device configuration
func (DialerRoleBehavior) FallbackHolder(role *Role, env *Environment, user types.UserHandle) string {
	return qualifiedOrEmpty(role, env, device(env).DefaultDialer, user)
}

type EmergencyRoleBehavior struct{ BaseBehavior }

func (EmergencyRoleBehavior) Name() string { return "EmergencyRoleBehavior" }

func (EmergencyRoleBehavior) IsAvailableAsUser(role *Role, env *Environment, user types.UserHandle) bool {
	return device(env).VoiceCapable
}

// FallbackHolder is the first installed qualifying system package
func (EmergencyRoleBehavior) FallbackHolder(role *Role, env *Environment, user types.UserHandle) string {
	var fallback *types.PackageInfo
	for _, packageName := range role.QualifyingPackagesAsUser(env, user) {
		info, err := env.PackageManager.PackageInfo(packageName, user)
		if err != nil || !info.System {
			continue
		}
		if fallback == nil || info.FirstInstallTime.Before(fallback.FirstInstallTime) {
			fallback = info
		}
	}
	if fallback == nil {
		return ""
	}
	return fallback.PackageName
}

type SmsRoleBehavior struct{ BaseBehavior }

func (SmsRoleBehavior) Name() string { return "SmsRoleBehavior" }

func (SmsRoleBehavior) IsAvailableAsUser(role *Role, env *Environment, user types.UserHandle) bool {
	return device(env).SmsCapable
}

func (SmsRoleBehavior) IsVisibleAsUser(role *Role, env *Environment, user types.UserHandle) bool {
	return device(env).SmsCapable
}

// FallbackHolder is the sms app of the device configuration, or else the first
// qualifying system package
func (SmsRoleBehavior) FallbackHolder(role *Role, env *Environment, user types.UserHandle) string {
	if holder := qualifiedOrEmpty(role, env, device(env).DefaultSms, user); holder != "" {
		return holder
	}
	for _, packageName := range role.QualifyingPackagesAsUser(env, user) {
		if isSystemPackage(env.PackageManager, packageName, user) {
			return packageName
		}
	}
	return ""
}

// TemporarySmsAccessRoleBehavior backs a hidden role that lends the sms permissions to a
// holder for a while, it has no fallback holder
type TemporarySmsAccessRoleBehavior struct{ BaseBehavior }

func (TemporarySmsAccessRoleBehavior) Name() string { return "TemporarySmsAccessRoleBehavior" }

func (TemporarySmsAccessRoleBehavior) IsAvailableAsUser(role *Role, env *Environment, user types.UserHandle) bool {
	return device(env).SmsCapable
}

func (TemporarySmsAccessRoleBehavior) IsVisibleAsUser(role *Role, env *Environment, user types.UserHandle) bool {
	return false
}

func qualifiedOrEmpty(role *Role, env *Environment, packageName string, user types.UserHandle) string {
	if packageName == "" || !role.IsPackageQualified(env, packageName, user) {
		return ""
	}
	return packageName
}

// endregion Telephony

// region Home

type HomeRoleBehavior struct{ BaseBehavior }

func (HomeRoleBehavior) Name() string { return "HomeRoleBehavior" }

// The fallback home activity of settings is not a real home
func (HomeRoleBehavior) QualifyingPackagesAsUser(role *Role, env *Environment, user types.UserHandle) ([]string, bool) {
	return util.Remove(role.qualifyingPackagesByComponents(env.PackageManager, user), []string{types.PackageSettings}), true
}

func (HomeRoleBehavior) IsPackageQualified(role *Role, env *Environment, packageName string, user types.UserHandle) (bool, bool) {
	if packageName == types.PackageSettings {
		return false, true
	}
	return false, false
}

// FallbackHolder is the system home with the highest priority, none if the highest
// priority is shared
func (HomeRoleBehavior) FallbackHolder(role *Role, env *Environment, user types.UserHandle) string {
	intent := types.NewIntent(types.ActionMain).AddCategory(types.CategoryHome)
	resolved := env.PackageManager.QueryIntentActivities(*intent, directBootFlags()|packagemanager.MatchSystemOnly, user)

	var best *types.ResolveInfo
	ambiguous := false
	for i := range resolved {
		ri := resolved[i]
		if ri.ActivityInfo == nil || ri.ActivityInfo.PackageName == types.PackageSettings {
			continue
		}
		switch {
		case best == nil || ri.Priority > best.Priority:
			best = &ri
			ambiguous = false
		case ri.Priority == best.Priority && ri.ActivityInfo.PackageName != best.ActivityInfo.PackageName:
			ambiguous = true
		}
	}
	if best == nil || ambiguous {
		return ""
	}
	return best.ActivityInfo.PackageName
}

// OnHolderSelectedAsUser brings the new home to the front
func (HomeRoleBehavior) OnHolderSelectedAsUser(role *Role, env *Environment, packageName string, user types.UserHandle) {
	intent := types.NewIntent(types.ActionMain).AddCategory(types.CategoryHome)
	if err := env.ActivityManager.StartActivity(intent, user); err != nil {
		log.Warn().Msgf("cannot start home %s: %s", packageName, err.Error())
	}
}

// endregion Home
