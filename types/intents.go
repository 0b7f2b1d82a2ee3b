package types

const (
	ActionMain                = "android.intent.action.MAIN"
	ActionView                = "android.intent.action.VIEW"
	ActionDial                = "android.intent.action.DIAL"
	ActionSendTo              = "android.intent.action.SENDTO"
	ActionAssist              = "android.intent.action.ASSIST"
	ActionBootCompleted       = "android.intent.action.BOOT_COMPLETED"
	ActionPackageDataCleared  = "android.intent.action.PACKAGE_DATA_CLEARED"
	ActionPackageFullyRemoved = "android.intent.action.PACKAGE_FULLY_REMOVED"
	ActionManageAppPermission = "android.intent.action.MANAGE_APP_PERMISSION"
	ActionVoiceInteraction    = "android.service.voice.VoiceInteractionService"
	ActionEmergencyAssistance = "android.telephony.action.EMERGENCY_ASSISTANCE"
	ActionRoleHoldersChanged  = "android.app.role.action.ROLE_HOLDERS_CHANGED"
	CategoryDefault           = "android.intent.category.DEFAULT"
	CategoryHome              = "android.intent.category.HOME"
	CategoryBrowsable         = "android.intent.category.BROWSABLE"
	ExtraPackageName          = "android.intent.extra.PACKAGE_NAME"
	ExtraPermissionGroupName  = "android.intent.extra.PERMISSION_GROUP_NAME"
	ExtraUser                 = "android.intent.extra.USER"
	ExtraRoleName             = "android.intent.extra.ROLE_NAME"
	MetaDataVoiceInteraction  = "android.voice_interaction"
	PackageSettings           = "com.android.settings"
	PackageAndroid            = "android"
)
