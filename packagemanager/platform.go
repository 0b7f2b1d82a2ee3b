package packagemanager

import "github.com/sephiroth74/go_permission_controller/types"

const (
	PermissionAccessFineLocation       = "android.permission.ACCESS_FINE_LOCATION"
	PermissionAccessCoarseLocation     = "android.permission.ACCESS_COARSE_LOCATION"
	PermissionAccessBackgroundLocation = "android.permission.ACCESS_BACKGROUND_LOCATION"
	PermissionReadSms                  = "android.permission.READ_SMS"
	PermissionReceiveSms               = "android.permission.RECEIVE_SMS"
	PermissionSendSms                  = "android.permission.SEND_SMS"
	PermissionReceiveMms               = "android.permission.RECEIVE_MMS"
	PermissionCallPhone                = "android.permission.CALL_PHONE"
	PermissionReadPhoneState           = "android.permission.READ_PHONE_STATE"
	PermissionReadCallLog              = "android.permission.READ_CALL_LOG"
	PermissionWriteCallLog             = "android.permission.WRITE_CALL_LOG"
	PermissionReadContacts             = "android.permission.READ_CONTACTS"
	PermissionCamera                   = "android.permission.CAMERA"
	PermissionRecordAudio              = "android.permission.RECORD_AUDIO"
	PermissionBindVoiceInteraction     = "android.permission.BIND_VOICE_INTERACTION"
	PermissionBindScreeningService     = "android.permission.BIND_SCREENING_SERVICE"
	PermissionBindCallRedirection      = "android.permission.BIND_CALL_REDIRECTION_SERVICE"
	PermissionBindInCallService        = "android.permission.BIND_INCALL_SERVICE"
	PermissionBroadcastSms             = "android.permission.BROADCAST_SMS"
	PermissionBroadcastWapPush         = "android.permission.BROADCAST_WAP_PUSH"
	PermissionSendRespondViaMessage    = "android.permission.SEND_RESPOND_VIA_MESSAGE"

	GroupLocation   = "android.permission-group.LOCATION"
	GroupSms        = "android.permission-group.SMS"
	GroupPhone      = "android.permission-group.PHONE"
	GroupCallLog    = "android.permission-group.CALL_LOG"
	GroupContacts   = "android.permission-group.CONTACTS"
	GroupCamera     = "android.permission-group.CAMERA"
	GroupMicrophone = "android.permission-group.MICROPHONE"
)

type platformPermission struct {
	info        types.PermissionInfo
	op          string
	defaultMode types.AppOpMode
}

var platformPermissions = []platformPermission{
	{
		info: types.PermissionInfo{Name: PermissionAccessFineLocation, Group: GroupLocation, BackgroundPermission: PermissionAccessBackgroundLocation, Protection: types.ProtectionDangerous, UserSensitive: true},
		op:   types.OpFineLocation, defaultMode: types.ModeAllowed,
	},
	{
		info: types.PermissionInfo{Name: PermissionAccessCoarseLocation, Group: GroupLocation, BackgroundPermission: PermissionAccessBackgroundLocation, Protection: types.ProtectionDangerous, UserSensitive: true},
		op:   types.OpCoarseLocation, defaultMode: types.ModeAllowed,
	},
	{info: types.PermissionInfo{Name: PermissionAccessBackgroundLocation, Group: GroupLocation, Protection: types.ProtectionDangerous, UserSensitive: true}},
	{info: types.PermissionInfo{Name: PermissionReadSms, Group: GroupSms, Protection: types.ProtectionDangerous, UserSensitive: true}, op: types.OpReadSms, defaultMode: types.ModeAllowed},
	{info: types.PermissionInfo{Name: PermissionReceiveSms, Group: GroupSms, Protection: types.ProtectionDangerous, UserSensitive: true}, op: types.OpReceiveSms, defaultMode: types.ModeAllowed},
	{info: types.PermissionInfo{Name: PermissionSendSms, Group: GroupSms, Protection: types.ProtectionDangerous, UserSensitive: true}, op: types.OpSendSms, defaultMode: types.ModeAllowed},
	{info: types.PermissionInfo{Name: PermissionReceiveMms, Group: GroupSms, Protection: types.ProtectionDangerous, UserSensitive: true}},
	{info: types.PermissionInfo{Name: PermissionCallPhone, Group: GroupPhone, Protection: types.ProtectionDangerous, UserSensitive: true}, op: types.OpCallPhone, defaultMode: types.ModeAllowed},
	{info: types.PermissionInfo{Name: PermissionReadPhoneState, Group: GroupPhone, Protection: types.ProtectionDangerous, UserSensitive: true}},
	{info: types.PermissionInfo{Name: PermissionReadCallLog, Group: GroupCallLog, Protection: types.ProtectionDangerous, UserSensitive: true}, op: types.OpReadCallLog, defaultMode: types.ModeAllowed},
	{info: types.PermissionInfo{Name: PermissionWriteCallLog, Group: GroupCallLog, Protection: types.ProtectionDangerous, UserSensitive: true}, op: types.OpWriteCallLog, defaultMode: types.ModeAllowed},
	{info: types.PermissionInfo{Name: PermissionReadContacts, Group: GroupContacts, Protection: types.ProtectionDangerous, UserSensitive: true}, op: types.OpReadContacts, defaultMode: types.ModeAllowed},
	{info: types.PermissionInfo{Name: PermissionCamera, Group: GroupCamera, Protection: types.ProtectionDangerous, UserSensitive: true}, op: types.OpCamera, defaultMode: types.ModeAllowed},
	{info: types.PermissionInfo{Name: PermissionRecordAudio, Group: GroupMicrophone, Protection: types.ProtectionDangerous, UserSensitive: true}, op: types.OpRecordAudio, defaultMode: types.ModeAllowed},
	{info: types.PermissionInfo{Name: PermissionBindVoiceInteraction, Protection: types.ProtectionSignature}},
	{info: types.PermissionInfo{Name: PermissionBindScreeningService, Protection: types.ProtectionSignature}},
	{info: types.PermissionInfo{Name: PermissionBindCallRedirection, Protection: types.ProtectionSignature}},
	{info: types.PermissionInfo{Name: PermissionBindInCallService, Protection: types.ProtectionSignature}},
	{info: types.PermissionInfo{Name: PermissionBroadcastSms, Protection: types.ProtectionSignature}},
	{info: types.PermissionInfo{Name: PermissionBroadcastWapPush, Protection: types.ProtectionSignature}},
	{info: types.PermissionInfo{Name: PermissionSendRespondViaMessage, Protection: types.ProtectionSignature}},
}

// RegisterPlatformPermissions declares the platform permissions, groups, app ops and
// split permissions on a MemoryPackageManager
func RegisterPlatformPermissions(m *MemoryPackageManager) {
	for _, group := range []string{GroupLocation, GroupSms, GroupPhone, GroupCallLog, GroupContacts, GroupCamera, GroupMicrophone} {
		m.AddPermissionGroup(group)
	}
	for _, p := range platformPermissions {
		m.AddPermission(p.info)
		if p.op != "" {
			m.AddAppOp(p.op, p.info.Name, p.defaultMode)
		}
	}
	m.AddAppOp(types.OpWriteSms, "", types.ModeIgnored)

	m.AddSplitPermission(types.SplitPermissionInfo{
		SplitPermission: PermissionAccessFineLocation,
		NewPermissions:  []string{PermissionAccessBackgroundLocation},
		TargetSdk:       types.SdkQ,
	})
	m.AddSplitPermission(types.SplitPermissionInfo{
		SplitPermission: PermissionAccessCoarseLocation,
		NewPermissions:  []string{PermissionAccessBackgroundLocation},
		TargetSdk:       types.SdkQ,
	})
	m.AddSplitPermission(types.SplitPermissionInfo{
		SplitPermission: PermissionReadContacts,
		NewPermissions:  []string{PermissionReadCallLog},
		TargetSdk:       16,
	})
}
