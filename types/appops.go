package types

import (
	"fmt"
	"strings"
)

// region AppOpMode

type AppOpMode int

const (
	ModeAllowed AppOpMode = iota
	ModeIgnored
	ModeErrored
	ModeDefault
	ModeForeground
)

var appOpModeNames = map[AppOpMode]string{
	ModeAllowed:    "allowed",
	ModeIgnored:    "ignored",
	ModeErrored:    "errored",
	ModeDefault:    "default",
	ModeForeground: "foreground",
}

// IsPermissive reports whether the mode lets the app perform the operation, at least
// while in foreground
func (m AppOpMode) IsPermissive() bool {
	return m == ModeAllowed || m == ModeForeground
}

func (m AppOpMode) String() string {
	if name, ok := appOpModeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

func ParseAppOpMode(value string) (AppOpMode, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	for mode, name := range appOpModeNames {
		if name == value {
			return mode, nil
		}
	}
	return ModeDefault, fmt.Errorf("unknown app op mode: %q", value)
}

// endregion AppOpMode

// region AppOp names

const (
	OpCoarseLocation = "android:coarse_location"
	OpFineLocation   = "android:fine_location"
	OpReadSms        = "android:read_sms"
	OpWriteSms       = "android:write_sms"
	OpReceiveSms     = "android:receive_sms"
	OpSendSms        = "android:send_sms"
	OpCamera         = "android:camera"
	OpRecordAudio    = "android:record_audio"
	OpReadContacts   = "android:read_contacts"
	OpCallPhone      = "android:call_phone"
	OpReadCallLog    = "android:read_call_log"
	OpWriteCallLog   = "android:write_call_log"
)

// endregion AppOp names
