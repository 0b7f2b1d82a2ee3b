package permissions_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sephiroth74/go_permission_controller/permissions"
	"github.com/sephiroth74/go_permission_controller/types"
)

func TestAppOpWithoutPermission(t *testing.T) {
	pm, r := NewReconciler(newPackage("com.example.sms", types.SdkQ))
	op := permissions.AppOp{Name: types.OpWriteSms, Mode: types.ModeAllowed}

	assert.Equal(t, types.ModeIgnored, opMode(t, pm, "com.example.sms", types.OpWriteSms))
	assert.True(t, op.Grant(r, "com.example.sms", false, user))
	assert.Equal(t, types.ModeAllowed, opMode(t, pm, "com.example.sms", types.OpWriteSms))
	assert.False(t, op.Grant(r, "com.example.sms", false, user))

	assert.True(t, op.Revoke(r, "com.example.sms", user))
	assert.Equal(t, types.ModeIgnored, opMode(t, pm, "com.example.sms", types.OpWriteSms))
	assert.False(t, op.Revoke(r, "com.example.sms", user))

	assert.False(t, op.Grant(r, "com.example.missing", false, user))
}

func TestAppOpMaxTargetSdk(t *testing.T) {
	pm, r := NewReconciler(newPackage("com.example.new", types.SdkQ), newPackage("com.example.old", types.SdkP))
	op := permissions.AppOp{Name: types.OpWriteSms, MaxTargetSdkVersion: types.SdkP, Mode: types.ModeAllowed}

	assert.False(t, op.Grant(r, "com.example.new", false, user))
	assert.Equal(t, types.ModeIgnored, opMode(t, pm, "com.example.new", types.OpWriteSms))

	assert.True(t, op.Grant(r, "com.example.old", false, user))
	assert.Equal(t, types.ModeAllowed, opMode(t, pm, "com.example.old", types.OpWriteSms))
}

func TestAppOpPermissiveNeedsPermission(t *testing.T) {
	pm, r := NewReconciler(newPackage("com.example.x", types.SdkQ, fine, background))
	pm.SetAppOpMode("com.example.x", types.OpFineLocation, types.ModeIgnored, user)
	op := permissions.AppOp{Name: types.OpFineLocation, Mode: types.ModeAllowed}

	assert.False(t, op.Grant(r, "com.example.x", false, user))
	assert.Equal(t, types.ModeIgnored, opMode(t, pm, "com.example.x", types.OpFineLocation))

	// foreground only
	pm.Grant("com.example.x", fine, user)
	assert.True(t, op.Grant(r, "com.example.x", false, user))
	assert.Equal(t, types.ModeForeground, opMode(t, pm, "com.example.x", types.OpFineLocation))

	// background granted too
	pm.Grant("com.example.x", background, user)
	assert.True(t, op.Grant(r, "com.example.x", false, user))
	assert.Equal(t, types.ModeAllowed, opMode(t, pm, "com.example.x", types.OpFineLocation))
	assert.False(t, op.Grant(r, "com.example.x", false, user))
}

func TestAppOpFixedPermission(t *testing.T) {
	pm, r := NewReconciler(newPackage("com.example.x", types.SdkQ, camera))
	pm.Grant("com.example.x", camera, user)
	pm.SetAppOpMode("com.example.x", types.OpCamera, types.ModeIgnored, user)
	pm.SetFlags("com.example.x", camera, types.FlagUserFixed, types.FlagUserFixed, user)

	allow := permissions.AppOp{Name: types.OpCamera, Mode: types.ModeAllowed}
	assert.False(t, allow.Grant(r, "com.example.x", false, user))
	assert.Equal(t, types.ModeIgnored, opMode(t, pm, "com.example.x", types.OpCamera))

	assert.True(t, allow.Grant(r, "com.example.x", true, user))
	assert.Equal(t, types.ModeAllowed, opMode(t, pm, "com.example.x", types.OpCamera))

	deny := permissions.AppOp{Name: types.OpCamera, Mode: types.ModeIgnored}
	pm.SetFlags("com.example.x", camera, types.FlagPolicyFixed, types.FlagPolicyFixed, user)
	assert.False(t, deny.Grant(r, "com.example.x", true, user))
	assert.False(t, deny.Revoke(r, "com.example.x", user))
	assert.Equal(t, types.ModeAllowed, opMode(t, pm, "com.example.x", types.OpCamera))
}

func TestAppOpNonPermissiveBackgroundFixed(t *testing.T) {
	pm, r := NewReconciler(newPackage("com.example.x", types.SdkQ, fine, background))
	pm.SetFlags("com.example.x", background, types.FlagSystemFixed, types.FlagSystemFixed, user)
	op := permissions.AppOp{Name: types.OpFineLocation, Mode: types.ModeIgnored}

	assert.False(t, op.Grant(r, "com.example.x", false, user))
	assert.Equal(t, types.ModeAllowed, opMode(t, pm, "com.example.x", types.OpFineLocation))
}

func TestAppOpRevokeCouplesToBackground(t *testing.T) {
	pm, r := NewReconciler(newPackage("com.example.x", types.SdkQ, fine, background))
	op := permissions.AppOp{Name: types.OpFineLocation, Mode: types.ModeIgnored}

	// nothing granted: revoking to the permissive default is not allowed
	assert.True(t, op.Revoke(r, "com.example.x", user))
	assert.Equal(t, types.ModeIgnored, opMode(t, pm, "com.example.x", types.OpFineLocation))

	pm.Grant("com.example.x", fine, user)
	assert.True(t, op.Revoke(r, "com.example.x", user))
	assert.Equal(t, types.ModeForeground, opMode(t, pm, "com.example.x", types.OpFineLocation))
}

func TestAppOpLegacyNeverDowngrades(t *testing.T) {
	pm, r := NewReconciler(newPackage("com.example.legacy", types.SdkLollipopMR1, fine, background))
	op := permissions.AppOp{Name: types.OpFineLocation, Mode: types.ModeForeground}

	assert.Equal(t, types.ModeAllowed, opMode(t, pm, "com.example.legacy", types.OpFineLocation))
	assert.False(t, op.Grant(r, "com.example.legacy", false, user))
	assert.Equal(t, types.ModeAllowed, opMode(t, pm, "com.example.legacy", types.OpFineLocation))

	pm.SetAppOpMode("com.example.legacy", types.OpFineLocation, types.ModeIgnored, user)
	pm.SetFlags("com.example.legacy", background, types.FlagUserFixed, types.FlagUserFixed, user)
	assert.True(t, op.Grant(r, "com.example.legacy", false, user))
	assert.Equal(t, types.ModeForeground, opMode(t, pm, "com.example.legacy", types.OpFineLocation))
}

func TestAppOpLegacyRevokeRequiresReview(t *testing.T) {
	pm, r := NewReconciler(newPackage("com.example.legacy", types.SdkLollipopMR1, camera))
	pm.SetAppOpMode("com.example.legacy", types.OpCamera, types.ModeIgnored, user)
	op := permissions.AppOp{Name: types.OpCamera, Mode: types.ModeIgnored}

	assert.True(t, op.Revoke(r, "com.example.legacy", user))
	assert.Equal(t, types.ModeAllowed, opMode(t, pm, "com.example.legacy", types.OpCamera))
	assert.True(t, pm.Flags("com.example.legacy", camera, user).Has(types.FlagReviewRequired))
}
