package role

import (
	"github.com/sephiroth74/go_permission_controller/packagemanager"
	"github.com/sephiroth74/go_permission_controller/types"
)

// PreferredActivity makes the qualifying activity of a role holder the preferred one
// for a set of intent filters
type PreferredActivity struct {
	Activity          RequiredComponent
	IntentFilterDatas []types.IntentFilterData
}

// Configure sets the qualifying activity of the package as preferred, nothing
// happens if the package has none
func (p PreferredActivity) Configure(pm packagemanager.PackageManager, packageName string, user types.UserHandle) bool {
	activity := p.Activity.QualifyingComponentForPackage(pm, packageName, user)
	if activity == nil {
		log.Debug().Msgf("no qualifying activity in %s for preferred activity", packageName)
		return false
	}
	for _, data := range p.IntentFilterDatas {
		pm.ReplacePreferredActivity(data.CreateIntentFilter(), *activity, user)
	}
	return true
}
