package permissions

import (
	"sync"

	"github.com/sephiroth74/go_permission_controller/packagemanager"
)

// Index maps foreground permissions to their background permission and back.
//
// It is built on first use from the permission groups declared on the device and
// never rebuilt, permissions declared later by installed packages are not seen.
type Index struct {
	pm packagemanager.PackageManager

	mu                    sync.Mutex
	built                 bool
	backgroundPermissions map[string]string
	foregroundPermissions map[string][]string
}

func NewIndex(pm packagemanager.PackageManager) *Index {
	return &Index{pm: pm}
}

func (i *Index) IsForeground(permission string) bool {
	_, ok := i.lookup().backgroundPermissions[permission]
	return ok
}

func (i *Index) IsBackground(permission string) bool {
	_, ok := i.lookup().foregroundPermissions[permission]
	return ok
}

// BackgroundOf returns the background permission of a foreground permission
func (i *Index) BackgroundOf(permission string) (string, bool) {
	bg, ok := i.lookup().backgroundPermissions[permission]
	return bg, ok
}

// ForegroundsOf returns the foreground permissions of a background permission, the
// returned slice must not be modified
func (i *Index) ForegroundsOf(permission string) []string {
	return i.lookup().foregroundPermissions[permission]
}

func (i *Index) lookup() *Index {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.built {
		i.build()
		i.built = true
	}
	return i
}

func (i *Index) build() {
	groups := []string{""}
	for _, g := range i.pm.PermissionGroups() {
		groups = append(groups, g.Name)
	}

	existing := make(map[string]bool)
	foregrounds := make(map[string][]string)
	var order []string
	for _, group := range groups {
		for _, info := range i.pm.PermissionsByGroup(group) {
			existing[info.Name] = true
			if info.BackgroundPermission == "" {
				continue
			}
			if _, ok := foregrounds[info.BackgroundPermission]; !ok {
				order = append(order, info.BackgroundPermission)
			}
			foregrounds[info.BackgroundPermission] = append(foregrounds[info.BackgroundPermission], info.Name)
		}
	}

	i.foregroundPermissions = make(map[string][]string)
	i.backgroundPermissions = make(map[string]string)
	for _, bg := range order {
		if !existing[bg] {
			log.Warn().Msgf("background permission %s declared by %v does not exist", bg, foregrounds[bg])
			continue
		}
		i.foregroundPermissions[bg] = foregrounds[bg]
		for _, fg := range foregrounds[bg] {
			i.backgroundPermissions[fg] = bg
		}
	}
	log.Debug().Msgf("found %d background permissions", len(i.foregroundPermissions))
}
