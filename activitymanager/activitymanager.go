package activitymanager

import (
	"sync"
	"time"

	"github.com/sephiroth74/go_permission_controller/logging"
	"github.com/sephiroth74/go_permission_controller/types"
)

var log = logging.GetLogger("activitymanager")

// ActivityManager is the process and activity side of the platform
type ActivityManager interface {
	Broadcast(intent *types.Intent, user types.UserHandle)
	// ForceStop kills the processes of the package
	ForceStop(packageName string, user types.UserHandle, reason string)
	StartActivity(intent *types.Intent, user types.UserHandle) error
	IsForeground(packageName string, user types.UserHandle) bool
}

// MemoryActivityManager records every call, foreground packages are set with SetForeground
type MemoryActivityManager struct {
	mu         sync.Mutex
	foreground map[types.UserPackage]bool
	broadcasts []*types.Intent
	activities []*types.Intent
	stopped    []types.UserPackage
	visible    map[types.UserPackage]time.Time
}

func NewMemoryActivityManager() *MemoryActivityManager {
	return &MemoryActivityManager{
		foreground: make(map[types.UserPackage]bool),
		visible:    make(map[types.UserPackage]time.Time),
	}
}

func (a *MemoryActivityManager) Broadcast(intent *types.Intent, user types.UserHandle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	log.Debug().Msgf("broadcast %s", intent.String())
	a.broadcasts = append(a.broadcasts, intent)
}

func (a *MemoryActivityManager) ForceStop(packageName string, user types.UserHandle, reason string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	log.Info().Msgf("force-stop %s: %s", packageName, reason)
	a.stopped = append(a.stopped, types.NewUserPackage(packageName, user))
	delete(a.foreground, types.NewUserPackage(packageName, user))
}

func (a *MemoryActivityManager) StartActivity(intent *types.Intent, user types.UserHandle) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	log.Debug().Msgf("start %s", intent.String())
	a.activities = append(a.activities, intent)
	return nil
}

func (a *MemoryActivityManager) IsForeground(packageName string, user types.UserHandle) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.foreground[types.NewUserPackage(packageName, user)]
}

func (a *MemoryActivityManager) SetForeground(packageName string, user types.UserHandle, foreground bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if foreground {
		a.foreground[types.NewUserPackage(packageName, user)] = true
	} else {
		delete(a.foreground, types.NewUserPackage(packageName, user))
	}
}

func (a *MemoryActivityManager) Broadcasts() []*types.Intent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*types.Intent(nil), a.broadcasts...)
}

func (a *MemoryActivityManager) StartedActivities() []*types.Intent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*types.Intent(nil), a.activities...)
}

func (a *MemoryActivityManager) Stopped() []types.UserPackage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]types.UserPackage(nil), a.stopped...)
}

// SetLastVisible records the usage stats of the package
func (a *MemoryActivityManager) SetLastVisible(packageName string, user types.UserHandle, at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.visible[types.NewUserPackage(packageName, user)] = at
}

// LastVisible returns the usage stats recorded with SetLastVisible
func (a *MemoryActivityManager) LastVisible(packageName string, user types.UserHandle) (time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	at, ok := a.visible[types.NewUserPackage(packageName, user)]
	return at, ok
}
