package locationaccess

import (
	"sort"
	"sync"
	"time"

	"github.com/alecthomas/repr"

	"github.com/sephiroth74/go_permission_controller/types"
)

// region AppOpsHistory

// Access is a single recorded use of the fine location app op
type Access struct {
	PackageName string
	User        types.UserHandle
	Time        time.Time
	// ProxyPackage is set when the access was attributed by another package
	ProxyPackage string
}

func (a Access) String() string {
	return repr.String(a)
}

type AppOpsHistory interface {
	// FineLocationAccesses returns the accesses recorded for the user since the given time
	FineLocationAccesses(user types.UserHandle, since time.Time) []Access
}

type MemoryAppOpsHistory struct {
	mu       sync.Mutex
	accesses []Access
}

func NewMemoryAppOpsHistory() *MemoryAppOpsHistory {
	return &MemoryAppOpsHistory{}
}

func (h *MemoryAppOpsHistory) Record(access Access) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.accesses = append(h.accesses, access)
}

func (h *MemoryAppOpsHistory) FineLocationAccesses(user types.UserHandle, since time.Time) []Access {
	h.mu.Lock()
	defer h.mu.Unlock()
	var result []Access
	for _, a := range h.accesses {
		if a.User == user && !a.Time.Before(since) {
			result = append(result, a)
		}
	}
	return result
}

// endregion AppOpsHistory

// region Notifications

type Notification struct {
	ChannelID     string
	Title         string
	Text          string
	PackageName   string
	User          types.UserHandle
	SessionID     int64
	ContentIntent *types.Intent
	DeleteIntent  *types.Intent
}

func (n Notification) String() string {
	return repr.String(n)
}

type NotificationManager interface {
	CreateChannel(id string, name string)
	Notify(tag string, id int, notification Notification, user types.UserHandle)
	Cancel(tag string, id int, user types.UserHandle)
	// Active returns the notifications posted with the tag which are still showing
	Active(tag string, user types.UserHandle) []Notification
}

type postedKey struct {
	tag  string
	id   int
	user types.UserHandle
}

type MemoryNotificationManager struct {
	mu       sync.Mutex
	channels map[string]string
	posted   map[postedKey]Notification
	history  []Notification
}

func NewMemoryNotificationManager() *MemoryNotificationManager {
	return &MemoryNotificationManager{channels: make(map[string]string), posted: make(map[postedKey]Notification)}
}

func (m *MemoryNotificationManager) CreateChannel(id string, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[id] = name
}

func (m *MemoryNotificationManager) Notify(tag string, id int, notification Notification, user types.UserHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.posted[postedKey{tag: tag, id: id, user: user}] = notification
	m.history = append(m.history, notification)
}

func (m *MemoryNotificationManager) Cancel(tag string, id int, user types.UserHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.posted, postedKey{tag: tag, id: id, user: user})
}

func (m *MemoryNotificationManager) Active(tag string, user types.UserHandle) []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []Notification
	for key, n := range m.posted {
		if key.tag == tag && key.user == user {
			result = append(result, n)
		}
	}
	return result
}

func (m *MemoryNotificationManager) Channels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id := range m.channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Posted returns every notification ever posted, in order
func (m *MemoryNotificationManager) Posted() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Notification(nil), m.history...)
}

// endregion Notifications

// region UserManager

type UserManager interface {
	// ProfileGroup returns the users sharing a profile group with user, user included
	ProfileGroup(user types.UserHandle) []types.UserHandle
	SerialNumber(user types.UserHandle) (int, bool)
	UserForSerial(serial int) (types.UserHandle, bool)
}

type MemoryUserManager struct {
	mu      sync.Mutex
	serials map[types.UserHandle]int
	parents map[types.UserHandle]types.UserHandle
}

// NewMemoryUserManager knows the system user with serial 0
func NewMemoryUserManager() *MemoryUserManager {
	return &MemoryUserManager{
		serials: map[types.UserHandle]int{types.UserSystem: 0},
		parents: make(map[types.UserHandle]types.UserHandle),
	}
}

// AddUser declares a user, a profile of parent when parent is not UserNull
func (m *MemoryUserManager) AddUser(user types.UserHandle, serial int, parent types.UserHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.serials[user] = serial
	if parent != types.UserNull {
		m.parents[user] = parent
	}
}

func (m *MemoryUserManager) RemoveUser(user types.UserHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.serials, user)
	delete(m.parents, user)
}

func (m *MemoryUserManager) ProfileGroup(user types.UserHandle) []types.UserHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	root := user
	if parent, ok := m.parents[user]; ok {
		root = parent
	}
	group := []types.UserHandle{root}
	for u, parent := range m.parents {
		if parent == root {
			group = append(group, u)
		}
	}
	sort.Slice(group, func(i, j int) bool { return group[i] < group[j] })
	return group
}

func (m *MemoryUserManager) SerialNumber(user types.UserHandle) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	serial, ok := m.serials[user]
	return serial, ok
}

func (m *MemoryUserManager) UserForSerial(serial int) (types.UserHandle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for user, s := range m.serials {
		if s == serial {
			return user, true
		}
	}
	return types.UserNull, false
}

// endregion UserManager
