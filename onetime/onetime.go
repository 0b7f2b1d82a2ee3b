package onetime

import (
	"sort"
	"sync"
	"time"

	"github.com/alecthomas/repr"

	"github.com/sephiroth74/go_permission_controller/activitymanager"
	"github.com/sephiroth74/go_permission_controller/logging"
	"github.com/sephiroth74/go_permission_controller/packagemanager"
	"github.com/sephiroth74/go_permission_controller/prefs"
	"github.com/sephiroth74/go_permission_controller/types"
	"github.com/sephiroth74/go_permission_controller/workmanager"
)

var log = logging.GetLogger("onetime")

const (
	keyPackages          = "packages"
	keyPermissionsSuffix = ":permissions"
	keyRevokeTimeSuffix  = ":revokeTime"

	alarmPrefix = "onetime:"

	DefaultTimeout = time.Minute
)

// UsageStats reports when a package last became visible to the user. A package which
// is visible right now reports the start of its current visible session.
type UsageStats interface {
	LastVisible(packageName string, user types.UserHandle) (time.Time, bool)
}

// region Entry

// Entry is the tracked state of one package
type Entry struct {
	PackageName string
	RevokeTime  time.Time
	Permissions []string
}

func (e Entry) String() string {
	return repr.String(e)
}

// endregion Entry

// Revoker revokes one time permissions once their package stays out of the foreground
// for longer than the timeout
type Revoker struct {
	mu      sync.Mutex
	user    types.UserHandle
	pm      packagemanager.PackageManager
	am      activitymanager.ActivityManager
	usage   UsageStats
	alarms  *workmanager.AlarmManager
	prefs   *prefs.Preferences
	timeout time.Duration
	entries map[string]*entry
}

type entry struct {
	revokeTime  time.Time
	permissions map[string]bool
}

type Options struct {
	User            types.UserHandle
	PackageManager  packagemanager.PackageManager
	ActivityManager activitymanager.ActivityManager
	UsageStats      UsageStats
	Alarms          *workmanager.AlarmManager
	Prefs           *prefs.Preferences
	Timeout         time.Duration
}

func NewRevoker(options Options) *Revoker {
	if options.Timeout <= 0 {
		options.Timeout = DefaultTimeout
	}
	if options.Alarms == nil {
		options.Alarms = workmanager.NewAlarmManager(nil)
	}
	if options.Prefs == nil {
		options.Prefs = prefs.Open("")
	}
	return &Revoker{
		user:    options.User,
		pm:      options.PackageManager,
		am:      options.ActivityManager,
		usage:   options.UsageStats,
		alarms:  options.Alarms,
		prefs:   options.Prefs,
		timeout: options.Timeout,
		entries: make(map[string]*entry),
	}
}

func (r *Revoker) Timeout() time.Duration {
	return r.timeout
}

func (r *Revoker) now() time.Time {
	return r.alarms.Clock().Now()
}

// AddPackagePermission tracks a one time grant of permission to the package. The
// earliest revoke time of the package is kept when it is already tracked.
func (r *Revoker) AddPackagePermission(packageName string, permission string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	revokeTime := r.now().Add(r.timeout)
	e, ok := r.entries[packageName]
	if !ok {
		e = &entry{revokeTime: revokeTime, permissions: make(map[string]bool)}
		r.entries[packageName] = e
	} else if revokeTime.Before(e.revokeTime) {
		e.revokeTime = revokeTime
	}
	e.permissions[permission] = true

	log.Info().Msgf("tracking one time permission %s of %s until %s", permission, packageName, e.revokeTime.Format(time.RFC3339))
	r.persistLocked()
	r.scheduleLocked(packageName, e.revokeTime)
}

// CheckAndRevoke revokes the permissions of the package when its timeout elapsed,
// otherwise the check is rescheduled. It returns true when permissions were revoked.
func (r *Revoker) CheckAndRevoke(packageName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[packageName]
	if !ok {
		return false
	}
	now := r.now()

	if r.am != nil && r.am.IsForeground(packageName, r.user) {
		log.Debug().Msgf("%s is in foreground, rescheduling", packageName)
		r.rescheduleLocked(packageName, e, now.Add(r.timeout))
		return false
	}

	var lastVisible time.Time
	var hasUsage bool
	if r.usage != nil {
		lastVisible, hasUsage = r.usage.LastVisible(packageName, r.user)
	}

	if hasUsage {
		deadline := lastVisible.Add(r.timeout)
		if deadline.After(now) {
			log.Debug().Msgf("%s was visible at %s, rescheduling", packageName, lastVisible.Format(time.RFC3339))
			r.rescheduleLocked(packageName, e, deadline)
			return false
		}
	}

	r.revokeLocked(packageName, e)
	return true
}

// RevokeAll revokes the permissions of every tracked package regardless of their
// deadline. Called when the device boots.
func (r *Revoker) RevokeAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := r.sortedPackagesLocked()
	for _, name := range names {
		r.revokeLocked(name, r.entries[name])
	}
	return len(names)
}

// Forget stops tracking the package without revoking anything, used when the package
// is removed
func (r *Revoker) Forget(packageName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[packageName]; !ok {
		return
	}
	delete(r.entries, packageName)
	r.alarms.Cancel(alarmPrefix + packageName)
	r.persistLocked()
}

// Restore reloads the tracked packages from the preferences and re-arms their alarms
func (r *Revoker) Restore() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = make(map[string]*entry)
	for _, name := range r.prefs.GetStringSet(keyPackages) {
		millis := r.prefs.GetInt64(name+keyRevokeTimeSuffix, -1)
		perms := r.prefs.GetStringSet(name + keyPermissionsSuffix)
		if millis < 0 || len(perms) == 0 {
			log.Warn().Msgf("dropping incomplete one time permission state of %s", name)
			continue
		}
		e := &entry{revokeTime: time.UnixMilli(millis).UTC(), permissions: make(map[string]bool)}
		for _, p := range perms {
			e.permissions[p] = true
		}
		r.entries[name] = e
		r.scheduleLocked(name, e.revokeTime)
	}
	log.Info().Msgf("restored %d one time permission packages", len(r.entries))
}

// Entries returns the tracked packages sorted by name
func (r *Revoker) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []Entry
	for _, name := range r.sortedPackagesLocked() {
		e := r.entries[name]
		result = append(result, Entry{PackageName: name, RevokeTime: e.revokeTime, Permissions: sortedKeys(e.permissions)})
	}
	return result
}

func (r *Revoker) Entry(packageName string) (Entry, bool) {
	for _, e := range r.Entries() {
		if e.PackageName == packageName {
			return e, true
		}
	}
	return Entry{}, false
}

func (r *Revoker) revokeLocked(packageName string, e *entry) {
	for _, permission := range sortedKeys(e.permissions) {
		log.Info().Msgf("revoking one time permission %s of %s", permission, packageName)
		r.pm.Revoke(packageName, permission, r.user)
	}
	r.alarms.Cancel(alarmPrefix + packageName)
	delete(r.entries, packageName)
	r.persistLocked()
}

func (r *Revoker) rescheduleLocked(packageName string, e *entry, at time.Time) {
	e.revokeTime = at
	r.persistLocked()
	r.scheduleLocked(packageName, at)
}

func (r *Revoker) scheduleLocked(packageName string, at time.Time) {
	r.alarms.SetExact(alarmPrefix+packageName, at, func() {
		r.CheckAndRevoke(packageName)
	})
}

func (r *Revoker) persistLocked() {
	r.prefs.Clear()
	names := r.sortedPackagesLocked()
	if len(names) > 0 {
		r.prefs.PutStringSet(keyPackages, names)
	}
	for _, name := range names {
		e := r.entries[name]
		r.prefs.PutStringSet(name+keyPermissionsSuffix, sortedKeys(e.permissions))
		r.prefs.PutInt64(name+keyRevokeTimeSuffix, e.revokeTime.UnixMilli())
	}
	if err := r.prefs.Commit(); err != nil {
		log.Error().Err(err).Msgf("failed to persist one time permissions to %s", r.prefs.Path())
	}
}

func (r *Revoker) sortedPackagesLocked() []string {
	var names []string
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedKeys(m map[string]bool) []string {
	var keys []string
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
