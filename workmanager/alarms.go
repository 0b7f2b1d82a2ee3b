package workmanager

import (
	"sync"
	"time"
)

type alarm struct {
	at    time.Time
	timer Timer
}

// AlarmManager keeps at most one exact alarm per key. Setting an alarm for a key
// replaces the previous one.
type AlarmManager struct {
	mu     sync.Mutex
	clock  Clock
	alarms map[string]*alarm
}

func NewAlarmManager(clock Clock) *AlarmManager {
	if clock == nil {
		clock = SystemClock{}
	}
	return &AlarmManager{clock: clock, alarms: make(map[string]*alarm)}
}

func (a *AlarmManager) Clock() Clock {
	return a.clock
}

// SetExact arms an alarm firing f at the given time. An alarm in the past fires as soon
// as the clock moves.
func (a *AlarmManager) SetExact(key string, at time.Time, f func()) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if previous, ok := a.alarms[key]; ok {
		previous.timer.Stop()
	}

	entry := &alarm{at: at}
	entry.timer = a.clock.AfterFunc(at.Sub(a.clock.Now()), func() {
		a.mu.Lock()
		current, ok := a.alarms[key]
		if ok && current == entry {
			delete(a.alarms, key)
		}
		a.mu.Unlock()

		if ok && current == entry {
			log.Debug().Msgf("alarm %s fired", key)
			f()
		}
	})
	a.alarms[key] = entry
	log.Debug().Msgf("alarm %s set at %s", key, at.Format(time.RFC3339))
}

func (a *AlarmManager) Cancel(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if entry, ok := a.alarms[key]; ok {
		entry.timer.Stop()
		delete(a.alarms, key)
		log.Debug().Msgf("alarm %s cancelled", key)
	}
}

// Pending returns the time the alarm for key is set at
func (a *AlarmManager) Pending(key string) (time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if entry, ok := a.alarms[key]; ok {
		return entry.at, true
	}
	return time.Time{}, false
}
