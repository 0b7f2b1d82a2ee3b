package locationaccess

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"gopkg.in/tomb.v2"

	"github.com/sephiroth74/go_permission_controller/packagemanager"
	"github.com/sephiroth74/go_permission_controller/types"
	"github.com/sephiroth74/go_permission_controller/workmanager"
)

const (
	PeriodicJobID = 0
	OneShotJobID  = 1
)

// JobService runs the location access check for the scheduler, at most one check at a
// time
type JobService struct {
	check *LocationAccessCheck
	user  types.UserHandle

	mu       sync.Mutex
	tomb     *tomb.Tomb
	finished chan struct{}
}

func NewJobService(check *LocationAccessCheck, user types.UserHandle) *JobService {
	return &JobService{check: check, user: user}
}

// OnStartJob starts the check in background and returns true, or false if a check is
// already running
func (s *JobService) OnStartJob(params *workmanager.JobParameters) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tomb != nil {
		log.Info().Msg("location access check already running")
		return false
	}

	t := &tomb.Tomb{}
	done := make(chan struct{})
	s.tomb = t
	s.finished = done
	ctx := t.Context(context.Background())

	t.Go(func() error {
		defer close(done)
		err := s.check.CheckLocationAccessSinceLastCheck(ctx, s.user)

		s.mu.Lock()
		if s.tomb == t {
			s.tomb = nil
			s.finished = nil
		}
		s.mu.Unlock()

		if errors.Is(err, ErrCancelled) {
			log.Info().Msg("location access check cancelled")
			return nil
		}
		if err != nil {
			log.Error().Err(err).Msg("location access check failed")
		}
		params.JobFinished(false)
		return err
	})
	return true
}

// OnStopJob cancels the running check and waits until it stopped. The job is retried.
func (s *JobService) OnStopJob(params *workmanager.JobParameters) bool {
	s.mu.Lock()
	t := s.tomb
	done := s.finished
	s.mu.Unlock()

	if t == nil {
		return false
	}

	// the check goroutine clears the running state once it returned
	t.Kill(nil)
	<-done
	if err := t.Wait(); err != nil {
		log.Warn().Err(err).Msg("location access check stopped with error")
	}
	return true
}

// Wait blocks until the running check, if any, completed
func (s *JobService) Wait() {
	s.mu.Lock()
	done := s.finished
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// IsRunning reports whether a check is in flight
func (s *JobService) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tomb != nil
}

// Scheduler arms the jobs running the check
type Scheduler struct {
	check     *LocationAccessCheck
	scheduler *workmanager.JobScheduler
	service   *JobService
}

func NewScheduler(check *LocationAccessCheck, scheduler *workmanager.JobScheduler, user types.UserHandle) *Scheduler {
	return &Scheduler{check: check, scheduler: scheduler, service: NewJobService(check, user)}
}

func (s *Scheduler) Service() *JobService {
	return s.service
}

// CheckLocationAccessSoon runs a single check after the delay configured for boot
func (s *Scheduler) CheckLocationAccessSoon() error {
	return s.scheduler.Schedule(workmanager.JobInfo{
		ID:         OneShotJobID,
		Service:    s.service,
		MinLatency: s.check.cfg.DelayAfterBoot,
	})
}

// SchedulePeriodicCheck schedules the periodic check unless it is pending already
func (s *Scheduler) SchedulePeriodicCheck() error {
	if _, ok := s.scheduler.Pending(PeriodicJobID); ok || s.scheduler.IsRunning(PeriodicJobID) {
		return nil
	}
	return s.scheduler.Schedule(workmanager.JobInfo{
		ID:       PeriodicJobID,
		Service:  s.service,
		Periodic: s.check.cfg.PeriodicInterval,
		Flex:     s.check.cfg.Flex,
	})
}

// CancelChecks removes both jobs, used when the check gets disabled
func (s *Scheduler) CancelChecks() {
	s.scheduler.Cancel(PeriodicJobID)
	s.scheduler.Cancel(OneShotJobID)
}

// NotificationReceiver handles the actions of the posted notification
type NotificationReceiver struct {
	check *LocationAccessCheck
}

func NewNotificationReceiver(check *LocationAccessCheck) *NotificationReceiver {
	return &NotificationReceiver{check: check}
}

// OnReceive dispatches the click and delete intents of the notification
func (r *NotificationReceiver) OnReceive(intent *types.Intent) bool {
	packageName := intent.Extras[types.ExtraPackageName]
	userID, err := strconv.Atoi(intent.Extras[types.ExtraUser])
	if packageName == "" || err != nil {
		log.Warn().Msgf("ignoring malformed notification intent %s", intent.String())
		return false
	}
	user := types.UserHandle(userID)

	switch intent.Action {
	case ActionNotificationDeleted:
		r.OnDelete(packageName, user)
	case ActionNotificationClicked:
		r.OnClick(packageName, user)
	default:
		return false
	}
	return true
}

func (r *NotificationReceiver) OnDelete(packageName string, user types.UserHandle) {
	r.check.MarkAsNotified(packageName, user)
	r.check.notifications.Cancel(NotificationTag, NotificationID, user)
}

// OnClick marks the package as notified and opens its location permission screen
func (r *NotificationReceiver) OnClick(packageName string, user types.UserHandle) {
	r.check.MarkAsNotified(packageName, user)
	r.check.notifications.Cancel(NotificationTag, NotificationID, user)
	if r.check.am == nil {
		return
	}
	intent := types.NewIntent(types.ActionManageAppPermission).
		PutExtra(types.ExtraPackageName, packageName).
		PutExtra(types.ExtraPermissionGroupName, packagemanager.GroupLocation).
		PutExtra(types.ExtraUser, strconv.Itoa(int(user)))
	if err := r.check.am.StartActivity(intent, user); err != nil {
		log.Error().Err(err).Msgf("failed to open the location permission of %s", packageName)
	}
}
