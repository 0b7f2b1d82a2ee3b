package workmanager

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alecthomas/repr"
)

const DefaultBackoff = 30 * time.Second

var ErrInvalidJob = errors.New("invalid job")

// JobService is started by the JobScheduler when a job is due.
//
// OnStartJob returns true when the work continues asynchronously, the service then
// calls JobFinished on the parameters once done. OnStopJob is called when a running job
// has to stop, it returns true if the job should be retried.
type JobService interface {
	OnStartJob(params *JobParameters) bool
	OnStopJob(params *JobParameters) bool
}

type JobInfo struct {
	ID      int
	Service JobService
	// MinLatency delays a one shot job
	MinLatency time.Duration
	// Periodic makes the job run every interval, within Flex before the end of it
	Periodic time.Duration
	Flex     time.Duration
}

func (j JobInfo) IsPeriodic() bool {
	return j.Periodic > 0
}

func (j JobInfo) String() string {
	return repr.String(JobInfo{ID: j.ID, MinLatency: j.MinLatency, Periodic: j.Periodic, Flex: j.Flex})
}

type JobParameters struct {
	JobID     int
	scheduler *JobScheduler
	job       *scheduledJob
}

// JobFinished tells the scheduler the job completed. A one shot job which asks to be
// rescheduled runs again after DefaultBackoff.
func (p *JobParameters) JobFinished(reschedule bool) {
	p.scheduler.finished(p, reschedule)
}

type scheduledJob struct {
	info    JobInfo
	timer   Timer
	next    time.Time
	running *JobParameters
}

type JobScheduler struct {
	mu    sync.Mutex
	clock Clock
	jobs  map[int]*scheduledJob
}

func NewJobScheduler(clock Clock) *JobScheduler {
	if clock == nil {
		clock = SystemClock{}
	}
	return &JobScheduler{clock: clock, jobs: make(map[int]*scheduledJob)}
}

// Schedule registers a job replacing any pending job with the same id. A running job
// with the same id is stopped first.
func (s *JobScheduler) Schedule(info JobInfo) error {
	if info.Service == nil {
		return fmt.Errorf("%w: job %d has no service", ErrInvalidJob, info.ID)
	}
	if info.Flex > info.Periodic {
		return fmt.Errorf("%w: job %d flex %s exceeds period %s", ErrInvalidJob, info.ID, info.Flex, info.Periodic)
	}

	s.Cancel(info.ID)

	s.mu.Lock()
	defer s.mu.Unlock()
	job := &scheduledJob{info: info}
	s.jobs[info.ID] = job
	s.armLocked(job, s.firstDelay(info))
	log.Info().Msgf("scheduled job %s", info)
	return nil
}

// Cancel removes a job, stopping it if it is running
func (s *JobScheduler) Cancel(id int) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	var running *JobParameters
	if ok {
		delete(s.jobs, id)
		if job.timer != nil {
			job.timer.Stop()
		}
		running = job.running
	}
	s.mu.Unlock()

	if running != nil {
		job.info.Service.OnStopJob(running)
	}
}

// Stop stops a running job without cancelling it, as the scheduler does when the job
// constraints are no longer met. The job is retried if the service asks for it.
func (s *JobScheduler) Stop(id int) bool {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok || job.running == nil {
		s.mu.Unlock()
		return false
	}
	params := job.running
	job.running = nil
	s.mu.Unlock()

	retry := job.info.Service.OnStopJob(params)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jobs[id] != job {
		return true
	}
	switch {
	case retry:
		s.armLocked(job, DefaultBackoff)
	case job.info.IsPeriodic():
		s.armLocked(job, job.info.Periodic-job.info.Flex)
	default:
		delete(s.jobs, id)
	}
	return true
}

// RunNow starts a pending job immediately
func (s *JobScheduler) RunNow(id int) bool {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if ok && job.timer != nil {
		job.timer.Stop()
		job.timer = nil
	}
	s.mu.Unlock()
	if ok {
		s.start(job)
	}
	return ok
}

// Pending returns the next time the job is due
func (s *JobScheduler) Pending(id int) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.timer == nil {
		return time.Time{}, false
	}
	return job.next, true
}

func (s *JobScheduler) IsRunning(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	return ok && job.running != nil
}

func (s *JobScheduler) firstDelay(info JobInfo) time.Duration {
	if info.IsPeriodic() {
		return info.Periodic - info.Flex
	}
	return info.MinLatency
}

func (s *JobScheduler) armLocked(job *scheduledJob, delay time.Duration) {
	job.next = s.clock.Now().Add(delay)
	job.timer = s.clock.AfterFunc(delay, func() {
		s.start(job)
	})
}

func (s *JobScheduler) start(job *scheduledJob) {
	s.mu.Lock()
	if s.jobs[job.info.ID] != job || job.running != nil {
		s.mu.Unlock()
		return
	}
	job.timer = nil
	params := &JobParameters{JobID: job.info.ID, scheduler: s, job: job}
	job.running = params
	s.mu.Unlock()

	log.Debug().Msgf("starting job %d", job.info.ID)
	if !job.info.Service.OnStartJob(params) {
		s.finished(params, false)
	}
}

func (s *JobScheduler) finished(params *JobParameters, reschedule bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := params.job
	if job.running != params {
		return
	}
	job.running = nil
	if s.jobs[job.info.ID] != job {
		return
	}

	switch {
	case job.info.IsPeriodic():
		s.armLocked(job, job.info.Periodic-job.info.Flex)
	case reschedule:
		s.armLocked(job, DefaultBackoff)
	default:
		delete(s.jobs, job.info.ID)
	}
	log.Debug().Msgf("job %d finished", job.info.ID)
}
