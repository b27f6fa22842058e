package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// ScheduleTime is a wall-clock time of day at which a job batch fires.
type ScheduleTime struct {
	Hour   int
	Minute int
}

// String returns the time in HH:MM format.
func (st ScheduleTime) String() string {
	return fmt.Sprintf("%02d:%02d", st.Hour, st.Minute)
}

// ParseScheduleTime parses an HH:MM string.
func ParseScheduleTime(s string) (ScheduleTime, error) {
	var hour, minute int
	if _, err := fmt.Sscanf(s, "%d:%d", &hour, &minute); err != nil {
		return ScheduleTime{}, fmt.Errorf("invalid time format (expected HH:MM): %w", err)
	}
	if hour < 0 || hour > 23 {
		return ScheduleTime{}, fmt.Errorf("invalid hour: %d (must be 0-23)", hour)
	}
	if minute < 0 || minute > 59 {
		return ScheduleTime{}, fmt.Errorf("invalid minute: %d (must be 0-59)", minute)
	}
	return ScheduleTime{Hour: hour, Minute: minute}, nil
}

func parseScheduleTimes(specs []string) ([]ScheduleTime, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("at least one schedule time is required")
	}
	times := make([]ScheduleTime, 0, len(specs))
	for _, spec := range specs {
		st, err := ParseScheduleTime(spec)
		if err != nil {
			return nil, fmt.Errorf("failed to parse schedule time %q: %w", spec, err)
		}
		times = append(times, st)
	}
	return times, nil
}

// SchedulerConfig holds configuration for the scheduler.
type SchedulerConfig struct {
	ScheduleTimes []string
	WorkerCount   int
	JobDelay      time.Duration
	QueueSize     int
	RunOnStartup  bool
	JobProvider   func(context.Context) ([]Job, error)
}

// Scheduler fires the job provider at configured times of day and feeds the
// resulting jobs to a worker pool.
type Scheduler struct {
	workerPool    *WorkerPool
	scheduleTimes []ScheduleTime
	runOnStartup  bool
	jobProvider   func(context.Context) ([]Job, error)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// lastFired dedups the minute-granularity tick so one schedule slot
	// fires at most once.
	mu        sync.Mutex
	lastFired string
}

// NewScheduler creates a scheduler from configuration.
func NewScheduler(config SchedulerConfig) (*Scheduler, error) {
	times, err := parseScheduleTimes(config.ScheduleTimes)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	log.Printf("Scheduler: %d schedule times %v, %d workers, %v delay between jobs",
		len(times), config.ScheduleTimes, config.WorkerCount, config.JobDelay)

	return &Scheduler{
		workerPool:    NewWorkerPool(config.WorkerCount, config.JobDelay, config.QueueSize),
		scheduleTimes: times,
		runOnStartup:  config.RunOnStartup,
		jobProvider:   config.JobProvider,
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

// Start launches the worker pool and the schedule loop.
func (s *Scheduler) Start() {
	s.workerPool.Start()

	if s.runOnStartup {
		log.Println("Scheduler: running initial job batch on startup")
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runJobs()
		}()
	}

	s.wg.Add(1)
	go s.loop()

	log.Printf("Scheduler: started, next run at %s", s.nextRun(time.Now()).Format("2006-01-02 15:04"))
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			log.Println("Scheduler: loop stopping")
			return

		case now := <-ticker.C:
			if s.due(now) {
				log.Printf("Scheduler: triggered at %s", now.Format("15:04"))
				s.runJobs()
			}
		}
	}
}

// due reports whether a schedule slot matches now and has not fired yet.
func (s *Scheduler) due(now time.Time) bool {
	slot := now.Format("2006-01-02 15:04")

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastFired == slot {
		return false
	}

	for _, st := range s.scheduleTimes {
		if now.Hour() == st.Hour && now.Minute() == st.Minute {
			s.lastFired = slot
			return true
		}
	}
	return false
}

// nextRun returns the earliest schedule slot after now.
func (s *Scheduler) nextRun(now time.Time) time.Time {
	var next time.Time
	for _, st := range s.scheduleTimes {
		candidate := time.Date(now.Year(), now.Month(), now.Day(), st.Hour, st.Minute, 0, 0, now.Location())
		if !candidate.After(now) {
			candidate = candidate.AddDate(0, 0, 1)
		}
		if next.IsZero() || candidate.Before(next) {
			next = candidate
		}
	}
	return next
}

// runJobs asks the provider for the current batch and submits it.
func (s *Scheduler) runJobs() {
	if s.jobProvider == nil {
		log.Println("Scheduler: no job provider configured")
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Minute)
	defer cancel()

	jobs, err := s.jobProvider(ctx)
	if err != nil {
		log.Printf("Scheduler: failed to build job batch: %v", err)
		return
	}
	if len(jobs) == 0 {
		log.Println("Scheduler: nothing to do")
		return
	}

	log.Printf("Scheduler: submitting %d jobs", len(jobs))
	s.workerPool.SubmitBatch(jobs)
}

// TriggerNow runs a job batch immediately, outside the schedule.
func (s *Scheduler) TriggerNow() {
	log.Println("Scheduler: manual trigger")
	go s.runJobs()
}

// Shutdown stops the schedule loop and drains the worker pool.
func (s *Scheduler) Shutdown(timeout time.Duration) {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		log.Println("Scheduler: timeout waiting for schedule loop to stop")
	}

	s.workerPool.ShutdownWithTimeout(timeout)
	log.Println("Scheduler: shutdown complete")
}
