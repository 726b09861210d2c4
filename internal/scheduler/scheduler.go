// Package scheduler triggers the periodic work: due reservations, the
// waiting list mailbox and court snapshots.
package scheduler

import (
	"errors"
	"strings"
	"sync"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrEmptyJobName  = errors.New("job name is required")
	ErrEmptyCronExpr = errors.New("cron expression is required")
)

// Service wraps a gocron scheduler. Jobs never overlap with themselves: a run
// that is still going when the next is due makes the next one wait.
type Service struct {
	scheduler gocron.Scheduler
	stopOnce  sync.Once
	stopErr   error
}

func New(opts ...gocron.SchedulerOption) (*Service, error) {
	opts = append([]gocron.SchedulerOption{
		gocron.WithGlobalJobOptions(
			gocron.WithSingletonMode(gocron.LimitModeWait),
			gocron.WithEventListeners(
				gocron.AfterJobRunsWithPanic(func(jobID uuid.UUID, jobName string, recoverData any) {
					log.Error().
						Str("job_id", jobID.String()).
						Str("job_name", jobName).
						Interface("panic", recoverData).
						Msg("Scheduler job panicked")
				}),
			),
		),
	}, opts...)
	sched, err := gocron.NewScheduler(opts...)
	if err != nil {
		return nil, err
	}
	return &Service{scheduler: sched}, nil
}

func (s *Service) Start() {
	log.Info().Int("jobs", len(s.scheduler.Jobs())).Msg("Scheduler starting")
	s.scheduler.Start()
}

// Stop shuts the scheduler down, waiting for running jobs.
func (s *Service) Stop() error {
	s.stopOnce.Do(func() {
		log.Info().Msg("Scheduler stopping")
		s.stopErr = s.scheduler.Shutdown()
	})
	return s.stopErr
}

// AddJob registers task under a five-field cron expression.
func (s *Service) AddJob(name, cronExpr string, task func()) (gocron.Job, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrEmptyJobName
	}
	if strings.TrimSpace(cronExpr) == "" {
		return nil, ErrEmptyCronExpr
	}
	jobLogger := log.With().Str("job_name", name).Str("cron", cronExpr).Logger()

	wrapped := func() {
		jobLogger.Debug().Msg("Scheduler job started")
		task()
		jobLogger.Debug().Msg("Scheduler job completed")
	}

	job, err := s.scheduler.NewJob(
		gocron.CronJob(cronExpr, false),
		gocron.NewTask(wrapped),
		gocron.WithName(name),
	)
	if err != nil {
		jobLogger.Error().Err(err).Msg("Failed to register scheduler job")
		return nil, err
	}
	jobLogger.Info().Msg("Scheduler job registered")
	return job, nil
}
