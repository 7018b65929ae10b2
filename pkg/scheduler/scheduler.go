package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/acorn-io/subdomain-manager/pkg/metrics"
	"github.com/robfig/cron"
	"github.com/sirupsen/logrus"
)

// DefaultSpec fires once a day at midnight, local time. The first field is seconds.
const DefaultSpec = "0 0 0 * * *"

type Job func(ctx context.Context) error

// Scheduler fires a job on a cron schedule. A firing that arrives while the previous
// run is still going is skipped rather than queued.
type Scheduler struct {
	spec string
	job  Job
	cron *cron.Cron
	log  *logrus.Entry

	running int32
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(spec string, job Job, log *logrus.Entry) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSpec
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		spec:   spec,
		job:    job,
		cron:   cron.New(),
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}

	if err := s.cron.AddFunc(spec, func() {
		s.Trigger(s.ctx)
	}); err != nil {
		cancel()
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.log.Infof("starting renewal scheduler. Schedule: %v", s.spec)
	s.cron.Start()
}

// Stop halts future firings, cancels a run in progress and waits for it to return.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.cancel()
	s.wg.Wait()
	s.log.Info("renewal scheduler stopped")
}

// Trigger runs the job now on the calling goroutine. It returns false without running
// anything if another run is in progress.
func (s *Scheduler) Trigger(ctx context.Context) bool {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		s.log.Warn("previous renewal run still in progress, skipping")
		metrics.RenewalSweeps.WithLabelValues("skipped").Inc()
		return false
	}
	s.wg.Add(1)
	defer s.wg.Done()
	defer atomic.StoreInt32(&s.running, 0)

	s.log.Info("beginning renewal run")
	err := s.runJob(ctx)
	if err != nil {
		s.log.Errorf("renewal run failed: %v", err)
	}
	metrics.RenewalSweeps.WithLabelValues(metrics.Result(err)).Inc()
	return true
}

func (s *Scheduler) runJob(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("renewal run panicked: %v", r)
		}
	}()
	return s.job(ctx)
}
