package dispatch

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"remindd/internal/config"
	"remindd/internal/metrics"
	"remindd/internal/reminder"
	"remindd/internal/storage"
	"remindd/internal/transport"
	logx "remindd/pkg/logx"
)

// cronParser accepts standard 5-field specs plus @descriptors, matching
// config.ParsePollSpec validation.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type Service struct {
	store storage.Store
	tr    transport.Transport
	clock reminder.Clock
	log   logx.Logger
	met   *metrics.Metrics

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	c       *cron.Cron
	running bool

	runCtx    context.Context
	runCancel context.CancelFunc
	stopCh    chan struct{}

	// cycleMu serializes cycles so a slow cycle is never overlapped by
	// the next tick.
	cycleMu sync.Mutex
}

func New(cfg Config, store storage.Store, tr transport.Transport, clock reminder.Clock, log logx.Logger, met *metrics.Metrics) *Service {
	if clock == nil {
		clock = reminder.SystemClock()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if met == nil {
		met = metrics.Nop()
	}
	s := &Service{store: store, tr: tr, clock: clock, log: log, met: met}
	s.applyLocked(cfg)
	return s
}

func (s *Service) applyLocked(cfg Config) {
	s.cfg = cfg
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 5
	}
	s.limiter = rate.NewLimiter(rate.Limit(rps), rps)
}

// Apply swaps the runtime knobs. A changed poll spec restarts the cron
// trigger; grace/batch/rate take effect on the next cycle.
//
// The wait for the in-flight cycle happens with the mutex released, since
// RunCycle takes it to snapshot config.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	restart := s.running && (cfg.Poll != s.cfg.Poll || cfg.Enabled != s.cfg.Enabled)
	runCtx := s.runCtx
	s.applyLocked(cfg)
	var old *cron.Cron
	if restart {
		old = s.c
		s.c = nil
	}
	s.mu.Unlock()

	if !restart {
		return
	}
	if old != nil {
		<-old.Stop().Done()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	if s.cfg.Enabled {
		s.startCronLocked(runCtx)
		s.log.Info("dispatcher rescheduled", logx.String("poll", pollString(s.cfg.Poll)))
	} else {
		s.log.Info("dispatcher disabled by config")
	}
}

// Start registers the poll trigger and returns. Cycles run on the cron
// goroutine; Stop waits for the in-flight cycle.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(ctx)

	if !s.cfg.Enabled {
		s.log.Info("dispatcher disabled; not polling")
		return
	}
	s.startCronLocked(s.runCtx)
	s.log.Info("dispatcher started",
		logx.String("poll", pollString(s.cfg.Poll)),
		logx.Duration("grace", s.cfg.Grace),
		logx.Int("batch_limit", s.cfg.BatchLimit),
		logx.Int("rate_per_sec", s.cfg.RatePerSec),
	)
}

func (s *Service) startCronLocked(runCtx context.Context) {
	c := cron.New(cron.WithParser(cronParser))
	job := cron.FuncJob(func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("panic in dispatch cycle", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			}
		}()
		s.RunCycle(runCtx)
	})
	if s.cfg.Poll.Kind == config.PollCron {
		// Spec was validated at config load; ignore the error path.
		_, _ = c.AddJob(s.cfg.Poll.Cron, job)
	} else {
		c.Schedule(cron.Every(s.cfg.Poll.Every), job)
	}
	s.c = c
	c.Start()
}

// Stop shuts the loop down gracefully: no new cycles, the in-flight item
// finishes, then the trigger goroutine exits. Bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	cancel := s.runCancel
	c := s.c
	s.c = nil
	s.mu.Unlock()

	if c != nil {
		stopped := c.Stop()
		select {
		case <-stopped.Done():
		case <-ctx.Done():
			// Give up waiting; the cycle also observes runCtx.
		}
	}
	if cancel != nil {
		cancel()
	}
	s.log.Info("dispatcher stopped")
}

func pollString(p config.PollSpec) string {
	if p.Kind == config.PollCron {
		return p.Cron
	}
	return p.Every.String()
}
