package daemon

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/danmuck/voltshift/internal/auth"
	"github.com/danmuck/voltshift/internal/broker"
	"github.com/danmuck/voltshift/internal/config"
	"github.com/danmuck/voltshift/internal/cpuinfo"
	"github.com/danmuck/voltshift/internal/mailbox"
	"github.com/danmuck/voltshift/internal/msr"
	"github.com/danmuck/voltshift/internal/observability"
	"github.com/danmuck/voltshift/internal/retry"
	"github.com/danmuck/voltshift/internal/server"
	"github.com/danmuck/voltshift/internal/tools"
	"github.com/rs/zerolog"
)

const metricsShutdownTimeout = 2 * time.Second

// Service is one voltshiftd process.
type Service struct {
	cfg        config.Config
	configPath string
	cpu        cpuinfo.CPUInfo
	guard      *auth.Guard
	logger     zerolog.Logger

	// openDevice is replaced in tests.
	openDevice func(config.Config) (msr.Device, error)

	mu          sync.Mutex
	dev         msr.Device
	broker      *broker.Broker
	server      *server.Server
	metricsAddr string
}

// NewService builds a service for cfg. configPath, when set, is watched for
// access policy changes.
func NewService(cfg config.Config, configPath string) *Service {
	return &Service{
		cfg:        cfg,
		configPath: configPath,
		cpu:        cpuinfo.GetCPUInfo(),
		guard:      auth.NewGuard(cfg.Policy()),
		logger:     observability.Logger("voltshiftd", "daemon"),
		openDevice: openDevice,
	}
}

func openDevice(cfg config.Config) (msr.Device, error) {
	return openDeviceWith(cfg, tools.ExecRunner{})
}

// openDeviceWith opens the register device, loading the msr module once if
// its node does not exist yet.
func openDeviceWith(cfg config.Config, runner tools.CommandRunner) (msr.Device, error) {
	if cfg.Simulate {
		return SimulatedDevice(), nil
	}
	dev, err := msr.Open(cfg.CPU, cfg.DevicePath)
	if err == nil {
		return dev, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	if lerr := tools.LoadModule(runner, "msr"); lerr != nil {
		return nil, errors.Join(err, lerr)
	}
	dev, err = msr.Open(cfg.CPU, cfg.DevicePath)
	if err != nil {
		return nil, err
	}
	return dev, nil
}

// Run blocks until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.RunContext(ctx)
}

// RunContext boots the daemon and serves until ctx is done.
func (s *Service) RunContext(ctx context.Context) error {
	if err := s.bootstrap(); err != nil {
		return err
	}
	defer s.dev.Close()
	return s.serve(ctx)
}

// Broker returns the running broker, or nil before boot.
func (s *Service) Broker() *broker.Broker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.broker
}

// MetricsAddr returns the bound metrics address once it is listening.
func (s *Service) MetricsAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metricsAddr
}

// Policy returns the access policy currently enforced.
func (s *Service) Policy() auth.Policy {
	return s.guard.Load()
}

func (s *Service) bootstrap() error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	if !s.cfg.Simulate {
		if err := s.cpu.CheckMailbox(); err != nil {
			return fmt.Errorf("%w (set simulate = true to run without hardware)", err)
		}
	}
	dev, err := s.openDevice(s.cfg)
	if err != nil {
		return fmt.Errorf("open register device: %w", err)
	}

	b := broker.New(dev, broker.Options{
		Mailbox: mailbox.Options{
			Retries: s.cfg.MailboxRetries,
			Backoff: retry.Fixed(s.cfg.MailboxRetryPause),
		},
		Observer: observability.NewBrokerMetrics(),
	})
	if err := b.Start(); err != nil {
		dev.Close()
		return err
	}
	srv := server.New(server.Config{
		SocketPath: s.cfg.SocketPath,
		SocketMode: s.cfg.SocketMode,
	}, b, s.guard)

	s.mu.Lock()
	s.dev = dev
	s.broker = b
	s.server = srv
	s.mu.Unlock()

	s.logger.Info().Msgf(
		"daemon.Service.bootstrap ready cpu=%q simulate=%t socket=%s",
		s.cpu.BrandString,
		s.cfg.Simulate,
		s.cfg.SocketPath,
	)
	return nil
}

func (s *Service) serve(ctx context.Context) error {
	ln, err := s.server.Listen()
	if err != nil {
		_ = s.broker.Stop()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- s.server.ServeListener(ctx, ln)
	}()

	var workers sync.WaitGroup
	fatal := make(chan error, 2)

	if s.cfg.ReportInterval > 0 {
		sampler := broker.NewSampler(s.broker, s.cfg.ReportInterval)
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := sampler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn().Err(err).Msg("daemon.Service.serve sampler stopped")
			}
		}()
	}

	if s.cfg.MetricsAddr != "" {
		mln, err := net.Listen("tcp", s.cfg.MetricsAddr)
		if err != nil {
			cancel()
			<-serverDone
			return fmt.Errorf("metrics listen %s: %w", s.cfg.MetricsAddr, err)
		}
		s.mu.Lock()
		s.metricsAddr = mln.Addr().String()
		s.mu.Unlock()

		hs := &http.Server{
			Handler:           observability.MetricsHandler(s.logger),
			ReadHeaderTimeout: 5 * time.Second,
		}
		workers.Add(2)
		go func() {
			defer workers.Done()
			if err := hs.Serve(mln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				fatal <- fmt.Errorf("metrics: %w", err)
			}
		}()
		go func() {
			defer workers.Done()
			<-ctx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			defer scancel()
			_ = hs.Shutdown(sctx)
		}()
		s.logger.Info().Msgf("daemon.Service.serve metrics addr=%s", mln.Addr())
	}

	if s.configPath != "" {
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := config.Watch(ctx, s.configPath, s.reload); err != nil {
				s.logger.Warn().Err(err).Msg("daemon.Service.serve config watch disabled")
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		s.logger.Info().Msg("daemon.Service.serve shutdown")
		runErr = <-serverDone
	case runErr = <-serverDone:
	case runErr = <-fatal:
		cancel()
		<-serverDone
	}
	cancel()
	workers.Wait()
	return runErr
}

// reload applies the access policy from a changed config. Other keys take
// effect on restart.
func (s *Service) reload(cfg config.Config) {
	s.guard.Store(cfg.Policy())
	s.logger.Info().Msgf(
		"daemon.Service.reload policy uids=%v gids=%v writable=%d",
		cfg.AllowedUIDs,
		cfg.AllowedGIDs,
		len(cfg.WritableMSRs),
	)
	if cfg.SocketPath != s.cfg.SocketPath || cfg.Simulate != s.cfg.Simulate || cfg.CPU != s.cfg.CPU {
		s.logger.Warn().Msg("daemon.Service.reload device and socket changes need a restart")
	}
}
