package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/ucsaes/MSH-mock/internal/adapters/gpu"
	router "github.com/ucsaes/MSH-mock/internal/adapters/http"
	"github.com/ucsaes/MSH-mock/internal/adapters/rtc"
	signaling "github.com/ucsaes/MSH-mock/internal/adapters/signal"
	"github.com/ucsaes/MSH-mock/internal/app"
	"github.com/ucsaes/MSH-mock/internal/app/clock"
	"github.com/ucsaes/MSH-mock/internal/app/orch"
	"github.com/ucsaes/MSH-mock/internal/config"
	"github.com/ucsaes/MSH-mock/internal/metrics"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	fs := config.AddFlags(pflag.CommandLine)
	pflag.Parse()

	cfg, err := config.Load(fs)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode != "debug" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	zerolog.SetGlobalLevel(cfg.Level())
	cfg.Watch(func(next *config.Config) {
		zerolog.SetGlobalLevel(next.Level())
		log.Info().Str("module", "main").Str("level", next.Level().String()).Msg("log level reloaded")
	})

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("hub stopped")
	}
	log.Info().Msg("Server exited gracefully")
}

func run(ctx context.Context, cfg *config.Config) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	peers, err := rtc.NewFactory(cfg.ICEServers, cfg.PLIInterval, rtc.NewPionLogger(log.Logger, zerolog.WarnLevel))
	if err != nil {
		return fmt.Errorf("webrtc: %w", err)
	}
	gpuClient, err := gpu.NewClient(cfg.GpuURL, cfg.GpuTimeout, gpu.WithRetries(cfg.GpuRetries, cfg.GpuRetryBackoff))
	if err != nil {
		return err
	}

	o := orch.New(app.NewSessionStore(), peers, gpuClient, m)
	o.PushWorkers = cfg.PushWorkers

	ctrl := signaling.NewSignalWSController(o, clock.Estimator{Timeout: cfg.OffsetTimeout}, m)
	ctrl.Limiter = signaling.NewRateLimiter(cfg.RateLimit, time.Second)
	ctrl.SendBuffer = cfg.SendBuffer
	ctrl.ReadLimit = cfg.ReadLimit
	ctrl.PingPeriod = cfg.PingPeriod

	servers := []*http.Server{
		{
			Addr:    fmt.Sprintf(":%d", cfg.Port),
			Handler: router.SetupRouter(ctx, cfg, o, ctrl, reg),
		},
		{
			Addr:    fmt.Sprintf(":%d", cfg.GpuPort),
			Handler: router.SetupGpuRouter(cfg, gpu.NewInbound(o, cfg.ReadLimit)),
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			log.Info().Str("module", "main").Str("addr", srv.Addr).Msg("listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listen %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		o.Shutdown()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Str("addr", srv.Addr).Msg("Server forced to shutdown")
			}
		}
		return nil
	})
	return g.Wait()
}
