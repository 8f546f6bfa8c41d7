package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tinyland-inc/qunbridge/cmd/qunbridge/internal"
	"github.com/tinyland-inc/qunbridge/pkg/bridge"
	"github.com/tinyland-inc/qunbridge/pkg/channels"
	"github.com/tinyland-inc/qunbridge/pkg/config"
	"github.com/tinyland-inc/qunbridge/pkg/events"
	"github.com/tinyland-inc/qunbridge/pkg/health"
	"github.com/tinyland-inc/qunbridge/pkg/keywords"
	"github.com/tinyland-inc/qunbridge/pkg/logger"
	"github.com/tinyland-inc/qunbridge/pkg/telemetry"
)

// services is everything the gateway runs between startup and shutdown.
type services struct {
	cfg      *config.Config
	comps    *internal.Components
	metrics  *telemetry.Metrics
	bridge   *bridge.Controller
	health   *health.Server
	listener *events.PGListener

	cancel context.CancelFunc
	done   chan struct{}
	tasks  int
}

func newServices(ctx context.Context, cfg *config.Config, transport channels.Transport) (*services, error) {
	comps, err := internal.BuildComponents(ctx, cfg, transport)
	if err != nil {
		return nil, err
	}

	metrics := telemetry.NewMetrics()
	comps.Keywords.OnRefresh(metrics.SetKeywordCount)

	opts := bridge.OptionsFromConfig(cfg)
	opts.Classifier = comps.Classifier
	opts.Metrics = metrics
	ctrl := bridge.New(comps.Transport, opts)

	hs := health.NewServer(cfg.Gateway.Host, cfg.Gateway.Port)
	hs.SetReadyFunc(func() (bool, string) {
		if !ctrl.Enabled() {
			return true, "disabled"
		}
		return ctrl.Ready(), ctrl.State().String()
	})
	hs.Handle("/metrics", metrics.Handler())
	if cfg.Events.WebhookPath != "" {
		hs.Handle(cfg.Events.WebhookPath, events.NewWebhookHandler(cfg.Events.WebhookKey, ctrl))
	}

	return &services{
		cfg:      cfg,
		comps:    comps,
		metrics:  metrics,
		bridge:   ctrl,
		health:   hs,
		listener: events.NewPGListener(cfg.Events.PostgresDSN, cfg.Events.PGChannel, ctrl),
		done:     make(chan struct{}),
	}, nil
}

// start launches the bridge and the background tasks feeding it.
func (s *services) start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.bridge.Start()

	var tasks []func(context.Context) error
	if s.cfg.Keywords.Refresh != "" {
		tasks = append(tasks, func(ctx context.Context) error {
			return s.comps.Keywords.Run(ctx, s.cfg.Keywords.Refresh)
		})
	}
	if s.cfg.Keywords.Watch && s.cfg.Keywords.Source == "file" {
		path := s.cfg.KeywordFilePath()
		tasks = append(tasks, func(ctx context.Context) error {
			return keywords.Watch(ctx, path, func() {
				if err := s.comps.Keywords.Refresh(ctx); err != nil {
					logger.WarnCF("keywords", "Reload after change failed", map[string]any{
						"path":  path,
						"error": err.Error(),
					})
				}
			})
		})
	}
	if s.listener.Enabled() {
		tasks = append(tasks, s.listener.Run)
	}

	s.tasks = len(tasks)
	for _, task := range tasks {
		go func() {
			if err := task(ctx); err != nil {
				logger.ErrorCF("gateway", "Background task stopped", map[string]any{"error": err.Error()})
			}
			s.done <- struct{}{}
		}()
	}
}

// stop shuts everything down in reverse order and waits for the tasks.
func (s *services) stop(ctx context.Context) {
	if s.cancel != nil {
		s.cancel()
		for i := 0; i < s.tasks; i++ {
			<-s.done
		}
	}
	if err := s.bridge.Stop(); err != nil {
		logger.WarnCF("gateway", "Bridge stop reported an error", map[string]any{"error": err.Error()})
	}
	if err := s.health.Stop(ctx); err != nil {
		logger.WarnCF("health", "Health server stop failed", map[string]any{"error": err.Error()})
	}
	s.comps.Close()
}

func gatewayCmd(debug bool) error {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	internal.SetupLogging(cfg, debug)
	if debug {
		fmt.Println("🔍 Debug mode enabled")
	}

	shutdownTracing, err := telemetry.InitTracing(cfg.Tracing, internal.GetVersion())
	if err != nil {
		fmt.Printf("⚠ Tracing disabled: %v\n", err)
		shutdownTracing = func() {}
	}
	defer shutdownTracing()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := newServices(ctx, cfg, nil)
	if err != nil {
		return fmt.Errorf("error creating bridge: %w", err)
	}

	fmt.Printf("\n%s Bridge:\n", internal.Logo)
	if svc.bridge.Enabled() {
		fmt.Printf("  • Group: %s\n", cfg.Bridge.GroupName)
		fmt.Printf("  • Transport: %s\n", svc.comps.Transport.Name())
	} else {
		fmt.Println("  • Disabled: no group name configured")
	}
	fmt.Printf("  • Keywords: %s\n", svc.comps.Keywords.SourceName())
	if svc.comps.Chatbot != nil {
		fmt.Printf("  • Chatbot: %s\n", svc.comps.Chatbot.Name())
	}

	svc.start(ctx)
	fmt.Println("✓ Bridge started")
	if svc.listener.Enabled() {
		fmt.Printf("✓ Listening for %q notifications\n", cfg.Events.PGChannel)
	}

	go func() {
		if err := svc.health.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorCF("health", "Health server error", map[string]any{"error": err.Error()})
		}
	}()
	fmt.Printf("✓ Health endpoints available at http://%s/health and /ready\n", svc.health.Addr())
	if cfg.Events.WebhookPath != "" {
		fmt.Printf("✓ Article webhook at http://%s%s\n", svc.health.Addr(), cfg.Events.WebhookPath)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	svc.stop(stopCtx)
	fmt.Println("✓ Gateway stopped")

	return nil
}
