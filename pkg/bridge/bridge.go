// Package bridge runs the article-to-group bridge: it keeps a chat session to
// the configured group, announces created articles there and answers
// questions asked in it.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/tinyland-inc/qunbridge/pkg/bus"
	"github.com/tinyland-inc/qunbridge/pkg/channels"
	"github.com/tinyland-inc/qunbridge/pkg/classifier"
	"github.com/tinyland-inc/qunbridge/pkg/config"
	"github.com/tinyland-inc/qunbridge/pkg/logger"
	"github.com/tinyland-inc/qunbridge/pkg/notifier"
	"github.com/tinyland-inc/qunbridge/pkg/session"
	"github.com/tinyland-inc/qunbridge/pkg/telemetry"
)

type State int32

const (
	Stopped State = iota
	Starting
	Running
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

type Options struct {
	// GroupName is the display name of the target group. Empty disables the bridge.
	GroupName         string
	BaseURL           string
	ExcludedTypes     []string
	InboundQueueSize  int
	OutboundQueueSize int
	// ReconnectInterval > 0 reconnects and re-resolves after a lost or
	// failed connection. Zero leaves the bridge disconnected until restarted.
	ReconnectInterval time.Duration

	Classifier *classifier.Classifier
	Metrics    *telemetry.Metrics
}

// OptionsFromConfig maps the bridge section of cfg. Classifier and Metrics
// are left for the caller.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		GroupName:         cfg.Bridge.GroupName,
		BaseURL:           cfg.Bridge.BaseURL,
		ExcludedTypes:     cfg.Bridge.ExcludedTypes,
		InboundQueueSize:  cfg.Bridge.InboundQueueSize,
		OutboundQueueSize: cfg.Bridge.OutboundQueueSize,
		ReconnectInterval: time.Duration(cfg.Bridge.ReconnectInterval) * time.Second,
	}
}

// run is everything owned by one Start..Stop cycle.
type run struct {
	session  *session.Session
	notifier *notifier.Notifier
	cancel   context.CancelFunc
	done     chan struct{}
	dropped  chan struct{}
}

type Controller struct {
	transport channels.Transport
	opts      Options

	mu    sync.Mutex // serializes Start and Stop
	state atomic.Int32
	cur   atomic.Pointer[run]
}

func New(transport channels.Transport, opts Options) *Controller {
	return &Controller{transport: transport, opts: opts}
}

// Enabled reports whether a group name is configured.
func (c *Controller) Enabled() bool {
	return c.opts.GroupName != ""
}

func (c *Controller) State() State {
	return State(c.state.Load())
}

// Ready reports whether the bridge is connected with a bound group.
func (c *Controller) Ready() bool {
	return c.State() == Running
}

// Session returns the session of the current run, or nil while stopped.
func (c *Controller) Session() *session.Session {
	if r := c.cur.Load(); r != nil {
		return r.session
	}
	return nil
}

// Start launches the connect-and-resolve task and returns immediately. It
// is a no-op for a disabled bridge or one that is already started.
func (c *Controller) Start() {
	if !c.Enabled() {
		logger.InfoC("bridge", "No group configured; bridge disabled")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State() != Stopped {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		cancel:  cancel,
		done:    make(chan struct{}),
		dropped: make(chan struct{}, 1),
	}

	var sess *session.Session
	sess = session.New(c.transport, session.Options{
		InboundQueueSize:  c.opts.InboundQueueSize,
		OutboundQueueSize: c.opts.OutboundQueueSize,
		Handler: func(ctx context.Context, msg bus.InboundMessage) {
			c.handleInbound(ctx, sess, msg)
		},
		OnSent: func(_ bus.OutboundMessage, err error) {
			c.opts.Metrics.Send(c.transport.Name(), err)
			if err != nil {
				c.opts.Metrics.Error(telemetry.KindSend)
			}
		},
		OnDrop: func(uint64, error) {
			select {
			case r.dropped <- struct{}{}:
			default:
			}
		},
	})
	r.session = sess
	r.notifier = notifier.New(c.opts.BaseURL, c.opts.ExcludedTypes, sess)

	c.cur.Store(r)
	c.state.Store(int32(Starting))
	go c.loop(ctx, r)

	logger.InfoCF("bridge", "Bridge starting", map[string]any{
		"transport": c.transport.Name(),
		"group":     c.opts.GroupName,
	})
}

// Stop cancels a connect in progress or closes the live session, then waits
// for the background task. It is a no-op while stopped. A failed transport
// close is logged and returned wrapped in ErrClose.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State() == Stopped {
		return nil
	}

	r := c.cur.Load()
	r.cancel()
	closeErr := r.session.Close()
	<-r.done

	c.cur.Store(nil)
	c.state.Store(int32(Stopped))
	c.opts.Metrics.SetRunning(false)

	if closeErr != nil {
		err := fmt.Errorf("%w: %v", ErrClose, closeErr)
		c.opts.Metrics.Error(telemetry.KindClose)
		logger.WarnCF("bridge", "Bridge stopped with errors", map[string]any{"error": err.Error()})
		return err
	}
	logger.InfoC("bridge", "Bridge stopped")
	return nil
}

func (c *Controller) loop(ctx context.Context, r *run) {
	defer close(r.done)

	for {
		if err := c.establish(ctx, r.session); err != nil && ctx.Err() == nil {
			logger.ErrorCF("bridge", "Bridge not running", map[string]any{
				"transport": c.transport.Name(),
				"error":     err.Error(),
			})
			if errors.Is(err, ErrConnection) {
				// nothing else will signal a retry
				select {
				case r.dropped <- struct{}{}:
				default:
				}
			}
		}
		if c.opts.ReconnectInterval <= 0 {
			for {
				select {
				case <-ctx.Done():
					return
				case <-r.dropped:
					c.markDown()
				}
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-r.dropped:
		}
		c.markDown()

		timer := time.NewTimer(c.opts.ReconnectInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		logger.InfoCF("bridge", "Reconnecting", map[string]any{"transport": c.transport.Name()})
	}
}

func (c *Controller) markDown() {
	c.state.Store(int32(Starting))
	c.opts.Metrics.SetRunning(false)
}

// establish connects, lists the groups and binds the configured one.
func (c *Controller) establish(ctx context.Context, sess *session.Session) error {
	err := sess.Connect(ctx)
	c.opts.Metrics.Connect(c.transport.Name(), err)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, session.ErrClosed) {
			return err
		}
		c.opts.Metrics.Error(telemetry.KindConnection)
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}

	groups, err := sess.ListGroups(ctx)
	if err != nil {
		c.opts.Metrics.Error(telemetry.KindResolution)
		return fmt.Errorf("%w: list groups: %v", ErrResolution, err)
	}
	for _, g := range groups {
		logger.InfoCF("bridge", "Group", map[string]any{
			"id":   string(g.ID),
			"name": g.Name,
		})
	}

	id, err := session.Resolve(groups, c.opts.GroupName)
	if err != nil {
		c.opts.Metrics.Error(telemetry.KindResolution)
		return fmt.Errorf("%w: %v", ErrResolution, err)
	}
	target, err := sess.Bind(id)
	if err != nil {
		c.opts.Metrics.Error(telemetry.KindResolution)
		return fmt.Errorf("%w: bind %s: %v", ErrResolution, id, err)
	}

	c.state.Store(int32(Running))
	c.opts.Metrics.SetRunning(true)
	logger.InfoCF("bridge", "Bridge running", map[string]any{
		"transport":  c.transport.Name(),
		"group":      c.opts.GroupName,
		"group_id":   string(target.GroupID),
		"generation": target.Generation,
	})
	return nil
}

// OnArticleCreated announces item in the bound group. It is the entry point
// for the content platform's event; every failure is contained here.
func (c *Controller) OnArticleCreated(ctx context.Context, item notifier.ContentItem) {
	if !c.Enabled() {
		return
	}
	r := c.cur.Load()
	if r == nil {
		c.opts.Metrics.Notification("dropped")
		logger.DebugCF("bridge", "Bridge stopped; article not announced", map[string]any{"id": string(item.ID)})
		return
	}

	err := r.notifier.Notify(ctx, item)
	switch {
	case err == nil:
		c.opts.Metrics.Notification("sent")
	case errors.Is(err, notifier.ErrExcluded):
		c.opts.Metrics.Notification("skipped")
	default:
		c.opts.Metrics.Notification("dropped")
		logger.WarnCF("bridge", "Article not announced", map[string]any{
			"id":    string(item.ID),
			"error": fmt.Errorf("%w: %v", ErrSend, err).Error(),
		})
	}
}

func (c *Controller) handleInbound(ctx context.Context, sess *session.Session, msg bus.InboundMessage) {
	if c.opts.Classifier == nil {
		return
	}

	ctx, span := telemetry.StartSpan(ctx, "bridge.classify",
		attribute.String("group", string(msg.GroupID)),
	)
	start := time.Now()
	bound := sess.Target()
	res := c.opts.Classifier.Classify(ctx, bound, msg)
	c.opts.Metrics.Classification(res.Action.String(), res.Reason, time.Since(start))
	span.SetAttributes(attribute.String("action", res.Action.String()))

	if res.Err != nil {
		err := fmt.Errorf("%w: %v", ErrClassificationBackend, res.Err)
		c.opts.Metrics.Error(telemetry.KindClassificationBackend)
		logger.WarnCF("bridge", "Classification backend failed", map[string]any{
			"group": string(msg.GroupID),
			"error": err.Error(),
		})
		telemetry.EndSpan(span, err)
		return
	}
	if res.Action == classifier.ActionNone {
		telemetry.EndSpan(span, nil)
		return
	}

	err := sess.SendToGroup(*bound, res.Reply)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrSend, err)
		logger.WarnCF("bridge", "Reply not sent", map[string]any{
			"group":  string(msg.GroupID),
			"action": res.Action.String(),
			"error":  err.Error(),
		})
	} else {
		logger.InfoCF("bridge", "Replying", map[string]any{
			"group":   string(msg.GroupID),
			"action":  res.Action.String(),
			"keyword": res.Keyword,
		})
	}
	telemetry.EndSpan(span, err)
}
