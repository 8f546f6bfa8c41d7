package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tinyland-inc/qunbridge/pkg/bus"
	"github.com/tinyland-inc/qunbridge/pkg/channels"
)

var testGroups = []bus.Group{
	{ID: "100", Name: "黑客派"},
	{ID: "200", Name: "other"},
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func connectAndBind(t *testing.T, s *Session) bus.Target {
	t.Helper()
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	groups, err := s.ListGroups(context.Background())
	if err != nil {
		t.Fatalf("ListGroups: %v", err)
	}
	id, err := Resolve(groups, "黑客派")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	target, err := s.Bind(id)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	return target
}

func TestSession_ConnectBindSend(t *testing.T) {
	tr := channels.NewMemoryTransport(testGroups, nil)
	var sent atomic.Int32
	s := New(tr, Options{OnSent: func(bus.OutboundMessage, error) { sent.Add(1) }})
	defer s.Close()

	if got := s.State(); got != Disconnected {
		t.Fatalf("initial state: got %s, want disconnected", got)
	}

	target := connectAndBind(t, s)
	if s.State() != Connected {
		t.Fatalf("state: got %s, want connected", s.State())
	}
	if target.GroupID != "100" || target.Generation != s.Generation() {
		t.Fatalf("unexpected target %+v (generation %d)", target, s.Generation())
	}

	if err := s.SendToGroup(target, "hello"); err != nil {
		t.Fatalf("SendToGroup: %v", err)
	}
	if err := s.Send("again"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitFor(t, "two sends", func() bool { return len(tr.Sent()) == 2 })

	msgs := tr.Sent()
	if msgs[0].GroupID != "100" || msgs[0].Text != "hello" || msgs[1].Text != "again" {
		t.Errorf("unexpected sends %+v", msgs)
	}
	waitFor(t, "OnSent callbacks", func() bool { return sent.Load() == 2 })
}

func TestSession_SendWithoutConnectionIsNoop(t *testing.T) {
	tr := channels.NewMemoryTransport(testGroups, nil)
	s := New(tr, Options{})
	defer s.Close()

	if err := s.SendToGroup(bus.Target{Generation: 1, GroupID: "100"}, "x"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected send: got %v, want ErrNotConnected", err)
	}
	if err := s.Send("x"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected Send: got %v, want ErrNotConnected", err)
	}
	if _, err := s.ListGroups(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("ListGroups: got %v, want ErrNotConnected", err)
	}

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := s.Send("x"); !errors.Is(err, ErrUnresolved) {
		t.Errorf("unresolved Send: got %v, want ErrUnresolved", err)
	}
	if err := s.SendToGroup(bus.Target{}, "x"); !errors.Is(err, ErrUnresolved) {
		t.Errorf("empty target: got %v, want ErrUnresolved", err)
	}
	if err := s.SendToGroup(bus.Target{Generation: s.Generation(), GroupID: "100"}, "x"); !errors.Is(err, ErrUnresolved) {
		t.Errorf("unbound target: got %v, want ErrUnresolved", err)
	}

	time.Sleep(20 * time.Millisecond)
	if n := len(tr.Sent()); n != 0 {
		t.Errorf("network sends: got %d, want 0", n)
	}
}

func TestSession_BindOncePerGeneration(t *testing.T) {
	s := New(channels.NewMemoryTransport(testGroups, nil), Options{})
	defer s.Close()

	connectAndBind(t, s)
	if _, err := s.Bind("200"); !errors.Is(err, ErrAlreadyBound) {
		t.Fatalf("second Bind: got %v, want ErrAlreadyBound", err)
	}
	if got := s.Target(); got == nil || got.GroupID != "100" {
		t.Errorf("target: got %+v, want group 100", got)
	}
}

func TestSession_StaleTargetRejectedAfterReconnect(t *testing.T) {
	tr := channels.NewMemoryTransport(testGroups, nil)
	dropped := make(chan uint64, 1)
	s := New(tr, Options{OnDrop: func(gen uint64, _ error) { dropped <- gen }})
	defer s.Close()

	old := connectAndBind(t, s)
	tr.Drop(errors.New("connection reset"))

	select {
	case gen := <-dropped:
		if gen != old.Generation {
			t.Errorf("dropped generation: got %d, want %d", gen, old.Generation)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnDrop not called")
	}
	if s.State() != Disconnected {
		t.Fatalf("state after drop: got %s, want disconnected", s.State())
	}
	if s.Target() != nil {
		t.Error("target survived the drop")
	}

	fresh := connectAndBind(t, s)
	if fresh.Generation == old.Generation {
		t.Fatalf("generation reused: %d", fresh.Generation)
	}
	if err := s.SendToGroup(old, "stale"); !errors.Is(err, ErrStaleTarget) {
		t.Errorf("stale send: got %v, want ErrStaleTarget", err)
	}
	if err := s.SendToGroup(fresh, "fresh"); err != nil {
		t.Fatalf("fresh send: %v", err)
	}
	waitFor(t, "fresh send", func() bool { return len(tr.Sent()) == 1 })
	if got := tr.Sent()[0].Text; got != "fresh" {
		t.Errorf("sent text: got %q, want %q", got, "fresh")
	}
}

func TestSession_InboundHandlerGetsGeneration(t *testing.T) {
	tr := channels.NewMemoryTransport(testGroups, nil)
	got := make(chan bus.InboundMessage, 1)
	s := New(tr, Options{Handler: func(_ context.Context, msg bus.InboundMessage) { got <- msg }})
	defer s.Close()

	target := connectAndBind(t, s)
	tr.Deliver("100", "42", "hello?")

	select {
	case msg := <-got:
		if msg.Generation != target.Generation || msg.GroupID != "100" || msg.Content != "hello?" {
			t.Errorf("unexpected message %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler not invoked")
	}
}

func TestSession_HandlerPanicDoesNotKillWorker(t *testing.T) {
	tr := channels.NewMemoryTransport(testGroups, nil)
	var calls atomic.Int32
	s := New(tr, Options{Handler: func(_ context.Context, msg bus.InboundMessage) {
		calls.Add(1)
		if msg.Content == "boom" {
			panic("backend exploded")
		}
	}})
	defer s.Close()

	connectAndBind(t, s)
	tr.Deliver("100", "1", "boom")
	tr.Deliver("100", "1", "fine")
	waitFor(t, "both messages handled", func() bool { return calls.Load() == 2 })
}

func TestSession_ConnectFailure(t *testing.T) {
	tr := channels.NewMemoryTransport(nil, nil, channels.WithConnectError(errors.New("refused")))
	s := New(tr, Options{})
	defer s.Close()

	err := s.Connect(context.Background())
	if err == nil {
		t.Fatal("expected connect error")
	}
	if s.State() != Disconnected {
		t.Errorf("state: got %s, want disconnected", s.State())
	}
	// a failed attempt leaves the session usable for another try
	if err := s.Connect(context.Background()); err == nil {
		t.Fatal("expected second connect error")
	}
	if tr.Connects() != 2 {
		t.Errorf("connect attempts: got %d, want 2", tr.Connects())
	}
}

func TestSession_CloseDuringConnect(t *testing.T) {
	gate := make(chan struct{})
	tr := channels.NewMemoryTransport(testGroups, nil, channels.WithConnectGate(gate))
	s := New(tr, Options{})

	errc := make(chan error, 1)
	go func() { errc <- s.Connect(context.Background()) }()
	waitFor(t, "connect attempt", func() bool { return tr.Connects() == 1 })

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case err := <-errc:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("Connect: got %v, want ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not return after Close")
	}
	if s.State() != Closed {
		t.Errorf("state: got %s, want closed", s.State())
	}
	if err := s.Send("late"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("send after close: got %v, want ErrNotConnected", err)
	}
	if err := s.Connect(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("reconnect after close: got %v, want ErrClosed", err)
	}
	if n := len(tr.Sent()); n != 0 {
		t.Errorf("sends: got %d, want 0", n)
	}
}

func TestSession_CloseIdempotent(t *testing.T) {
	tr := channels.NewMemoryTransport(testGroups, nil, channels.WithCloseError(errors.New("socket busy")))
	s := New(tr, Options{})

	if err := s.Close(); err != nil {
		t.Fatalf("Close before connect: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if tr.Closes() != 0 {
		t.Errorf("transport closed %d times without a connection", tr.Closes())
	}

	s2 := New(tr, Options{})
	connectAndBind(t, s2)
	if err := s2.Close(); err == nil {
		t.Error("expected the transport close error to be reported")
	}
	if err := s2.Close(); err != nil {
		t.Errorf("repeated Close: %v", err)
	}
}

func TestSession_CloseRacesWithSends(t *testing.T) {
	tr := channels.NewMemoryTransport(testGroups, nil)
	s := New(tr, Options{OutboundQueueSize: 4})
	target := connectAndBind(t, s)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_ = s.SendToGroup(target, "spam")
			}
		}()
	}
	_ = s.Close()
	wg.Wait()

	if err := s.SendToGroup(target, "late"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("send after close: got %v, want ErrNotConnected", err)
	}
}

func TestSession_SendQueuedDuringTeardownFails(t *testing.T) {
	s := New(channels.NewMemoryTransport(testGroups, nil), Options{})
	target := connectAndBind(t, s)
	defer s.Close()

	// teardown has started but the bus has not been closed yet
	s.current.Load().cancel()

	if err := s.SendToGroup(target, "lost"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("send during teardown: got %v, want ErrNotConnected", err)
	}
}

func TestSession_AlreadyConnected(t *testing.T) {
	s := New(channels.NewMemoryTransport(testGroups, nil), Options{})
	defer s.Close()

	connectAndBind(t, s)
	if err := s.Connect(context.Background()); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("got %v, want ErrAlreadyConnected", err)
	}
}

func TestStateString(t *testing.T) {
	for state, want := range map[State]string{
		Disconnected: "disconnected",
		Connecting:   "connecting",
		Connected:    "connected",
		Closed:       "closed",
	} {
		if got := state.String(); got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}
}
