package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"

	"github.com/tinyland-inc/qunbridge/cmd/qunbridge/internal"
	"github.com/tinyland-inc/qunbridge/pkg/bridge"
	"github.com/tinyland-inc/qunbridge/pkg/bus"
	"github.com/tinyland-inc/qunbridge/pkg/channels"
	"github.com/tinyland-inc/qunbridge/pkg/config"
	"github.com/tinyland-inc/qunbridge/pkg/notifier"
)

const (
	localGroup = bus.GroupID("local")
	localUser  = "console"
)

var errQuit = errors.New("quit")

// console drives a bridge over a MemoryTransport seeded with one group.
type console struct {
	transport *channels.MemoryTransport
	bridge    *bridge.Controller
	comps     *internal.Components

	mu  sync.Mutex
	out io.Writer
}

func newConsole(ctx context.Context, cfg *config.Config, out io.Writer) (*console, error) {
	if cfg.Bridge.GroupName == "" {
		cfg.Bridge.GroupName = "console"
	}
	cfg.Bridge.Transport = "memory"

	c := &console{out: out}
	c.transport = channels.NewMemoryTransport(
		[]bus.Group{{ID: localGroup, Name: cfg.Bridge.GroupName}},
		nil,
		channels.WithSendHook(func(msg channels.SentMessage) {
			c.printf("\n%s %s\n", internal.Logo, msg.Text)
		}),
	)

	comps, err := internal.BuildComponents(ctx, cfg, c.transport)
	if err != nil {
		return nil, err
	}
	c.comps = comps

	opts := bridge.OptionsFromConfig(cfg)
	opts.Classifier = comps.Classifier
	c.bridge = bridge.New(c.transport, opts)
	return c, nil
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// start brings the bridge up and waits until the local group is bound.
func (c *console) start(ctx context.Context) error {
	c.bridge.Start()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for !c.bridge.Ready() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("bridge not ready: %w", ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

func (c *console) stop() {
	if err := c.bridge.Stop(); err != nil {
		c.printf("Error: %v\n", err)
	}
	c.comps.Close()
}

// handle processes one input line. It returns errQuit on exit or quit.
func (c *console) handle(ctx context.Context, line string) error {
	input := strings.TrimSpace(line)
	switch {
	case input == "":
		return nil
	case input == "exit" || input == "quit":
		return errQuit
	case strings.HasPrefix(input, "/article"):
		return c.announce(ctx, "normal", strings.TrimSpace(strings.TrimPrefix(input, "/article")))
	case strings.HasPrefix(input, "/type"):
		itemType, rest, _ := strings.Cut(strings.TrimSpace(strings.TrimPrefix(input, "/type")), " ")
		return c.announce(ctx, itemType, rest)
	default:
		c.transport.Deliver(localGroup, localUser, input)
		return nil
	}
}

func (c *console) announce(ctx context.Context, itemType, args string) error {
	permalink, title, ok := strings.Cut(strings.TrimSpace(args), " ")
	if !ok || permalink == "" || strings.TrimSpace(title) == "" {
		c.printf("Usage: /article <permalink> <title>\n")
		return nil
	}
	item := notifier.ContentItem{
		ID:        notifier.ItemID(fmt.Sprintf("console-%d", time.Now().UnixNano())),
		Title:     strings.TrimSpace(title),
		Type:      notifier.ParseItemType(itemType),
		Permalink: permalink,
	}
	c.bridge.OnArticleCreated(ctx, item)
	return nil
}

func consoleCmd(debug bool) error {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	internal.SetupLogging(cfg, debug)
	if debug {
		fmt.Println("🔍 Debug mode enabled")
	}

	ctx := context.Background()
	c, err := newConsole(ctx, cfg, os.Stdout)
	if err != nil {
		return fmt.Errorf("error creating bridge: %w", err)
	}
	startCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = c.start(startCtx)
	cancel()
	if err != nil {
		c.stop()
		return err
	}
	defer c.stop()

	fmt.Printf("%s Console for group %q (Ctrl+C to exit)\n\n", internal.Logo, cfg.Bridge.GroupName)
	interactiveMode(ctx, c)
	return nil
}

func interactiveMode(ctx context.Context, c *console) {
	prompt := fmt.Sprintf("%s You: ", internal.Logo)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     filepath.Join(os.TempDir(), ".qunbridge_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Printf("Error initializing readline: %v\n", err)
		fmt.Println("Falling back to simple input mode...")
		simpleInteractiveMode(ctx, c, os.Stdin)
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}
		if errors.Is(c.handle(ctx, line), errQuit) {
			fmt.Println("Goodbye!")
			return
		}
	}
}

func simpleInteractiveMode(ctx context.Context, c *console, in io.Reader) {
	reader := bufio.NewReader(in)
	for {
		c.printf("%s You: ", internal.Logo)
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.printf("\nGoodbye!\n")
				return
			}
			c.printf("Error reading input: %v\n", err)
			continue
		}
		if errors.Is(c.handle(ctx, line), errQuit) {
			c.printf("Goodbye!\n")
			return
		}
	}
}
