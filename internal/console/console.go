// Package console provides an interactive prompt for driving a running
// cluster supervisor by hand.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"

	"github.com/nerrad567/brokerlink/internal/cluster"
	"github.com/nerrad567/brokerlink/internal/journal"
	"github.com/nerrad567/brokerlink/internal/session"
)

const defaultEventLimit = 20

// Controller is the part of the supervisor the console drives.
type Controller interface {
	Connect()
	Disconnect()
	SubscribeToTopic(topic string, handler session.MessageHandler)
	UnsubscribeFromTopic(topic string)
	PublishMessage(topic string, payload []byte)
	Status() cluster.Status
}

// History returns recent lifecycle entries. Optional.
type History interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

// Console reads commands from a readline prompt.
type Console struct {
	ctrl    Controller
	history History
	rl      *readline.Instance

	mu  sync.Mutex
	out io.Writer
}

// New creates a console with the given prompt. history may be nil.
func New(ctrl Controller, history History, prompt string) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	c := newConsole(ctrl, history, rl.Stdout())
	c.rl = rl
	return c, nil
}

func newConsole(ctrl Controller, history History, out io.Writer) *Console {
	return &Console{ctrl: ctrl, history: history, out: out}
}

// Stdout returns a writer that coordinates with the prompt. Route log
// output here so it does not clobber the input line.
func (c *Console) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Run reads commands until quit, EOF or ctx is cancelled. cancel is
// called when the user asks to exit.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			c.println("Exiting...")
			cancel()
			return
		}

		if quit := c.Execute(ctx, line); quit {
			cancel()
			return
		}
	}
}

// Execute runs one command line and reports whether the user asked to
// quit.
func (c *Console) Execute(ctx context.Context, line string) bool {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		c.printHelp()
	case "status", "s":
		c.cmdStatus()
	case "connect":
		c.ctrl.Connect()
		c.println("connecting")
	case "disconnect":
		c.ctrl.Disconnect()
		c.println("disconnecting")
	case "sub", "subscribe":
		c.cmdSubscribe(args)
	case "unsub", "unsubscribe":
		c.cmdUnsubscribe(args)
	case "pub", "publish":
		c.cmdPublish(args)
	case "events", "e":
		c.cmdEvents(ctx, args)
	case "quit", "exit", "q":
		c.println("Exiting...")
		return true
	default:
		c.printf("Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

func (c *Console) cmdStatus() {
	st := c.ctrl.Status()
	active := "inactive"
	if st.Active {
		active = "active"
	}
	endpoint := st.Endpoint
	if endpoint == "" {
		endpoint = "-"
	}
	c.printf("supervisor: %s\n", active)
	c.printf("endpoint:   %s (index %d)\n", endpoint, st.EndpointIndex)
	c.printf("state:      %s\n", st.State)
	c.printf("fallbacks:  %d/%d\n", st.Fallbacks, st.MaxFallbacks)
	if len(st.Subscriptions) == 0 {
		c.println("topics:     none")
		return
	}
	c.printf("topics:     %s\n", strings.Join(st.Subscriptions, ", "))
}

func (c *Console) cmdSubscribe(args []string) {
	if len(args) != 1 {
		c.println("usage: sub <topic>")
		return
	}
	topic := args[0]
	c.ctrl.SubscribeToTopic(topic, func(t string, payload []byte) error {
		c.printf("<- %s %s\n", t, payload)
		return nil
	})
	c.printf("subscribed to %s\n", topic)
}

func (c *Console) cmdUnsubscribe(args []string) {
	if len(args) != 1 {
		c.println("usage: unsub <topic>")
		return
	}
	c.ctrl.UnsubscribeFromTopic(args[0])
	c.printf("unsubscribed from %s\n", args[0])
}

func (c *Console) cmdPublish(args []string) {
	if len(args) < 2 {
		c.println("usage: pub <topic> <payload>")
		return
	}
	payload := strings.Join(args[1:], " ")
	c.ctrl.PublishMessage(args[0], []byte(payload))
	c.printf("-> %s %s\n", args[0], payload)
}

func (c *Console) cmdEvents(ctx context.Context, args []string) {
	if c.history == nil {
		c.println("journal disabled")
		return
	}
	limit := defaultEventLimit
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			c.println("usage: events [count]")
			return
		}
		limit = n
	}

	entries, err := c.history.Recent(ctx, limit)
	if err != nil {
		c.printf("reading journal: %v\n", err)
		return
	}
	if len(entries) == 0 {
		c.println("no events")
		return
	}
	// Oldest first reads naturally on a terminal.
	for i := len(entries) - 1; i >= 0; i-- {
		c.println(formatEntry(entries[i]))
	}
}

func formatEntry(e journal.Entry) string {
	var b strings.Builder
	b.WriteString(e.CreatedAt.Local().Format(time.TimeOnly))
	b.WriteString("  ")
	b.WriteString(e.Type)
	if e.Endpoint != "" {
		b.WriteString(" endpoint=" + e.Endpoint)
	}
	if e.Attempt > 0 {
		b.WriteString(" attempt=" + strconv.Itoa(e.Attempt))
	}
	if e.Delay > 0 {
		b.WriteString(" delay=" + e.Delay.String())
	}
	if e.Topic != "" {
		b.WriteString(" topic=" + e.Topic)
	}
	if e.Error != "" {
		b.WriteString(" error=" + strconv.Quote(e.Error))
	}
	return b.String()
}

func (c *Console) printHelp() {
	c.println(`
brokerlink commands:
  status               - Show supervisor and connection state
  connect              - Start the supervisor
  disconnect           - Stop the supervisor and close the connection
  sub <topic>          - Subscribe and print incoming messages
  unsub <topic>        - Remove a subscription
  pub <topic> <text>   - Publish a message
  events [n]           - Show the last n lifecycle events (default 20)
  help                 - Show this help
  quit                 - Exit`)
}

func (c *Console) println(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, s)
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}
