package loadgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pako-23/todo-harness/internal/todo"
	"golang.org/x/sync/errgroup"
)

var (
	ErrUnknownAction = errors.New("invalid action")
	ErrNoTodo        = errors.New("no todo returned")
)

// Action is one kind of traffic. Execute is called once per pacing slot,
// possibly concurrently with earlier calls still in flight.
type Action interface {
	Execute(ctx context.Context) error
	StatsLine(elapsed time.Duration) string
}

type actionFactory func(*Generator) Action

var actions = map[string]actionFactory{
	"add-delete": newAddDelete,
	"ad":         newAddDelete,
	"delay":      newDelay,
	"burst":      newBurst,
}

func Actions() []string {
	names := make([]string, 0, len(actions))
	for name := range actions {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// randomTitle returns a random alphanumeric string of 10 to 30 characters.
func randomTitle() string {
	var b strings.Builder
	n := 10 + rand.IntN(21)
	for i := 0; i < n; i++ {
		b.WriteByte(letters[rand.IntN(len(letters))])
	}

	return b.String()
}

func perSecond(n uint64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}

	return float64(n) / elapsed.Seconds()
}

type created struct {
	Todo todo.Todo `json:"todo"`
}

// addDelete adds a todo and deletes it again after a random part of the
// interval.
type addDelete struct {
	g *Generator

	adds, addsSampled, deletes, deletesSampled atomic.Uint64
}

func newAddDelete(g *Generator) Action {
	return &addDelete{g: g}
}

func (a *addDelete) Execute(ctx context.Context) error {
	body, sampled, err := a.g.send(ctx, "POST", "/api/todos", map[string]any{"title": randomTitle(), "completed": false})
	if err != nil {
		return fmt.Errorf("adding todo: %w", err)
	}
	a.adds.Add(1)
	if sampled {
		a.addsSampled.Add(1)
	}

	var c created
	if err := json.Unmarshal(body, &c); err != nil {
		return fmt.Errorf("adding todo: decoding response: %w", err)
	}
	if c.Todo.ID == "" {
		return fmt.Errorf("adding todo: %w", ErrNoTodo)
	}

	if err := a.g.wait(ctx, a.g.randomDelay()); err != nil {
		return err
	}

	if _, sampled, err = a.g.send(ctx, "DELETE", "/api/todos/"+c.Todo.ID, nil); err != nil {
		return fmt.Errorf("deleting todo: %w", err)
	}
	a.deletes.Add(1)
	if sampled {
		a.deletesSampled.Add(1)
	}

	return nil
}

func (a *addDelete) StatsLine(elapsed time.Duration) string {
	adds, deletes := a.adds.Load(), a.deletes.Load()

	return fmt.Sprintf("added: %d (%.2f/sec), deleted: %d (%.2f/sec), sampled a: %d, d: %d",
		adds, perSecond(adds, elapsed), deletes, perSecond(deletes, elapsed),
		a.addsSampled.Load(), a.deletesSampled.Load())
}

type delayResult struct {
	ActualDelay int64 `json:"actualDelay"`
}

// delay asks the server to wait and compares its delay with the one seen
// by the client.
type delay struct {
	g *Generator

	mu          sync.Mutex
	calls       int64
	serverTotal int64
	clientTotal int64
	lastServer  int64
	lastClient  int64
}

func newDelay(g *Generator) Action {
	return &delay{g: g}
}

func (d *delay) Execute(ctx context.Context) error {
	start := time.Now()
	body, _, err := d.g.send(ctx, "GET", fmt.Sprintf("/delay/%d", d.g.cfg.Delay.Milliseconds()), nil)
	if err != nil {
		return fmt.Errorf("delay request: %w", err)
	}
	client := time.Since(start).Milliseconds()

	var r delayResult
	if err := json.Unmarshal(body, &r); err != nil {
		return fmt.Errorf("delay request: %w", err)
	}

	d.mu.Lock()
	d.calls++
	d.serverTotal += r.ActualDelay
	d.clientTotal += client
	d.lastServer, d.lastClient = r.ActualDelay, client
	d.mu.Unlock()

	return nil
}

func (d *delay) StatsLine(time.Duration) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.calls == 0 {
		return "n: 0"
	}

	return fmt.Sprintf("n: %d, delay (tot, server) avg (%.2f, %.2f) last (%d, %d)",
		d.calls,
		float64(d.clientTotal)/float64(d.calls), float64(d.serverTotal)/float64(d.calls),
		d.lastClient, d.lastServer)
}

// burst alternates between adding PerInterval todos at once and deleting
// them all at once. A slot is skipped while the previous burst is in flight.
type burst struct {
	g *Generator

	inFlight atomic.Bool
	mu       sync.Mutex
	pending  []string

	adds, deletes, skipped atomic.Uint64
}

func newBurst(g *Generator) Action {
	return &burst{g: g}
}

func (b *burst) Execute(ctx context.Context) error {
	if !b.inFlight.CompareAndSwap(false, true) {
		b.skipped.Add(1)
		return nil
	}
	defer b.inFlight.Store(false)

	b.mu.Lock()
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()

	eg, ctx := errgroup.WithContext(ctx)

	if len(pending) > 0 {
		for _, id := range pending {
			id := id
			eg.Go(func() error {
				if _, _, err := b.g.send(ctx, "DELETE", "/api/todos/"+id, nil); err != nil {
					return fmt.Errorf("deleting todo: %w", err)
				}
				b.deletes.Add(1)
				return nil
			})
		}
		return eg.Wait()
	}

	ids := make([]string, b.g.cfg.PerInterval)
	for i := range ids {
		i := i
		eg.Go(func() error {
			body, _, err := b.g.send(ctx, "POST", "/api/todos", map[string]any{"title": randomTitle(), "completed": false})
			if err != nil {
				return fmt.Errorf("adding todo: %w", err)
			}
			var c created
			if err := json.Unmarshal(body, &c); err != nil {
				return fmt.Errorf("adding todo: %w", err)
			}
			ids[i] = c.Todo.ID
			b.adds.Add(1)
			return nil
		})
	}
	err := eg.Wait()

	b.mu.Lock()
	for _, id := range ids {
		if id != "" {
			b.pending = append(b.pending, id)
		}
	}
	b.mu.Unlock()

	return err
}

func (b *burst) StatsLine(elapsed time.Duration) string {
	adds, deletes := b.adds.Load(), b.deletes.Load()

	return fmt.Sprintf("added: %d (%.2f/sec), deleted: %d (%.2f/sec), skipped: %d",
		adds, perSecond(adds, elapsed), deletes, perSecond(deletes, elapsed), b.skipped.Load())
}
