package fanout

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/park285/cheese-relay/internal/domain"
	"github.com/park285/cheese-relay/internal/hub"
)

type countingConn struct {
	id string
	mu sync.Mutex
	n  int
}

func (c *countingConn) ID() string { return c.id }
func (c *countingConn) Send([]byte) error {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
	return nil
}
func (c *countingConn) Close(int, string) error { return nil }
func (c *countingConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

type node struct {
	disp   *hub.Dispatcher
	bridge *Bridge
	conn   *countingConn
}

func newNode(t *testing.T, mr *miniredis.Miniredis, id string) *node {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	reg := hub.NewRegistry(4)
	disp := hub.NewDispatcher(reg)
	b := NewBridge(rdb, disp, WithInstanceID(id), WithTopic("test:fanout"))
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("start bridge: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	disp.SetRelay(b)

	c := &countingConn{id: id + "-conn"}
	reg.Add("game:1", c)
	return &node{disp: disp, bridge: b, conn: c}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func TestBridgeDeliversAcrossInstances(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	a := newNode(t, mr, "a")
	b := newNode(t, mr, "b")

	env, _ := domain.NewEnvelope(domain.TypeGameMove, "", map[string]string{"uci": "e2e4"})
	rep, err := a.disp.Publish(context.Background(), "game:1", env)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if rep.Delivered != 1 {
		t.Fatalf("local delivered = %d", rep.Delivered)
	}

	waitFor(t, func() bool { return b.conn.count() == 1 })
	time.Sleep(50 * time.Millisecond)
	if got := a.conn.count(); got != 1 {
		t.Fatalf("origin instance delivered %d times, want 1 (self echo must be skipped)", got)
	}
	if got := b.conn.count(); got != 1 {
		t.Fatalf("remote delivered %d times, want 1 (remote delivery must not be re-forwarded)", got)
	}
}

func TestBridgeIgnoresGarbage(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	n := newNode(t, mr, "solo")
	mr.Publish("test:fanout", "not json")
	raw, _ := json.Marshal(wireMessage{Origin: "other", Envelope: domain.Envelope{Type: "x"}})
	mr.Publish("test:fanout", string(raw))

	time.Sleep(100 * time.Millisecond)
	if got := n.conn.count(); got != 0 {
		t.Fatalf("garbage delivered %d frames", got)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	b := NewBridge(rdb, hub.NewDispatcher(hub.NewRegistry(1)))
	if b.Instance() == "" {
		t.Fatalf("instance id must default to a uuid")
	}
	if err := b.Close(); err != nil {
		t.Fatalf("close before start: %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := b.Start(context.Background()); err == nil {
		t.Fatalf("second start should fail")
	}
	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestNewRedisClient(t *testing.T) {
	if _, err := NewRedisClient("redis://localhost:6379/0"); err != nil {
		t.Fatalf("valid url: %v", err)
	}
	if _, err := NewRedisClient("::bad"); err == nil {
		t.Fatalf("invalid url accepted")
	}
}
