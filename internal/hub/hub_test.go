package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/cheese-relay/internal/domain"
)

type mockConn struct {
	id      string
	sendErr error
	onSend  func()

	mu         sync.Mutex
	frames     [][]byte
	closedWith int
	closeCount int
}

func newMockConn(id string) *mockConn { return &mockConn{id: id} }

func (m *mockConn) ID() string { return m.id }

func (m *mockConn) Send(frame []byte) error {
	if m.onSend != nil {
		m.onSend()
	}
	if m.sendErr != nil {
		return m.sendErr
	}
	m.mu.Lock()
	m.frames = append(m.frames, frame)
	m.mu.Unlock()
	return nil
}

func (m *mockConn) Close(code int, _ string) error {
	m.mu.Lock()
	m.closedWith = code
	m.closeCount++
	m.mu.Unlock()
	return nil
}

func (m *mockConn) received() []domain.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Envelope, 0, len(m.frames))
	for _, f := range m.frames {
		var env domain.Envelope
		if err := json.Unmarshal(f, &env); err == nil {
			out = append(out, env)
		}
	}
	return out
}

func (m *mockConn) closeCode() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closedWith, m.closeCount
}

func envelope(t *testing.T, payload any) domain.Envelope {
	t.Helper()
	env, err := domain.NewEnvelope(domain.TypeGameMove, "", payload)
	require.NoError(t, err)
	return env
}

func TestRegistry_AddIsIdempotent(t *testing.T) {
	r := NewRegistry(4)
	c := newMockConn("a")
	r.Add("game:1", c)
	r.Add("game:1", c)
	assert.Equal(t, 1, r.Len("game:1"))
	assert.Len(t, r.Snapshot("game:1"), 1)
}

func TestRegistry_RemoveAbsentIsNoop(t *testing.T) {
	r := NewRegistry(4)
	c := newMockConn("a")
	assert.False(t, r.Remove("game:1", c))

	r.Add("game:1", c)
	assert.True(t, r.Remove("game:1", c))
	assert.False(t, r.Remove("game:1", c))
}

func TestRegistry_EvictsEmptyChannels(t *testing.T) {
	r := NewRegistry(4)
	a, b := newMockConn("a"), newMockConn("b")
	r.Add("room:x", a)
	r.Add("room:x", b)
	r.Add("global", a)
	assert.Equal(t, []string{"global", "room:x"}, r.Channels())

	r.Remove("room:x", a)
	assert.Equal(t, []string{"global", "room:x"}, r.Channels())
	r.Remove("room:x", b)
	assert.Equal(t, []string{"global"}, r.Channels())
}

func TestRegistry_SnapshotIsACopy(t *testing.T) {
	r := NewRegistry(1)
	a, b := newMockConn("a"), newMockConn("b")
	r.Add("game:1", a)
	snap := r.Snapshot("game:1")
	r.Add("game:1", b)
	r.Remove("game:1", a)

	require.Len(t, snap, 1)
	assert.Equal(t, "a", snap[0].ID())
	assert.Empty(t, r.Snapshot("game:404"))
}

func TestRegistry_DropRemovesEverywhere(t *testing.T) {
	r := NewRegistry(8)
	a, b := newMockConn("a"), newMockConn("b")
	for i := 0; i < 5; i++ {
		r.Add(fmt.Sprintf("game:%d", i), a)
	}
	r.Add("game:0", b)
	assert.Equal(t, 2, r.Connections())

	dropped := r.Drop(a)
	assert.Len(t, dropped, 5)
	assert.Equal(t, []string{"game:0"}, r.Channels())
	assert.False(t, r.Contains("game:0", a))
	assert.True(t, r.Contains("game:0", b))
	assert.Equal(t, 1, r.Connections())
	assert.Empty(t, r.Drop(a))
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry(DefaultShards)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := newMockConn(fmt.Sprintf("c%d", i))
			ch := fmt.Sprintf("game:%d", i%4)
			for j := 0; j < 200; j++ {
				r.Add(ch, c)
				_ = r.Snapshot(ch)
				r.Remove(ch, c)
			}
			r.Add(ch, c)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 16, r.Connections())
	assert.Len(t, r.Channels(), 4)
}

func TestRegistry_RacingAddRemoveKeepsIndexesInStep(t *testing.T) {
	for _, shards := range []int{1, 2, DefaultShards} {
		r := NewRegistry(shards)
		c := newMockConn("racer")
		for round := 0; round < 200; round++ {
			var wg sync.WaitGroup
			wg.Add(2)
			go func() { defer wg.Done(); r.Add("game:race", c) }()
			go func() { defer wg.Done(); r.Remove("game:race", c) }()
			wg.Wait()

			member := r.Contains("game:race", c)
			if member != (r.Connections() == 1) {
				t.Fatalf("shards=%d round=%d: member=%v connections=%d", shards, round, member, r.Connections())
			}
			r.Drop(c)
			require.Zero(t, r.Connections())
			require.Zero(t, r.Len("game:race"))
		}
	}
}

func TestDispatcher_DeliversToSnapshotMembers(t *testing.T) {
	r := NewRegistry(4)
	d := NewDispatcher(r)
	a, b := newMockConn("a"), newMockConn("b")
	other := newMockConn("other")
	r.Add("game:1", a)
	r.Add("game:1", b)
	r.Add("game:2", other)

	rep, err := d.Publish(context.Background(), "game:1", envelope(t, map[string]string{"uci": "e2e4"}))
	require.NoError(t, err)
	assert.Equal(t, Report{Delivered: 2}, rep)

	for _, c := range []*mockConn{a, b} {
		got := c.received()
		require.Len(t, got, 1)
		assert.Equal(t, "game:1", got[0].Channel)
		assert.Equal(t, domain.TypeGameMove, got[0].Type)
		assert.JSONEq(t, `{"uci":"e2e4"}`, string(got[0].Payload))
	}
	assert.Empty(t, other.received())
}

func TestDispatcher_LateJoinerMissesInFlightPublish(t *testing.T) {
	r := NewRegistry(1)
	d := NewDispatcher(r)
	late := newMockConn("late")
	first := newMockConn("first")
	first.onSend = func() { r.Add("game:1", late) }
	r.Add("game:1", first)

	rep, err := d.Publish(context.Background(), "game:1", envelope(t, nil))
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Delivered)
	assert.Empty(t, late.received())
	assert.True(t, r.Contains("game:1", late))

	first.onSend = nil
	_, err = d.Publish(context.Background(), "game:1", envelope(t, nil))
	require.NoError(t, err)
	assert.Len(t, late.received(), 1)
}

func TestDispatcher_FailingMemberIsIsolatedAndRemoved(t *testing.T) {
	r := NewRegistry(4)
	d := NewDispatcher(r)
	good1, good2 := newMockConn("g1"), newMockConn("g2")
	bad := newMockConn("bad")
	bad.sendErr = errors.New("socket closed")
	for _, c := range []*mockConn{good1, bad, good2} {
		r.Add("room:9", c)
	}

	rep, err := d.Publish(context.Background(), "room:9", envelope(t, "hi"))
	require.NoError(t, err)
	assert.Equal(t, Report{Delivered: 2, Failed: 1}, rep)
	assert.Len(t, good1.received(), 1)
	assert.Len(t, good2.received(), 1)

	assert.False(t, r.Contains("room:9", bad))
	assert.Len(t, r.Snapshot("room:9"), 2)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Wait(ctx))
	code, n := bad.closeCode()
	assert.Equal(t, CloseDeliveryFailure, code)
	assert.Equal(t, 1, n)
}

func TestDispatcher_PublishDetached(t *testing.T) {
	r := NewRegistry(4)
	d := NewDispatcher(r)
	a := newMockConn("a")
	r.Add("global", a)

	d.PublishDetached("global", envelope(t, map[string]int{"n": 1}))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Wait(ctx))

	got := a.received()
	require.Len(t, got, 1)
	assert.Equal(t, "global", got[0].Channel)
}

func TestDispatcher_InvalidPayload(t *testing.T) {
	d := NewDispatcher(NewRegistry(1))
	_, err := d.Publish(context.Background(), "global", domain.Envelope{Type: "x", Payload: json.RawMessage("{")})
	assert.Error(t, err)
}

type recordingRelay struct {
	mu   sync.Mutex
	envs []domain.Envelope
	err  error
}

func (r *recordingRelay) Forward(_ context.Context, env domain.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs = append(r.envs, env)
	return r.err
}

func TestDispatcher_RelayForwarding(t *testing.T) {
	r := NewRegistry(4)
	d := NewDispatcher(r)
	rel := &recordingRelay{err: errors.New("redis down")}
	d.SetRelay(rel)
	a := newMockConn("a")
	r.Add("game:7", a)

	rep, err := d.Publish(context.Background(), "game:7", envelope(t, nil))
	require.NoError(t, err, "relay failures are not surfaced")
	assert.Equal(t, 1, rep.Delivered)
	require.Len(t, rel.envs, 1)
	assert.Equal(t, "game:7", rel.envs[0].Channel)

	_, err = d.DeliverLocal(domain.Envelope{Type: "x", Channel: "game:7"})
	require.NoError(t, err)
	assert.Len(t, rel.envs, 1, "local delivery is never forwarded")
	assert.Len(t, a.received(), 2)
}
