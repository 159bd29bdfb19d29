package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/park285/cheese-relay/internal/domain"
	"github.com/park285/cheese-relay/internal/obslog"
)

// CloseDeliveryFailure is sent to a member whose frame could not be queued.
const CloseDeliveryFailure = 1011

// Relay forwards locally published envelopes to other relay instances.
type Relay interface {
	Forward(ctx context.Context, env domain.Envelope) error
}

// Report summarises one publish. Failed members have been scheduled for
// removal by the time Publish returns.
type Report struct {
	Delivered int
	Failed    int
}

type Dispatcher struct {
	reg *Registry

	mu    sync.RWMutex
	relay Relay

	wg sync.WaitGroup
}

func NewDispatcher(reg *Registry) *Dispatcher {
	return &Dispatcher{reg: reg}
}

// SetRelay installs the cross-instance relay; nil disables it.
func (d *Dispatcher) SetRelay(r Relay) {
	d.mu.Lock()
	d.relay = r
	d.mu.Unlock()
}

func (d *Dispatcher) Registry() *Registry { return d.reg }

// Publish delivers env to every member of channel at the time of the call
// and forwards it to the relay. A member that fails is removed and closed;
// the remaining members are still served. The error is
// non-nil only when env cannot be encoded.
func (d *Dispatcher) Publish(ctx context.Context, channel string, env domain.Envelope) (Report, error) {
	env.Channel = channel
	rep, err := d.DeliverLocal(env)
	if err != nil {
		return rep, err
	}

	d.mu.RLock()
	relay := d.relay
	d.mu.RUnlock()
	if relay != nil {
		if err := relay.Forward(ctx, env); err != nil {
			obslog.L().Warn("relay_forward_failed", zap.String("channel", channel), zap.String("type", env.Type), zap.Error(err))
		}
	}
	return rep, nil
}

// DeliverLocal delivers env to local members of env.Channel only.
func (d *Dispatcher) DeliverLocal(env domain.Envelope) (Report, error) {
	frame, err := json.Marshal(env)
	if err != nil {
		return Report{}, fmt.Errorf("encode envelope: %w", err)
	}

	var rep Report
	for _, c := range d.reg.Snapshot(env.Channel) {
		if err := c.Send(frame); err != nil {
			rep.Failed++
			obslog.L().Info("delivery_failed",
				zap.String("channel", env.Channel),
				zap.String("conn_id", c.ID()),
				zap.Error(err))
			d.evict(env.Channel, c)
			continue
		}
		rep.Delivered++
	}
	return rep, nil
}

// PublishDetached publishes in the background. Nothing waits on it and
// failures are only logged.
func (d *Dispatcher) PublishDetached(channel string, env domain.Envelope) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		rep, err := d.Publish(context.Background(), channel, env)
		if err != nil {
			obslog.L().Warn("detached_publish_failed", zap.String("channel", channel), zap.Error(err))
			return
		}
		obslog.L().Debug("detached_publish",
			zap.String("channel", channel),
			zap.String("type", env.Type),
			zap.Int("delivered", rep.Delivered),
			zap.Int("failed", rep.Failed))
	}()
}

// Wait blocks until background publishes and evictions finish or ctx ends.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// evict unregisters c right away so later snapshots skip it; the close
// handshake runs in the background.
func (d *Dispatcher) evict(channel string, c Conn) {
	d.reg.Remove(channel, c)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := c.Close(CloseDeliveryFailure, domain.ErrDelivery.Error()); err != nil {
			obslog.L().Debug("evicted_conn_close", zap.String("conn_id", c.ID()), zap.Error(err))
		}
	}()
}
