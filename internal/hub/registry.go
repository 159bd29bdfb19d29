// Package hub tracks which connections listen on which channel and fans
// messages out to them.
package hub

import (
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/samber/lo"
)

const DefaultShards = 32

// Conn is one live client endpoint. Send must not block; an error means
// the frame was not queued and the connection should be dropped.
type Conn interface {
	ID() string
	Send(frame []byte) error
	Close(code int, reason string) error
}

type shard struct {
	mu sync.RWMutex
	// channel -> conn id -> conn
	members map[string]map[string]Conn
	// conn id -> channels it joined (indexed by the conn's own shard)
	joined map[string]map[string]struct{}
}

// Registry maps channels to their members. Channels are spread over
// shards by hash so unrelated channels never share a lock.
type Registry struct {
	shards []*shard
}

func NewRegistry(shards int) *Registry {
	if shards <= 0 {
		shards = DefaultShards
	}
	r := &Registry{shards: make([]*shard, shards)}
	for i := range r.shards {
		r.shards[i] = &shard{
			members: make(map[string]map[string]Conn),
			joined:  make(map[string]map[string]struct{}),
		}
	}
	return r
}

func (r *Registry) shardIndex(key string) int {
	return int(xxhash.Sum64String(key) % uint64(len(r.shards)))
}

func (r *Registry) shardFor(key string) *shard {
	return r.shards[r.shardIndex(key)]
}

// lockPair write-locks the shards of channel and conn id in index order and
// returns them with the matching unlock.
func (r *Registry) lockPair(channel, id string) (members, index *shard, unlock func()) {
	ci, ii := r.shardIndex(channel), r.shardIndex(id)
	members, index = r.shards[ci], r.shards[ii]
	if ci == ii {
		members.mu.Lock()
		return members, index, members.mu.Unlock
	}
	first, second := members, index
	if ii < ci {
		first, second = index, members
	}
	first.mu.Lock()
	second.mu.Lock()
	return members, index, func() {
		second.mu.Unlock()
		first.mu.Unlock()
	}
}

// Add registers conn under channel. Adding the same conn twice is a no-op.
func (r *Registry) Add(channel string, conn Conn) {
	id := conn.ID()
	s, idx, unlock := r.lockPair(channel, id)
	defer unlock()

	set, ok := s.members[channel]
	if !ok {
		set = make(map[string]Conn)
		s.members[channel] = set
	}
	set[id] = conn

	chans, ok := idx.joined[id]
	if !ok {
		chans = make(map[string]struct{})
		idx.joined[id] = chans
	}
	chans[channel] = struct{}{}
}

// Remove unregisters conn from channel and evicts the channel once empty.
// It reports whether conn was a member; removing an absent conn is a no-op.
// Both indexes change under one critical section.
func (r *Registry) Remove(channel string, conn Conn) bool {
	id := conn.ID()
	s, idx, unlock := r.lockPair(channel, id)
	defer unlock()

	set, ok := s.members[channel]
	if ok {
		_, ok = set[id]
		delete(set, id)
		if len(set) == 0 {
			delete(s.members, channel)
		}
	}

	if chans, found := idx.joined[id]; found {
		delete(chans, channel)
		if len(chans) == 0 {
			delete(idx.joined, id)
		}
	}
	return ok
}

// Drop removes conn from every channel it joined and returns those channels.
func (r *Registry) Drop(conn Conn) []string {
	id := conn.ID()
	idx := r.shardFor(id)
	idx.mu.RLock()
	chans := lo.Keys(idx.joined[id])
	idx.mu.RUnlock()

	for _, ch := range chans {
		r.Remove(ch, conn)
	}
	return chans
}

// Snapshot returns a copy of channel's membership at the time of the call.
func (r *Registry) Snapshot(channel string) []Conn {
	s := r.shardFor(channel)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Values(s.members[channel])
}

// Contains reports whether conn is currently registered under channel.
func (r *Registry) Contains(channel string, conn Conn) bool {
	s := r.shardFor(channel)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.members[channel][conn.ID()]
	return ok
}

func (r *Registry) Len(channel string) int {
	s := r.shardFor(channel)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.members[channel])
}

// Channels lists the channels that currently have members, sorted.
func (r *Registry) Channels() []string {
	var out []string
	for _, s := range r.shards {
		s.mu.RLock()
		out = append(out, lo.Keys(s.members)...)
		s.mu.RUnlock()
	}
	sort.Strings(out)
	return out
}

// Connections counts distinct registered connections.
func (r *Registry) Connections() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		n += len(s.joined)
		s.mu.RUnlock()
	}
	return n
}
