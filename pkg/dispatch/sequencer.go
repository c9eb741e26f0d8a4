package dispatch

import (
	"context"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// sequencer hands out FIFO tickets per key. A ticket is taken synchronously
// when a message is submitted; its holder runs once every earlier ticket
// for the same key is done.
type sequencer struct {
	tails cmap.ConcurrentMap[string, chan struct{}]
}

func newSequencer() *sequencer {
	return &sequencer{tails: cmap.New[chan struct{}]()}
}

type ticket struct {
	s    *sequencer
	key  string
	prev chan struct{}
	own  chan struct{}
}

func (s *sequencer) take(key string) *ticket {
	t := &ticket{s: s, key: key, own: make(chan struct{})}
	s.tails.Upsert(key, t.own, func(exists bool, tail, own chan struct{}) chan struct{} {
		if exists {
			t.prev = tail
		}
		return own
	})
	return t
}

// wait blocks until the previous ticket for the key is done.
func (t *ticket) wait(ctx context.Context) error {
	if t.prev == nil {
		return nil
	}
	select {
	case <-t.prev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// done releases the next ticket. It must be called exactly once, even when
// wait failed, so later tickets are not stranded.
func (t *ticket) done() {
	if t.prev != nil {
		// keep the chain intact when the holder gave up waiting
		<-t.prev
	}
	close(t.own)
	t.s.tails.RemoveCb(t.key, func(key string, tail chan struct{}, exists bool) bool {
		return exists && tail == t.own
	})
}

// pending returns the number of keys with an open ticket.
func (s *sequencer) pending() int {
	return s.tails.Count()
}
