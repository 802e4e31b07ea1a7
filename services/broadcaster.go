package services

import (
	"slices"
	"sync"

	"plantlink/models"

	"github.com/samber/lo"
)

// LinkBroadcaster fans device link states out to every subscriber in publish order.
// Subscribers run on the publishing goroutine and must not publish themselves.
type LinkBroadcaster struct {
	publishMu sync.Mutex

	mu          sync.Mutex
	subscribers map[uint64]func(models.LinkState)
	nextID      uint64
	latest      *models.LinkState
}

func NewLinkBroadcaster() *LinkBroadcaster {
	return &LinkBroadcaster{
		subscribers: make(map[uint64]func(models.LinkState)),
	}
}

// Subscribe registers fn and replays the latest state to it, if any. The returned func
// removes the subscription.
func (b *LinkBroadcaster) Subscribe(fn func(models.LinkState)) func() {
	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers[id] = fn
	latest := b.latest
	b.mu.Unlock()

	if latest != nil {
		fn(*latest)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, id)
			b.mu.Unlock()
		})
	}
}

// Publish records state as the latest one and delivers it to every subscriber
func (b *LinkBroadcaster) Publish(state models.LinkState) {
	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	b.mu.Lock()
	b.latest = &state
	ids := lo.Keys(b.subscribers)
	slices.Sort(ids)
	fns := lo.Map(ids, func(id uint64, _ int) func(models.LinkState) {
		return b.subscribers[id]
	})
	b.mu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}

// Latest returns the most recently published state
func (b *LinkBroadcaster) Latest() (models.LinkState, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.latest == nil {
		return models.LinkState{}, false
	}
	return *b.latest, true
}
