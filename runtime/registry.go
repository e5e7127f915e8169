package runtime

import (
	"sync"

	"voice-room/contract"

	"github.com/samber/lo"
)

type SubscriptionID int

// Registry keeps subscribers in registration order.
type Registry struct {
	mu          sync.RWMutex
	next        SubscriptionID
	order       []SubscriptionID
	subscribers map[SubscriptionID]contract.Subscriber
}

func NewRegistry() *Registry {
	return &Registry{subscribers: make(map[SubscriptionID]contract.Subscriber)}
}

func (r *Registry) Subscribe(sub contract.Subscriber) SubscriptionID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.subscribers[r.next] = sub
	r.order = append(r.order, r.next)
	return r.next
}

// Unsubscribe reports whether id was registered.
func (r *Registry) Unsubscribe(id SubscriptionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subscribers[id]; !ok {
		return false
	}
	delete(r.subscribers, id)
	r.order = lo.Without(r.order, id)
	return true
}

// Subscribers returns a copy, safe to range over while others subscribe.
func (r *Registry) Subscribers() []contract.Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Map(r.order, func(id SubscriptionID, _ int) contract.Subscriber { return r.subscribers[id] })
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
