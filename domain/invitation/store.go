package invitation

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"voice-room/errors"

	"github.com/samber/lo"
)

// Store tracks invitations by id for every session of the process.
// It carries its own lock, independent of any room's serialization.
type Store struct {
	mu           sync.RWMutex
	invitations  map[string]*Invitation
	listeners    map[int]func(Invitation)
	nextListener int
}

func NewStore() *Store {
	return &Store{
		invitations: make(map[string]*Invitation),
		listeners:   make(map[int]func(Invitation)),
	}
}

// Add registers a new pending invitation. Ids are never reused.
func (s *Store) Add(inv Invitation) error {
	if inv.ID == "" {
		return errors.ErrInvalidInvitationID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.invitations[inv.ID]; ok {
		return fmt.Errorf("%w: %s", errors.ErrInvitationExists, inv.ID)
	}
	inv.Status = Pending
	s.invitations[inv.ID] = &inv
	return nil
}

// Observe records an invitation learnt from the channel and returns what the store holds.
// A known id keeps its current status.
func (s *Store) Observe(inv Invitation) Invitation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if known, ok := s.invitations[inv.ID]; ok {
		return *known
	}
	inv.Status = Pending
	s.invitations[inv.ID] = &inv
	return inv
}

func (s *Store) Get(id string) (Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invitations[id]
	if !ok {
		return Invitation{}, fmt.Errorf("%w: %s", errors.ErrInvitationNotFound, id)
	}
	return *inv, nil
}

// Authorize checks that userID may move invitation id to target right now.
// Accept and reject belong to the invitee, cancel to the inviter.
func (s *Store) Authorize(id, userID string, target Status) (Invitation, error) {
	inv, err := s.Get(id)
	if err != nil {
		return Invitation{}, err
	}
	switch target {
	case Accepted, Rejected:
		if inv.ToUserID != userID {
			return inv, errors.ErrNotInvitee
		}
	case Cancelled:
		if inv.FromUserID != userID {
			return inv, errors.ErrNotInviter
		}
	}
	if inv.Status.Terminal() {
		return inv, fmt.Errorf("%w: %s is %s", errors.ErrInvitationNotPending, id, inv.Status)
	}
	return inv, nil
}

// Resolve moves a pending invitation to a terminal status. The first transition wins.
// Seeing the same terminal status again is not an error but reports applied=false;
// any other status on a terminated invitation fails with ErrInvitationNotPending.
func (s *Store) Resolve(id string, target Status) (inv Invitation, applied bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	known, ok := s.invitations[id]
	if !ok {
		return Invitation{}, false, fmt.Errorf("%w: %s", errors.ErrInvitationNotFound, id)
	}
	switch {
	case !known.Status.Terminal():
		known.Status = target
		return *known, true, nil
	case known.Status == target:
		return *known, false, nil
	default:
		return *known, false, fmt.Errorf("%w: %s is %s", errors.ErrInvitationNotPending, id, known.Status)
	}
}

// Discard drops an invitation that never made it onto the channel.
func (s *Store) Discard(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inv, ok := s.invitations[id]; ok && inv.Status == Pending {
		delete(s.invitations, id)
	}
}

// Pending lists the open invitations userID sent or received, oldest first.
func (s *Store) Pending(userID string) []Invitation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := lo.FilterMap(lo.Values(s.invitations), func(inv *Invitation, _ int) (Invitation, bool) {
		return *inv, inv.Status == Pending && (inv.FromUserID == userID || inv.ToUserID == userID)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// OnExpire registers fn for every invitation ExpireDue terminates.
func (s *Store) OnExpire(fn func(Invitation)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// ExpireDue terminates every pending invitation past its deadline.
// Listeners run after the lock is released.
func (s *Store) ExpireDue(now time.Time) []Invitation {
	s.mu.Lock()
	var expired []Invitation
	for _, inv := range s.invitations {
		if inv.Due(now) {
			inv.Status = Expired
			expired = append(expired, *inv)
		}
	}
	listeners := lo.Values(s.listeners)
	s.mu.Unlock()

	for _, inv := range expired {
		for _, fn := range listeners {
			fn(inv)
		}
	}
	return expired
}

// Prune forgets terminated invitations created before the cutoff.
func (s *Store) Prune(before time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, inv := range s.invitations {
		if inv.Status.Terminal() && inv.CreatedAt.Before(before) {
			delete(s.invitations, id)
			n++
		}
	}
	return n
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.invitations)
}
