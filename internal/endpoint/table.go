// Package endpoint tracks the lifecycle of the interface endpoints multiplexed
// on one pipe and reacts to closure notices from the peer.
package endpoint

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/danmuck/pipectl/internal/protocol/pipecontrol"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnknownEndpoint   = errors.New("endpoint: unknown endpoint")
	ErrEndpointClosed    = errors.New("endpoint: endpoint already closed")
	ErrInvalidEndpointID = errors.New("endpoint: invalid endpoint id")
	ErrIDSpaceExhausted  = errors.New("endpoint: interface id space exhausted")
	ErrEndpointExists    = errors.New("endpoint: endpoint already tracked")
)

// maxUnseenPeerClosed caps rows created by peer closes of ids this side never
// opened. Further notices for unseen ids are dropped.
const maxUnseenPeerClosed = 1024

type State string

const (
	StateOpen       State = "open"
	StateClosed     State = "closed"
	StatePeerClosed State = "peer_closed"
)

// Endpoint is one row of the table.
type Endpoint struct {
	ID         pipecontrol.InterfaceID
	State      State
	OpenedAt   time.Time
	ClosedAt   time.Time
	PeerReason *pipecontrol.DisconnectReason
	// closedLocally and closedByPeer track the two halves separately; the
	// row goes away once both are set.
	closedLocally bool
	closedByPeer  bool
	// unseen marks rows created by a peer close before any local open.
	unseen bool
}

// Notifier announces local closures to the peer.
type Notifier interface {
	NotifyPeerEndpointClosed(id pipecontrol.InterfaceID, reason *pipecontrol.DisconnectReason) error
}

// Table stores endpoints by interface id. It implements pipecontrol.Delegate.
type Table struct {
	primary   bool
	notifier  Notifier
	now       func() time.Time
	onRemoved func(pipecontrol.InterfaceID)

	mu     sync.RWMutex
	items  map[pipecontrol.InterfaceID]Endpoint
	nextID uint32
	unseen int
}

// NewTable creates an empty table. primary selects which half of the id
// space Allocate draws from.
func NewTable(primary bool, notifier Notifier) *Table {
	return &Table{
		primary:  primary,
		notifier: notifier,
		now:      time.Now,
		items:    make(map[pipecontrol.InterfaceID]Endpoint),
		nextID:   1,
	}
}

// OnRemoved registers fn to run, outside the table lock, whenever an endpoint
// closed on both sides leaves the table.
func (t *Table) OnRemoved(fn func(pipecontrol.InterfaceID)) {
	t.mu.Lock()
	t.onRemoved = fn
	t.mu.Unlock()
}

// Owns reports whether id falls in the half of the id space this side
// allocates from.
func (t *Table) Owns(id pipecontrol.InterfaceID) bool {
	if !id.IsValid() || id.IsMaster() {
		return false
	}
	return id.HasNamespaceBit() != t.primary
}

// remove must be called with mu held.
func (t *Table) remove(id pipecontrol.InterfaceID, ep Endpoint) func(pipecontrol.InterfaceID) {
	delete(t.items, id)
	if ep.unseen {
		t.unseen--
	}
	return t.onRemoved
}

// Allocate reserves a fresh id on this side and opens it.
func (t *Table) Allocate() (pipecontrol.InterfaceID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for attempts := uint32(0); attempts < uint32(pipecontrol.InterfaceIDNamespaceMask); attempts++ {
		raw := t.nextID & ^uint32(pipecontrol.InterfaceIDNamespaceMask)
		t.nextID++
		if raw == 0 {
			continue
		}
		id := pipecontrol.InterfaceID(raw)
		if !t.primary {
			id |= pipecontrol.InterfaceIDNamespaceMask
		}
		if !id.IsValid() || id.IsMaster() {
			continue
		}
		if _, taken := t.items[id]; taken {
			continue
		}
		t.items[id] = Endpoint{ID: id, State: StateOpen, OpenedAt: t.now()}
		return id, nil
	}
	return 0, ErrIDSpaceExhausted
}

// Attach opens an id chosen elsewhere, typically by the peer.
func (t *Table) Attach(id pipecontrol.InterfaceID) error {
	if !id.IsValid() {
		return ErrInvalidEndpointID
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if ep, ok := t.items[id]; ok {
		return fmt.Errorf("%w: %s is %s", ErrEndpointExists, id, ep.State)
	}
	t.items[id] = Endpoint{ID: id, State: StateOpen, OpenedAt: t.now()}
	return nil
}

// Close closes id locally and tells the peer, unless the peer closed it
// first. The notifier error is returned after local state has changed.
func (t *Table) Close(id pipecontrol.InterfaceID, reason *pipecontrol.DisconnectReason) error {
	t.mu.Lock()
	ep, ok := t.items[id]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownEndpoint, id)
	}
	if ep.closedLocally {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrEndpointClosed, id)
	}
	ep.closedLocally = true
	if ep.ClosedAt.IsZero() {
		ep.ClosedAt = t.now()
	}
	notify := !ep.closedByPeer
	var removed func(pipecontrol.InterfaceID)
	if ep.closedByPeer {
		removed = t.remove(id, ep)
	} else {
		ep.State = StateClosed
		t.items[id] = ep
	}
	t.mu.Unlock()

	if removed != nil {
		removed(id)
	}
	if !notify || t.notifier == nil {
		return nil
	}
	if err := t.notifier.NotifyPeerEndpointClosed(id, reason); err != nil {
		return fmt.Errorf("endpoint: notify peer of %s: %w", id, err)
	}
	return nil
}

// OnPeerAssociatedEndpointClosed records that the peer closed id. A notice
// for an id never seen locally is kept as peer-closed so a later local close
// finds it, but only for ids the peer could have allocated. Notices naming
// the reserved ids are dropped.
func (t *Table) OnPeerAssociatedEndpointClosed(id pipecontrol.InterfaceID, reason *pipecontrol.DisconnectReason) {
	if !id.IsValid() || id.IsMaster() {
		log.Warn().Uint32("endpoint", uint32(id)).Msg("endpoint.Table dropped peer close of reserved id")
		return
	}

	t.mu.Lock()
	ep, ok := t.items[id]
	if !ok {
		if t.Owns(id) {
			t.mu.Unlock()
			log.Warn().Uint32("endpoint", uint32(id)).Msg("endpoint.Table dropped peer close of id never allocated here")
			return
		}
		if t.unseen >= maxUnseenPeerClosed {
			t.mu.Unlock()
			log.Warn().Uint32("endpoint", uint32(id)).Int("limit", maxUnseenPeerClosed).Msg("endpoint.Table dropped peer close, too many unseen ids")
			return
		}
		ep = Endpoint{ID: id, unseen: true}
		t.unseen++
	}
	ep.closedByPeer = true
	ep.PeerReason = reason
	if ep.ClosedAt.IsZero() {
		ep.ClosedAt = t.now()
	}
	evt := log.Debug().Uint32("endpoint", uint32(id)).Bool("known", ok)
	if reason != nil {
		evt = evt.Uint32("custom_reason", reason.CustomReason).Str("description", reason.Description)
	}
	evt.Msg("endpoint.Table peer closed endpoint")

	if !ep.closedLocally {
		ep.State = StatePeerClosed
		t.items[id] = ep
		t.mu.Unlock()
		return
	}
	removed := t.remove(id, ep)
	t.mu.Unlock()
	if removed != nil {
		removed(id)
	}
}

func (t *Table) Get(id pipecontrol.InterfaceID) (Endpoint, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ep, ok := t.items[id]
	return ep, ok
}

// List returns endpoints ordered by id.
func (t *Table) List() []Endpoint {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Endpoint, 0, len(t.items))
	for _, ep := range t.items {
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}

// Len reports the number of tracked endpoints.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.items)
}
