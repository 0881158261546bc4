// Package registry tracks the live protocol objects of a single
// connection. Ids are split into two namespaces: ids below
// ClientRangeStart belong to the server, ids at or above it belong to
// the client. Each side allocates only from its own half and either
// side may bind an id the peer announced.
//
// A Registry is owned by its connection and is not safe for concurrent
// use; the single-writer rule of the transport layer covers it.
package registry

import (
	"errors"
	"sort"

	"github.com/luma/waycore/protocol"
)

const (
	// DisplayID is the fixed id of the display singleton, live on
	// every connection from the moment it is established.
	DisplayID protocol.ObjectID = 1

	// ClientRangeStart is the first id of the client-allocated
	// namespace.
	ClientRangeStart protocol.ObjectID = 0x10000000
)

var (
	ErrDuplicateID    = errors.New("registry: id already bound")
	ErrWrongNamespace = errors.New("registry: id outside the caller's namespace")
	ErrInvalidID      = errors.New("registry: invalid id")
	ErrRangeExhausted = errors.New("registry: id namespace exhausted")
)

// Handler consumes one decoded message addressed to an object.
type Handler interface {
	Handle(msg *protocol.Message) error
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(msg *protocol.Message) error

func (f HandlerFunc) Handle(msg *protocol.Message) error {
	return f(msg)
}

// Record is one live object: its id, the interface it implements, the
// version negotiated at bind time and the handler receiving its
// messages.
type Record struct {
	ID        protocol.ObjectID
	Interface *protocol.Interface
	Version   uint32
	Handler   Handler
}

// Registry maps object ids to live records for one connection.
type Registry struct {
	records map[protocol.ObjectID]*Record

	serverCursor protocol.ObjectID
	clientCursor protocol.ObjectID
}

func New() *Registry {
	return &Registry{
		records:      make(map[protocol.ObjectID]*Record),
		serverCursor: DisplayID,
		clientCursor: ClientRangeStart,
	}
}

// NextServerID returns an unused id from the server namespace. Ids of
// destroyed objects become eligible again once the cursor wraps.
func (r *Registry) NextServerID() (protocol.ObjectID, error) {
	return r.nextID(&r.serverCursor, DisplayID, ClientRangeStart-1)
}

// NextClientID returns an unused id from the client namespace.
func (r *Registry) NextClientID() (protocol.ObjectID, error) {
	return r.nextID(&r.clientCursor, ClientRangeStart, ^protocol.ObjectID(0))
}

func (r *Registry) nextID(cursor *protocol.ObjectID, lo, hi protocol.ObjectID) (protocol.ObjectID, error) {
	span := uint64(hi-lo) + 1
	for i := uint64(0); i < span; i++ {
		id := *cursor
		if *cursor == hi {
			*cursor = lo
		} else {
			*cursor++
		}
		if _, live := r.records[id]; !live {
			return id, nil
		}
	}
	return 0, ErrRangeExhausted
}

// BindServer records a new object under a server-namespace id.
func (r *Registry) BindServer(rec *Record) error {
	if rec.ID == 0 || rec.ID >= ClientRangeStart {
		if rec.ID == 0 {
			return ErrInvalidID
		}
		return ErrWrongNamespace
	}
	return r.bind(rec)
}

// BindClient records a new object under a client-namespace id.
func (r *Registry) BindClient(rec *Record) error {
	if rec.ID < ClientRangeStart {
		if rec.ID == 0 {
			return ErrInvalidID
		}
		return ErrWrongNamespace
	}
	return r.bind(rec)
}

func (r *Registry) bind(rec *Record) error {
	if _, live := r.records[rec.ID]; live {
		return ErrDuplicateID
	}
	r.records[rec.ID] = rec
	return nil
}

// Lookup returns the record bound to id, if any.
func (r *Registry) Lookup(id protocol.ObjectID) (*Record, bool) {
	rec, ok := r.records[id]
	return rec, ok
}

// Destroy removes the record bound to id and reports whether it was
// live. The id is free for reuse afterwards.
func (r *Registry) Destroy(id protocol.ObjectID) bool {
	if _, live := r.records[id]; !live {
		return false
	}
	delete(r.records, id)
	return true
}

// Each calls fn for every live record in ascending id order.
func (r *Registry) Each(fn func(rec *Record)) {
	ids := make([]protocol.ObjectID, 0, len(r.records))
	for id := range r.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		fn(r.records[id])
	}
}

func (r *Registry) Len() int {
	return len(r.records)
}
