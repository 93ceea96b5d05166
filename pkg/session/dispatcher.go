// Package session implements the engine's fixed-slot connection dispatcher:
// a single service goroutine hands out Connection handles and assigns each
// one a dedicated worker goroutine from a bounded pool of slots, mirroring
// original_source/include/Database.h's Database/Connection pair. A
// Connection's four primitives — Send, Request, Wait, Receive — let a
// caller hand a raw please: request to its worker and block for the
// worker's response without the caller and worker sharing any state beyond
// the connection id.
//
// There is no connection multiplexing: a slot serves exactly one
// connection at a time, FIFO, and a second concurrent call to GetConnection
// while a slot is being created returns ErrConcurrencyViolation rather than
// queuing, matching the original's single in-flight "is a connection being
// created" flag.
package session

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/papiermache/dlex/pkg/ident"
)

// SlotCount bounds how many connections the dispatcher serves concurrently.
const SlotCount = 50

// Handler processes one connection's raw request bytes and returns the raw
// response bytes to send back. Implementations are expected not to block
// indefinitely; pkg/txn.Registry.Dispatch is the production implementation.
type Handler func(connID string, request []byte) []byte

var (
	ErrConcurrencyViolation = errors.New("session: concurrent GetConnection calls are not supported")
	ErrNoFreeSlot           = errors.New("session: number of sessions is at its upper limit")
	ErrClosed               = errors.New("session: dispatcher is stopped")
	ErrUnknownConnection    = errors.New("session: no such connection")
)

// slot is one worker's private mailbox and wakeup condition: a connection
// id it currently serves (empty when free), the last request/response
// bytes exchanged, and a pending flag toggled by the client and the
// worker to hand control back and forth.
type slot struct {
	mu      sync.Mutex
	cond    *sync.Cond
	connID  string
	data    []byte
	pending bool // true: a request is waiting for the worker; false after it responds
}

// Dispatcher is the session layer's single shared instance for one running
// server. Zero value is not usable; construct with New.
type Dispatcher struct {
	handler Handler
	log     *zap.Logger

	mu                sync.Mutex
	connCond          *sync.Cond
	requireConnection bool
	connections       map[string]bool // connID -> in use

	slotsMu sync.RWMutex
	slots   [SlotCount]*slot

	wg      sync.WaitGroup
	closed  bool
	started bool
}

// New builds a Dispatcher that hands every incoming request to handler.
func New(handler Handler, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	d := &Dispatcher{
		handler:     handler,
		log:         log,
		connections: map[string]bool{},
	}
	d.connCond = sync.NewCond(&d.mu)
	for i := range d.slots {
		s := &slot{}
		s.cond = sync.NewCond(&s.mu)
		d.slots[i] = s
	}
	return d
}

// Start launches the dispatcher's service goroutine. Calling it twice is a
// no-op, matching Database::start()'s isStarted_ guard.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.mu.Unlock()

	d.wg.Add(1)
	go d.serve()
}

// Stop signals every worker and the service goroutine to exit and blocks
// until they have, mirroring ~Database()'s toBeStoped_ + thread join.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.connCond.Broadcast()

	for _, s := range d.slots {
		s.mu.Lock()
		s.pending = true // wake the worker so it observes closed and exits
		s.cond.Broadcast()
		s.mu.Unlock()
	}
	d.wg.Wait()
}

// GetConnection hands back a Connection bound to a freshly created or
// recycled slot. Only one caller may be waiting on connection creation at
// a time; a second concurrent call returns ErrConcurrencyViolation exactly
// as the original's single isRequiredConnection_ flag does.
func (d *Dispatcher) GetConnection() (*Connection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrClosed
	}
	if d.requireConnection {
		return nil, ErrConcurrencyViolation
	}
	if id, ok := d.firstFreeConnLocked(); ok {
		return &Connection{id: id, d: d}, nil
	}

	d.requireConnection = true
	d.connCond.Broadcast() // wake serve(), which is waiting for requireConnection to become true
	for d.requireConnection && !d.closed {
		d.connCond.Wait()
	}
	if d.closed {
		return nil, ErrClosed
	}
	if id, ok := d.firstFreeConnLocked(); ok {
		return &Connection{id: id, d: d}, nil
	}
	return nil, ErrNoFreeSlot
}

func (d *Dispatcher) firstFreeConnLocked() (string, bool) {
	for id, inUse := range d.connections {
		if !inUse {
			d.connections[id] = true
			return id, true
		}
	}
	return "", false
}

// serve is the service goroutine: it notices a pending GetConnection
// request, creates a new connection id, assigns it a free slot, and spawns
// that slot's worker goroutine.
func (d *Dispatcher) serve() {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		for !d.requireConnection && !d.closed {
			d.connCond.Wait()
		}
		if d.closed {
			d.mu.Unlock()
			return
		}
		id := ident.NewConnectionID()
		s, err := d.assignSlot(id)
		if err == nil {
			d.connections[id] = false
		}
		d.requireConnection = false
		d.mu.Unlock()
		d.connCond.Broadcast()

		if err != nil {
			d.log.Warn("session: could not assign a slot to new connection", zap.String("connection_id", id), zap.Error(err))
			continue
		}
		d.wg.Add(1)
		go d.runWorker(s, id)
	}
}

func (d *Dispatcher) assignSlot(connID string) (*slot, error) {
	d.slotsMu.Lock()
	defer d.slotsMu.Unlock()
	for _, s := range d.slots {
		if s.connID == "" {
			s.connID = connID
			s.pending = false
			return s, nil
		}
	}
	return nil, ErrNoFreeSlot
}

// runWorker is one slot's whole lifetime: block for a request, hand it to
// handler, publish the response, repeat until the dispatcher stops or the
// connection is closed. A worker whose connection has been closed exits
// the next time its slot is woken.
func (d *Dispatcher) runWorker(s *slot, connID string) {
	defer d.wg.Done()
	for {
		s.mu.Lock()
		for !s.pending && !d.isStopped() {
			s.cond.Wait()
		}
		if d.isStopped() || s.connID != connID {
			s.mu.Unlock()
			return
		}
		req := s.data
		s.mu.Unlock()

		resp := d.handler(connID, req)

		s.mu.Lock()
		s.data = resp
		s.pending = false
		s.cond.Broadcast()
		s.mu.Unlock()
	}
}

func (d *Dispatcher) isStopped() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *Dispatcher) findSlot(connID string) (*slot, bool) {
	d.slotsMu.RLock()
	defer d.slotsMu.RUnlock()
	return d.findSlotLocked(connID)
}

// findSlotLocked requires the caller to hold slotsMu (read or write).
func (d *Dispatcher) findSlotLocked(connID string) (*slot, bool) {
	for _, s := range d.slots {
		if s.connID == connID {
			return s, true
		}
	}
	return nil, false
}

// isClosed reports whether connID no longer names a live connection.
func (d *Dispatcher) isClosed(connID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.connections[connID]
	return !ok
}
