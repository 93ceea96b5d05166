package session

// Connection is a thin, comparable handle onto one dispatcher slot. It
// carries no state of its own beyond the connection id and a reference
// back to its Dispatcher, exactly like
// original_source/include/Database.h's Connection class.
type Connection struct {
	id string
	d  *Dispatcher
}

// ID returns the connection's unique identifier.
func (c *Connection) ID() string { return c.id }

// Send stores data as this connection's pending request body without
// waking its worker. Callers almost always follow it with Request.
func (c *Connection) Send(data []byte) error {
	s, ok := c.d.findSlot(c.id)
	if !ok {
		return ErrUnknownConnection
	}
	s.mu.Lock()
	s.data = data
	s.mu.Unlock()
	return nil
}

// Request wakes this connection's worker goroutine to process whatever
// was last passed to Send.
func (c *Connection) Request() error {
	s, ok := c.d.findSlot(c.id)
	if !ok {
		return ErrUnknownConnection
	}
	s.mu.Lock()
	s.pending = true
	s.cond.Broadcast()
	s.mu.Unlock()
	return nil
}

// Wait blocks until this connection's worker has finished processing the
// most recent request and a response is ready to Receive.
func (c *Connection) Wait() error {
	s, ok := c.d.findSlot(c.id)
	if !ok {
		return ErrUnknownConnection
	}
	s.mu.Lock()
	for s.pending {
		if c.d.isStopped() {
			s.mu.Unlock()
			return ErrClosed
		}
		s.cond.Wait()
	}
	s.mu.Unlock()
	return nil
}

// Receive returns the response body left by this connection's worker.
func (c *Connection) Receive() ([]byte, error) {
	s, ok := c.d.findSlot(c.id)
	if !ok {
		return nil, ErrUnknownConnection
	}
	s.mu.Lock()
	out := s.data
	s.mu.Unlock()
	return out, nil
}

// IsClosed reports whether this connection has been closed.
func (c *Connection) IsClosed() bool {
	return c.d.isClosed(c.id)
}

// Close releases the connection and frees its slot for reuse.
func (c *Connection) Close() {
	c.d.slotsMu.Lock()
	if s, ok := c.d.findSlotLocked(c.id); ok {
		s.connID = ""
		s.pending = false
		s.data = nil
	}
	c.d.slotsMu.Unlock()

	c.d.mu.Lock()
	delete(c.d.connections, c.id)
	c.d.mu.Unlock()
}
