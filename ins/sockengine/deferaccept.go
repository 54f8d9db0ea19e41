// File: ins/sockengine/deferaccept.go
// DeferAcceptPool implements spec.md §4.6's defer-accept behavior: an
// Accept on a defer-accept-enabled listener does not return until the
// accepted connection has readable data or has been idle past a
// threshold. Resolving the Open Question in spec.md §9 ("the correct
// bound should be at most max_worker_count... use a per-listener
// structure, not a thread-local"), one DeferAcceptPool is owned per
// listening worker slot rather than shared thread-local state.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package sockengine

import (
	"sync"
	"time"

	"github.com/openxt/mwsockets-go/core/wire"
)

// DefaultDeferAcceptWindow is the idle window before a warming entry is
// reaped, per spec.md §4.6's "configurable, default 10 s".
const DefaultDeferAcceptWindow = 10 * time.Second

type deferAcceptEntry struct {
	fd      int
	peer    wire.SockAddr
	arrived time.Time
}

// DeferAcceptPool is a per-listener bounded table of warming
// (accepted-but-not-yet-readable) connections.
type DeferAcceptPool struct {
	mu      sync.Mutex
	host    HostSocketAPI
	window  time.Duration
	entries []deferAcceptEntry
}

// NewDeferAcceptPool constructs a pool for one listening socket. window
// <= 0 uses DefaultDeferAcceptWindow.
func NewDeferAcceptPool(host HostSocketAPI, window time.Duration) *DeferAcceptPool {
	if window <= 0 {
		window = DefaultDeferAcceptWindow
	}
	return &DeferAcceptPool{host: host, window: window}
}

// Poll performs one iteration of the warming loop: first, an accept
// attempt on listenFd grows the pool with any newly established
// connection (the attempt returns at once only if listenFd itself is in
// non-blocking mode; on a blocking listener it waits for the next
// connection, and an accept error is ignored); then every pending entry is checked for
// readability or staleness. The first readable entry is returned and
// removed; stale entries are reaped (closed, discarded) along the way.
// ok is false if no entry is ready yet.
func (p *DeferAcceptPool) Poll(listenFd int) (fd int, peer wire.SockAddr, ok bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if newfd, newPeer, acceptErr := p.host.Accept(listenFd, true); acceptErr == nil {
		p.entries = append(p.entries, deferAcceptEntry{fd: newfd, peer: newPeer, arrived: timeNow()})
	}

	now := timeNow()
	live := p.entries[:0]
	for _, e := range p.entries {
		revents, perr := p.host.Poll(e.fd, PollIn|PollRDNorm, 0)
		if perr == nil && revents&(PollIn|PollRDNorm) != 0 {
			if !ok {
				fd, peer, ok = e.fd, e.peer, true
				continue // don't keep a returned entry
			}
		}
		if now.Sub(e.arrived) > p.window {
			p.host.Close(e.fd)
			continue // reaped
		}
		live = append(live, e)
	}
	p.entries = live
	return fd, peer, ok, nil
}

// Len reports the number of warming entries currently held, bounded by
// construction to at most the listener's own accept churn (never
// shared across listeners, resolving the thread-local-table flaw spec
// calls out).
func (p *DeferAcceptPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// timeNow is a seam so tests can control arrival/elapsed time without
// relying on wall-clock sleeps.
var timeNow = time.Now
