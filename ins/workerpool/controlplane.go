// File: ins/workerpool/controlplane.go
// ControlPlane publishes the INS-authored rows of the bootstrap KV
// tree (spec.md §6's path table) that live past the initial handshake:
// heartbeat, listener ports, socket params, and the instance's own
// domain id. Grounded on the teacher's control/ package style (small
// dedicated types over a shared store rather than one fat "manager"),
// generalized here from an in-process config store to a
// transport/kvstore.Store shared with the PVM.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package workerpool

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/openxt/mwsockets-go/transport/kvstore"
)

// ErrNoSockParams is returned when the PVM has not yet published
// socket_params for this instance.
var ErrNoSockParams = errors.New("workerpool: socket_params not published")

// ControlPlane implements the INS-authored half of spec.md §6's path
// table for one INS instance.
type ControlPlane struct {
	store kvstore.Store
	root  string
	insID uint16
	domID uint16

	pool *Pool

	heartbeat atomic.Uint64
}

// NewControlPlane constructs a ControlPlane for one INS instance. root
// defaults to "ROOT" when empty, matching transport/handshake's own
// default.
func NewControlPlane(store kvstore.Store, root string, insID, domID uint16, pool *Pool) *ControlPlane {
	if root == "" {
		root = "ROOT"
	}
	return &ControlPlane{store: store, root: root, insID: insID, domID: domID, pool: pool}
}

func (c *ControlPlane) path(leaf string) string {
	return fmt.Sprintf("%s/%d/%s", c.root, c.insID, leaf)
}

// DomID returns this INS instance's domain id, the value published at
// ROOT/<insid>/client_id during the handshake.
func (c *ControlPlane) DomID() uint16 { return c.domID }

// Heartbeat increments and publishes the monotonic counter at
// ROOT/<insid>/heartbeat.
func (c *ControlPlane) Heartbeat() error {
	n := c.heartbeat.Add(1)
	return c.store.Write(c.path("heartbeat"), strconv.FormatUint(n, 10))
}

// PublishListeners publishes the space-separated hex port list of
// every worker slot currently bound with a nonzero port, at
// ROOT/<insid>/listeners.
func (c *ControlPlane) PublishListeners() error {
	var ports []string
	for i := range c.pool.workers {
		w := &c.pool.workers[i]
		if w.InUse() && w.Port != 0 {
			ports = append(ports, fmt.Sprintf("%x", w.Port))
		}
	}
	return c.store.Write(c.path("listeners"), strings.Join(ports, " "))
}

// GetSockParams parses the space-separated name:value sysctl tokens
// the PVM publishes at ROOT/<insid>/socket_params. Application of
// individual settings to the host stack is left to the embedder (the
// set of valid names is itself out of scope, per spec.md §6).
func (c *ControlPlane) GetSockParams() (map[string]string, error) {
	raw, ok := c.store.Read(c.path("socket_params"))
	if !ok {
		return nil, ErrNoSockParams
	}
	out := make(map[string]string)
	for _, tok := range strings.Fields(raw) {
		name, value, ok := strings.Cut(tok, ":")
		if !ok {
			continue
		}
		out[name] = value
	}
	return out, nil
}

// PublishNetworkStats publishes the combined open-sockets/bytes-recv/
// bytes-sent triplet at ROOT/<insid>/network_stats, hex-encoded per
// spec.md §6.
func (c *ControlPlane) PublishNetworkStats(bytesRecv, bytesSent uint64) error {
	value := fmt.Sprintf("%x:%x:%x", c.pool.WorkersInUse(), bytesRecv, bytesSent)
	return c.store.Write(c.path("network_stats"), value)
}
