// File: transport/handshake/handshake.go
// Package handshake drives the bootstrap sequence of spec.md §4.1: PVM
// and INS find each other and establish a grant-mapped shared region
// plus a bound event channel using nothing but a hierarchical
// transport/kvstore.Store. Each side's sequence is a small state
// machine over Watch events, in the teacher's idiom of a single
// goroutine looping on a channel with a cancellation signal (compare
// the teacher's reactor event loop).
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package handshake

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/openxt/mwsockets-go/transport/grant"
	"github.com/openxt/mwsockets-go/transport/kvstore"
)

// DefaultRoot is the KV path prefix used when a Config leaves Root
// empty.
const DefaultRoot = "ROOT"

// DefaultPageSize is the page size assumed for granted regions.
const DefaultPageSize = 4096

// ErrCancelled reports that closed was closed before the sequence
// completed. INSDriver.Run returns it wrapped with the step it was
// waiting on; PVMDriver.Run returns nil when closed is closed.
var ErrCancelled = errors.New("handshake: cancelled")

func rootOrDefault(root string) string {
	if root == "" {
		return DefaultRoot
	}
	return root
}

// readOrWatch returns the current value at path if already set and
// non-empty, otherwise waits for a Write under path (exact match) to
// occur, or for closed to close.
func readOrWatch(store kvstore.Store, path string, closed <-chan struct{}) (string, error) {
	if v, ok := store.Read(path); ok && v != "" {
		return v, nil
	}
	events, cancel := store.Watch(path)
	defer cancel()
	for {
		select {
		case ev := <-events:
			if ev.Path == path && ev.Value != "" {
				return ev.Value, nil
			}
		case <-closed:
			return "", ErrCancelled
		}
	}
}

func parseHexRefs(s string) ([]grant.Ref, error) {
	fields := strings.Fields(s)
	refs := make([]grant.Ref, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.ParseUint(f, 16, 32)
		if err != nil {
			return nil, fmt.Errorf("handshake: bad grant ref %q: %w", f, err)
		}
		refs = append(refs, grant.Ref(n))
	}
	return refs, nil
}
