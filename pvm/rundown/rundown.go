// File: pvm/rundown/rundown.go
// Package rundown implements spec.md §5's process-exit teardown: a
// best-effort Close is issued for every mwsocket instance the exiting
// process still owns, each awaiting its response with a bounded
// timeout, so a crashed or exiting PVM process never leaks INS worker
// slots indefinitely.
// Grounded on protvm/kernel/mwcomms/mwcomms-base.c's rundown path
// (file-release callback walks the process's open mwsocket list
// issuing Close for each) adapted to a fan-out-then-join shape, which
// is the teacher's own idiom for bounded parallel teardown
// (internal/concurrency/executor.go's worker drain on Stop).
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package rundown

import (
	"sync"
	"time"

	"github.com/openxt/mwsockets-go/pvm/dispatcher"
)

// DefaultTimeout bounds how long each Close may take during rundown,
// per spec.md §5's "each Close awaits its response with a bounded
// timeout".
const DefaultTimeout = 2 * time.Second

// device is the narrow surface rundown needs from pvm/dispatcher.Device.
type device interface {
	EachOpen(fn func(h *dispatcher.Handle))
}

// Run issues a best-effort Close against every handle dev currently
// reports open, waiting up to timeout for each and running them
// concurrently so one slow/stuck remote does not stall the rest.
// Errors are collected but never stop the sweep; process exit cannot
// be made conditional on the INS responding promptly.
func Run(dev device, timeout time.Duration) []error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs []error

	dev.EachOpen(func(h *dispatcher.Handle) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := h.Close(timeout); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	})
	wg.Wait()
	return errs
}
