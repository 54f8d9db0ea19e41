// File: transport/handshake/pvm.go
// PVMDriver implements the "server" side of spec.md §4.1: publish our
// domain id, watch for INS client announcements, and for each one bind
// an event channel and grant the shared pages.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package handshake

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/openxt/mwsockets-go/transport/grant"
	"github.com/openxt/mwsockets-go/transport/kvstore"
)

// PVMReady is invoked once per completed INS handshake, carrying
// everything needed to initialize a transport/ring.Transport for that
// INS: the bound event channel and the grant refs published (so a test
// or the facade can sanity-check what was offered).
type PVMReady func(insID uint16, bell grant.EventChannel, refs []grant.Ref)

// PVMConfig parameterizes a PVMDriver.
type PVMConfig struct {
	Store    kvstore.Store
	Grants   grant.Table
	Binder   grant.Binder
	Root     string // defaults to DefaultRoot
	DomainID uint16 // this PVM's own domain id
	Pages    int    // number of pages to grant per INS (N in spec.md §4.1 step 4)
	PageSize int    // defaults to DefaultPageSize
	OnReady  PVMReady
}

// PVMDriver runs the PVM side of the bootstrap handshake, one INS at a
// time, indefinitely (a second INS announcing itself completes a second
// handshake without disturbing the first — spec.md's Open Question
// resolution to honor the instance byte on every request keeps this
// plumbing usable even though only one INS is driven end-to-end here).
type PVMDriver struct {
	cfg PVMConfig
}

// NewPVMDriver constructs a PVMDriver from cfg.
func NewPVMDriver(cfg PVMConfig) *PVMDriver {
	if cfg.Pages <= 0 {
		cfg.Pages = 1
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	return &PVMDriver{cfg: cfg}
}

// Run publishes this PVM's server_id, then watches ROOT for INS
// client_id announcements, completing the handshake for each one it
// sees, until closed is closed.
func (d *PVMDriver) Run(closed <-chan struct{}) error {
	root := rootOrDefault(d.cfg.Root)

	if err := d.cfg.Store.Write(root+"/server_id", strconv.Itoa(int(d.cfg.DomainID))); err != nil {
		return fmt.Errorf("handshake: publish server_id: %w", err)
	}

	events, cancel := d.cfg.Store.Watch(root)
	defer cancel()

	seen := make(map[uint16]bool)
	for {
		select {
		case ev := <-events:
			insID, ok := parseClientIDPath(root, ev.Path, ev.Value)
			if !ok || seen[insID] {
				continue
			}
			seen[insID] = true
			if err := d.completeForIns(insID); err != nil {
				// A single INS's handshake failing aborts only that
				// attempt (spec.md §4.1 "Failure: any single step
				// failing aborts the handshake; the watching side
				// continues to wait"); forget it so a later retry
				// with the same insID can be handled again.
				delete(seen, insID)
				continue
			}
		case <-closed:
			return nil
		}
	}
}

// parseClientIDPath recognizes a write to "<root>/<insid>/client_id"
// carrying a non-zero integer value, per spec.md §4.1 step 3.
func parseClientIDPath(root, path, value string) (uint16, bool) {
	prefix := root + "/"
	if !strings.HasPrefix(path, prefix) {
		return 0, false
	}
	rest := strings.TrimPrefix(path, prefix)
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[1] != "client_id" {
		return 0, false
	}
	insID, err := strconv.ParseUint(parts[0], 10, 16)
	if err != nil {
		return 0, false
	}
	v, err := strconv.ParseUint(value, 10, 64)
	if err != nil || v == 0 {
		return 0, false
	}
	return uint16(insID), true
}

func (d *PVMDriver) completeForIns(insID uint16) error {
	root := rootOrDefault(d.cfg.Root)
	insPath := fmt.Sprintf("%s/%d", root, insID)

	port, bell, err := d.cfg.Binder.Bind(insID)
	if err != nil {
		return fmt.Errorf("handshake: bind event channel for ins %d: %w", insID, err)
	}
	if err := d.cfg.Store.Write(insPath+"/vm_evt_chn_port", strconv.Itoa(int(port))); err != nil {
		return fmt.Errorf("handshake: publish vm_evt_chn_port: %w", err)
	}

	refs := make([]grant.Ref, d.cfg.Pages)
	hexRefs := make([]string, d.cfg.Pages)
	for i := 0; i < d.cfg.Pages; i++ {
		page := make([]byte, d.cfg.PageSize)
		ref, err := d.cfg.Grants.Grant(insID, page)
		if err != nil {
			return fmt.Errorf("handshake: grant page %d for ins %d: %w", i, insID, err)
		}
		refs[i] = ref
		hexRefs[i] = strconv.FormatUint(uint64(ref), 16)
	}
	if err := d.cfg.Store.Write(insPath+"/gnt_ref", strings.Join(hexRefs, " ")); err != nil {
		return fmt.Errorf("handshake: publish gnt_ref: %w", err)
	}

	if d.cfg.OnReady != nil {
		d.cfg.OnReady(insID, bell, refs)
	}
	return nil
}
