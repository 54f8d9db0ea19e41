// File: transport/handshake/ins.go
// INSDriver implements the "client" side of spec.md §4.1: announce our
// domain id, discover the PVM's, map the granted pages, bind the event
// channel, and mark ourselves bound.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package handshake

import (
	"fmt"
	"strconv"

	"github.com/openxt/mwsockets-go/transport/grant"
	"github.com/openxt/mwsockets-go/transport/kvstore"
)

// INSReady is invoked once the handshake completes, carrying the
// mapped pages and the bound event channel, ready for a
// transport/ring.Transport to be layered over them.
type INSReady func(pvmDomainID uint16, bell grant.EventChannel, pages [][]byte)

// INSConfig parameterizes an INSDriver.
type INSConfig struct {
	Store    kvstore.Store
	Grants   grant.Table
	Binder   grant.Binder
	Root     string // defaults to DefaultRoot
	DomainID uint16 // this INS's own domain id
	OnReady  INSReady
}

// INSDriver runs the INS side of the bootstrap handshake exactly once
// (one INS instance serves one PVM, per spec.md's single-INS Non-goal).
type INSDriver struct {
	cfg INSConfig
}

// NewINSDriver constructs an INSDriver from cfg.
func NewINSDriver(cfg INSConfig) *INSDriver {
	return &INSDriver{cfg: cfg}
}

// Run executes the five INS-side steps of spec.md §4.1 in order,
// returning once bound or when closed is closed.
func (d *INSDriver) Run(closed <-chan struct{}) error {
	root := rootOrDefault(d.cfg.Root)
	insPath := fmt.Sprintf("%s/%d", root, d.cfg.DomainID)

	// Step 1: announce ourselves.
	if err := d.cfg.Store.Write(insPath+"/client_id", strconv.Itoa(int(d.cfg.DomainID))); err != nil {
		return fmt.Errorf("handshake: publish client_id: %w", err)
	}

	// Step 2: discover the PVM's domain id.
	serverIDStr, err := readOrWatch(d.cfg.Store, root+"/server_id", closed)
	if err != nil {
		return fmt.Errorf("handshake: wait for server_id: %w", err)
	}
	pvmDomainU, err := strconv.ParseUint(serverIDStr, 10, 16)
	if err != nil {
		return fmt.Errorf("handshake: bad server_id %q: %w", serverIDStr, err)
	}
	pvmDomainID := uint16(pvmDomainU)

	// Step 3: map the granted pages.
	gntRefStr, err := readOrWatch(d.cfg.Store, insPath+"/gnt_ref", closed)
	if err != nil {
		return fmt.Errorf("handshake: wait for gnt_ref: %w", err)
	}
	refs, err := parseHexRefs(gntRefStr)
	if err != nil {
		return err
	}
	pages := make([][]byte, len(refs))
	for i, ref := range refs {
		page, err := d.cfg.Grants.Map(pvmDomainID, ref, 1)
		if err != nil {
			return fmt.Errorf("handshake: map grant %d: %w", ref, err)
		}
		pages[i] = page
	}

	// Step 4: bind the event channel and announce it bound.
	portStr, err := readOrWatch(d.cfg.Store, insPath+"/vm_evt_chn_port", closed)
	if err != nil {
		return fmt.Errorf("handshake: wait for vm_evt_chn_port: %w", err)
	}
	portU, err := strconv.ParseUint(portStr, 10, 32)
	if err != nil {
		return fmt.Errorf("handshake: bad vm_evt_chn_port %q: %w", portStr, err)
	}
	bell, err := d.cfg.Binder.Connect(pvmDomainID, grant.Port(portU))
	if err != nil {
		return fmt.Errorf("handshake: connect event channel: %w", err)
	}
	if err := d.cfg.Store.Write(insPath+"/vm_evt_chn_bound", "1"); err != nil {
		return fmt.Errorf("handshake: publish vm_evt_chn_bound: %w", err)
	}

	// Step 5: hand off to the ring subsystem.
	if d.cfg.OnReady != nil {
		d.cfg.OnReady(pvmDomainID, bell, pages)
	}
	return nil
}
