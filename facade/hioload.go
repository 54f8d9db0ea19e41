// File: facade/hioload.go
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package facade wires a transport/ring.Transport, a pvm dispatcher and
// an ins worker pool together into one running system, for embedding a
// PVM and INS side by side in a single process (tests, and any caller
// that does not need the real Xen grant-table/event-channel backend).
package facade

import (
	"fmt"
	"sync"
	"time"

	"github.com/openxt/mwsockets-go/adapters"
	"github.com/openxt/mwsockets-go/api"
	"github.com/openxt/mwsockets-go/core/wire"
	"github.com/openxt/mwsockets-go/ins/sockengine"
	"github.com/openxt/mwsockets-go/ins/workerpool"
	"github.com/openxt/mwsockets-go/netflow"
	"github.com/openxt/mwsockets-go/pvm/dispatcher"
	"github.com/openxt/mwsockets-go/pvm/pollmonitor"
	"github.com/openxt/mwsockets-go/pvm/rundown"
	"github.com/openxt/mwsockets-go/transport/grant"
	"github.com/openxt/mwsockets-go/transport/ring"
)

// Config exposes every configurable system parameter for a single-
// process PVM+INS embedding.
type Config struct {
	RingSlotCount int // per-direction ring depth, rounded up to a power of two
	RingSlotCap   int // bytes per slot; must hold the largest request/response
	INSInstanceID uint8
	NumWorkers    int
	NumBuffers    int // should be >= NumWorkers plus headroom, per spec.md §4.6

	DeferAcceptWindow time.Duration
	CloseTimeout      time.Duration
	RundownTimeout    time.Duration

	// NetflowAddr, if non-empty, starts a netflow.Listener on this
	// address serving stats broadcasts and feature requests. Empty
	// disables the side channel entirely.
	NetflowAddr string

	EnableMetrics bool
	EnableDebug   bool
}

// DefaultConfig provides a baseline configuration for most use cases.
// You can modify returned fields before passing to New.
func DefaultConfig() *Config {
	return &Config{
		RingSlotCount:     1024,
		RingSlotCap:       64 * 1024,
		INSInstanceID:     1,
		NumWorkers:        64,
		NumBuffers:        96,
		DeferAcceptWindow: sockengine.DefaultDeferAcceptWindow,
		CloseTimeout:      dispatcher.DefaultCloseTimeout,
		RundownTimeout:    rundown.DefaultTimeout,
		EnableMetrics:     true,
		EnableDebug:       true,
	}
}

// System is the facade: a PVM device, its poll monitor, the paired INS
// dispatcher and (optionally) a netflow side channel, all sharing one
// in-process transport/ring.Transport.
type System struct {
	config *Config
	control api.Control

	transport *ring.Transport
	device    *dispatcher.Device
	monitor   *pollmonitor.Monitor
	ins       *workerpool.Dispatcher
	netflow   *netflow.Listener

	mu      sync.Mutex
	started bool
	closed  chan struct{}
	wg      sync.WaitGroup

	runErrMu sync.Mutex
	insErr   error
	devErr   error
}

// New constructs a System ready for Start. The PVM and INS sides share
// an in-memory grant.Table/Binder pair (transport/grant.MemoryTable and
// MemoryBinder) standing in for the real Xen backend (spec.md §1's
// "external collaborator out of scope").
func New(cfg *Config) (*System, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	control := adapters.NewControlAdapter()

	transport := ring.NewTransport(cfg.RingSlotCount, cfg.RingSlotCap)

	binder := grant.NewMemoryBinder()
	pvmPort, pvmBell, err := binder.Bind(0)
	if err != nil {
		return nil, fmt.Errorf("facade: bind pvm doorbell: %w", err)
	}
	insBell, err := binder.Connect(0, pvmPort)
	if err != nil {
		return nil, fmt.Errorf("facade: connect ins doorbell: %w", err)
	}

	pvmSide := ring.NewPVMSide(transport, pvmBell)
	insSide := ring.NewINSSide(transport, insBell)

	host := sockengine.NewUnixHostSocketAPI()
	pool := workerpool.NewPool(cfg.INSInstanceID, cfg.NumWorkers, cfg.NumBuffers, cfg.RingSlotCap, host)
	ins := workerpool.NewDispatcher(pool, insSide, host, cfg.DeferAcceptWindow)

	device := dispatcher.NewDevice(pvmSide)
	monitor := pollmonitor.New(device)

	s := &System{
		config:    cfg,
		control:   control,
		transport: transport,
		device:    device,
		monitor:   monitor,
		ins:       ins,
		closed:    make(chan struct{}),
	}

	if cfg.NetflowAddr != "" {
		nf, err := netflow.NewListener(cfg.NetflowAddr, netflow.NewDispatcherHandler(device))
		if err != nil {
			return nil, fmt.Errorf("facade: netflow listen: %w", err)
		}
		s.netflow = nf
	}

	if cfg.EnableDebug {
		control.RegisterDebugProbe("mwsockets.ring.request_depth", func() any { return transport.RequestDepth() })
		control.RegisterDebugProbe("mwsockets.ring.response_depth", func() any { return transport.ResponseDepth() })
		control.RegisterDebugProbe("mwsockets.run_err", func() any {
			if err := s.RunErr(); err != nil {
				return err.Error()
			}
			return nil
		})
	}

	return s, nil
}

// Start runs the INS dispatcher, the PVM response-consumer loop, the
// poll monitor and (if configured) the netflow listener as background
// goroutines.
func (s *System) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.ins.Run(s.closed); err != nil {
			s.runErrMu.Lock()
			s.insErr = err
			s.runErrMu.Unlock()
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.device.Run(s.closed); err != nil {
			s.runErrMu.Lock()
			s.devErr = err
			s.runErrMu.Unlock()
		}
	}()

	go s.monitor.Run()

	if s.netflow != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.netflow.Serve()
		}()
	}

	if s.config.EnableMetrics {
		s.control.SetConfig(map[string]any{"metrics.enabled": true})
	}

	s.started = true
	return nil
}

// Stop issues rundown (a best-effort Close for every still-open
// mwsocket, per spec.md §5) and then tears down every background
// goroutine.
func (s *System) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}

	rundown.Run(s.device, s.config.RundownTimeout)

	close(s.closed)
	s.monitor.Stop()
	if s.netflow != nil {
		s.netflow.Close()
	}
	s.wg.Wait()
	s.started = false
	return nil
}

// RunErr reports the first fatal error observed by either the INS
// dispatcher's or the PVM device's background Run loop (a ring
// declared fatally corrupt, per spec.md's ring-corruption policy), or
// nil if both are still running cleanly. Callers that need to surface
// this as a process exit code should poll it after Stop, or watch
// s.closed alongside it for an early-exit signal.
func (s *System) RunErr() error {
	s.runErrMu.Lock()
	defer s.runErrMu.Unlock()
	if s.devErr != nil {
		return s.devErr
	}
	return s.insErr
}

// Device exposes the PVM device surface directly for callers that need
// more than CreateSocket (e.g. a long-running poll loop against
// specific handles).
func (s *System) Device() *dispatcher.Device { return s.device }

// Monitor exposes the background poll monitor, for registering
// readiness-change waiters (spec.md §8 scenario S5).
func (s *System) Monitor() *pollmonitor.Monitor { return s.monitor }

// Control exposes the hot reload, dynamic config, metrics, and probe
// registration interface.
func (s *System) Control() api.Control { return s.control }

// CreateSocket implements the `CREATE_SOCKET(domain, type, protocol) ->
// local_fd` ioctl from spec.md §6, opening a fresh mwsocket handle.
func (s *System) CreateSocket(family wire.ProtocolFamily, typ wire.SockType, protocol int32) (*dispatcher.Handle, error) {
	return s.device.CreateSocket(family, typ, protocol)
}
