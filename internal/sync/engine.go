package sync

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/skip2/go-qrcode"
	"golang.org/x/time/rate"

	"github.com/lettucelabs/lettuce/internal/abort"
	"github.com/lettucelabs/lettuce/internal/store"
)

const approvalTimeout = 30 * time.Second

// URIScheme prefixes the pairing address encoded into the QR code.
const URIScheme = "lettuce-sync"

// Engine coordinates sync sessions over the local network: one listener or
// one outbound dial, and at most one live session at a time.
type Engine struct {
	store      *store.Store
	reg        *abort.Registry
	deviceName string
	mediaDir   string

	mu              sync.Mutex
	status          Status
	events          chan Status
	listener        net.Listener
	pin             string
	active          bool
	pending         *approval
	requireApproval bool
	limiters        map[string]*rate.Limiter
}

type approval struct {
	ip       string
	decision chan bool
}

// Options configures an Engine.
type Options struct {
	// DeviceName is shown to the peer during the handshake. Defaults to
	// the hostname.
	DeviceName string

	// MediaDir is the root for avatar and attachment files.
	MediaDir string

	// RequireApproval parks inbound connections until ApproveConnection
	// is called.
	RequireApproval bool
}

func NewEngine(st *store.Store, reg *abort.Registry, opts Options) *Engine {
	name := opts.DeviceName
	if name == "" {
		if host, err := os.Hostname(); err == nil && host != "" {
			name = host
		} else {
			name = "lettuce"
		}
	}
	return &Engine{
		store:           st,
		reg:             reg,
		deviceName:      name,
		mediaDir:        opts.MediaDir,
		requireApproval: opts.RequireApproval,
		status:          Status{Phase: PhaseIdle},
		events:          make(chan Status, 32),
		limiters:        make(map[string]*rate.Limiter),
	}
}

// StartDriver binds a TCP listener and accepts passenger connections until
// Stop. It returns the address to show the user, as also encoded in the
// pairing QR.
func (e *Engine) StartDriver(port int, pin string) (string, error) {
	if len(pin) < 4 {
		return "", ErrPINTooShort
	}
	e.mu.Lock()
	if e.listener != nil || e.active {
		e.mu.Unlock()
		return "", ErrSyncActive
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		e.mu.Unlock()
		return "", fmt.Errorf("listen: %w", err)
	}
	e.listener = ln
	e.pin = pin
	e.mu.Unlock()

	e.setState(Status{Role: roleDriver, Phase: PhaseListening})
	go e.acceptLoop(ln)

	_, boundPort, _ := net.SplitHostPort(ln.Addr().String())
	addr := net.JoinHostPort(localIP(), boundPort)
	slog.Info("sync listener started", "addr", addr)
	return addr, nil
}

// ConnectPassenger dials a listening driver and runs the session to
// completion. It blocks until the session ends.
func (e *Engine) ConnectPassenger(ip string, port int, pin string) error {
	if len(pin) < 4 {
		return ErrPINTooShort
	}
	e.mu.Lock()
	if e.listener != nil || e.active {
		e.mu.Unlock()
		return ErrSyncActive
	}
	e.active = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.active = false
		e.mu.Unlock()
	}()

	addr := net.JoinHostPort(ip, strconv.Itoa(port))
	e.setState(Status{Role: rolePassenger, PeerIP: ip, Phase: PhaseConnecting})
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		e.publish(PhaseErrored, "connect failed")
		return fmt.Errorf("connect %s: %w", addr, err)
	}
	return e.runSession(conn, rolePassenger, pin)
}

// Stop cancels the live session if any, closes the listener, and returns
// the engine to idle.
func (e *Engine) Stop() {
	e.reg.CancelKind("sync")

	e.mu.Lock()
	ln := e.listener
	e.listener = nil
	e.pin = ""
	e.mu.Unlock()
	if ln != nil {
		ln.Close()
	}

	e.setState(Status{Phase: PhaseIdle})
	slog.Info("sync engine stopped")
}

// Status reports the engine's current state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Events exposes the status stream. Slow readers miss intermediate updates
// rather than stalling a session.
func (e *Engine) Events() <-chan Status {
	return e.events
}

// ListenAddr reports the bound listener address, empty when not listening.
func (e *Engine) ListenAddr() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listener == nil {
		return ""
	}
	return e.listener.Addr().String()
}

// ApproveConnection resolves the connection waiting in the approval phase.
// The ip must name the pending peer, so a decision made for one peer can
// never admit another that connected in the meantime.
func (e *Engine) ApproveConnection(ip string, allow bool) error {
	e.mu.Lock()
	p := e.pending
	if p == nil {
		e.mu.Unlock()
		return ErrNoApproval
	}
	if p.ip != ip {
		e.mu.Unlock()
		return ErrApprovalMismatch
	}
	e.pending = nil
	e.mu.Unlock()
	p.decision <- allow
	return nil
}

// SetRequireApproval changes the approval policy for future connections.
// A connection already waiting for approval is unaffected.
func (e *Engine) SetRequireApproval(v bool) {
	e.mu.Lock()
	e.requireApproval = v
	e.mu.Unlock()
}

// PairingURI is the address encoded into the pairing QR, empty when not
// listening.
func (e *Engine) PairingURI() string {
	e.mu.Lock()
	ln := e.listener
	e.mu.Unlock()
	if ln == nil {
		return ""
	}
	_, port, _ := net.SplitHostPort(ln.Addr().String())
	return fmt.Sprintf("%s://%s", URIScheme, net.JoinHostPort(localIP(), port))
}

// PairingQR renders the pairing URI as a PNG so the passenger can scan the
// driver's address instead of typing it.
func (e *Engine) PairingQR() ([]byte, error) {
	uri := e.PairingURI()
	if uri == "" {
		return nil, ErrNotListening
	}
	return qrcode.Encode(uri, qrcode.Medium, 256)
}

func (e *Engine) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go e.handleConn(conn)
	}
}

func (e *Engine) handleConn(conn net.Conn) {
	ip, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
	if !e.allowIP(ip) {
		slog.Warn("sync connection rate limited", "peer", ip)
		conn.Close()
		return
	}

	e.mu.Lock()
	if e.active {
		e.mu.Unlock()
		slog.Warn("sync connection refused, session active", "peer", ip)
		conn.Close()
		return
	}
	e.active = true
	pin := e.pin
	approve := e.requireApproval
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.active = false
		e.mu.Unlock()
	}()

	if approve && !e.awaitApproval(ip) {
		slog.Info("sync connection declined", "peer", ip)
		conn.Close()
		e.setState(Status{Role: roleDriver, Phase: PhaseListening})
		return
	}

	e.runSession(conn, roleDriver, pin)
}

// awaitApproval parks an inbound connection until ApproveConnection
// resolves it. No decision within the window counts as a refusal.
func (e *Engine) awaitApproval(ip string) bool {
	dec := make(chan bool, 1)
	e.mu.Lock()
	if e.pending != nil {
		e.mu.Unlock()
		return false
	}
	e.pending = &approval{ip: ip, decision: dec}
	e.mu.Unlock()
	e.setState(Status{Role: roleDriver, PeerIP: ip, Phase: PhaseApprovalRequired})

	defer func() {
		e.mu.Lock()
		e.pending = nil
		e.mu.Unlock()
	}()

	select {
	case ok := <-dec:
		return ok
	case <-time.After(approvalTimeout):
		return false
	}
}

// runSession registers the session for cancellation and drives it to a
// terminal state. Stop reaches running sessions through the registry.
func (e *Engine) runSession(conn net.Conn, role, pin string) error {
	op := e.reg.Register(store.NewID(), "sync")
	defer e.reg.Unregister(op.ID)

	s := newSession(e, conn, role, pin, op.Done())
	e.setState(Status{Role: role, PeerIP: s.peerIP, Phase: PhaseConnecting})
	return s.run()
}

// allowIP enforces the per-peer connection budget: bursts of three, then
// one new attempt every ten seconds.
func (e *Engine) allowIP(ip string) bool {
	e.mu.Lock()
	lim, ok := e.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(rate.Every(10*time.Second), 3)
		e.limiters[ip] = lim
	}
	e.mu.Unlock()
	return lim.Allow()
}

// publish updates phase and progress, keeping role and peer.
func (e *Engine) publish(phase Phase, progress string) {
	e.mu.Lock()
	e.status.Phase = phase
	e.status.Progress = progress
	st := e.status
	e.mu.Unlock()
	e.emit(st)
}

func (e *Engine) setState(st Status) {
	e.mu.Lock()
	e.status = st
	e.mu.Unlock()
	e.emit(st)
}

// emit never blocks; the events channel is a best-effort stream.
func (e *Engine) emit(st Status) {
	select {
	case e.events <- st:
	default:
	}
}

// localIP picks the first non-loopback IPv4 address for display. Sessions
// accept on all interfaces; this only feeds the QR and status surfaces.
func localIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if v4 := ipnet.IP.To4(); v4 != nil {
			return v4.String()
		}
	}
	return "127.0.0.1"
}
