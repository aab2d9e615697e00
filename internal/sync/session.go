package sync

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/lettucelabs/lettuce/internal/store"
	"github.com/lettucelabs/lettuce/pkg/syncwire"
)

const (
	roleDriver    = "driver"
	rolePassenger = "passenger"
)

// session owns one socket and one derived key from accept or dial until
// teardown. Everything runs on the session's goroutine; the only outside
// influence is the one-shot cancel channel.
type session struct {
	eng       *Engine
	conn      net.Conn
	role      string
	pin       string
	peerIP    string
	key       []byte
	challenge []byte
	cancel    <-chan struct{}
	cancelled atomic.Bool
}

func newSession(eng *Engine, conn net.Conn, role, pin string, cancel <-chan struct{}) *session {
	ip, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
	return &session{eng: eng, conn: conn, role: role, pin: pin, peerIP: ip, cancel: cancel}
}

// run drives the session to a terminal state. The key is zeroed and the
// socket closed on every exit path.
func (s *session) run() error {
	defer func() {
		Zero(s.key)
		s.conn.Close()
	}()

	// interrupt blocked socket I/O when the caller cancels
	watcherDone := make(chan struct{})
	defer close(watcherDone)
	go func() {
		select {
		case <-s.cancel:
			s.cancelled.Store(true)
			s.conn.SetDeadline(time.Now())
		case <-watcherDone:
		}
	}()

	err := s.exchange()
	switch {
	case err == nil:
		s.eng.publish(PhaseCompleted, "")
		slog.Info("sync session completed", "role", s.role, "peer", s.peerIP)
		return nil
	case s.cancelled.Load() || errors.Is(err, ErrCancelled):
		s.sendDisconnect()
		s.eng.publish(PhaseIdle, "cancelled")
		slog.Info("sync session cancelled", "role", s.role, "peer", s.peerIP)
		return ErrCancelled
	default:
		kind := errKind(err)
		s.sendError(kind)
		s.eng.publish(PhaseErrored, kind)
		slog.Error("sync session failed", "role", s.role, "peer", s.peerIP, "error", err)
		return err
	}
}

// exchange walks the full protocol: handshake, mutual auth, manifest
// exchange, transfer, teardown. The driver pushes its layers first.
func (s *session) exchange() error {
	salt, err := randomBytes(syncwire.SaltSize)
	if err != nil {
		return err
	}
	s.challenge, err = randomBytes(syncwire.ChallengeSize)
	if err != nil {
		return err
	}

	s.eng.publish(PhaseHandshake, "")
	if err := syncwire.WriteFrame(s.conn, syncwire.NewHandshake(s.eng.deviceName, salt, s.challenge)); err != nil {
		return s.transport(err)
	}
	data, err := s.readTyped(syncwire.TypeHandshake)
	if err != nil {
		return err
	}
	var peer syncwire.Handshake
	if err := json.Unmarshal(data, &peer); err != nil {
		return fmt.Errorf("%w: handshake: %v", ErrProtocol, err)
	}
	if peer.ProtocolVersion != syncwire.ProtocolVersion {
		return fmt.Errorf("%w: peer v%d, local v%d", ErrVersionMismatch, peer.ProtocolVersion, syncwire.ProtocolVersion)
	}
	if len(peer.Salt) != syncwire.SaltSize || len(peer.Challenge) != syncwire.ChallengeSize {
		return fmt.Errorf("%w: bad handshake field sizes", ErrProtocol)
	}

	// the driver's salt is the session salt
	sessionSalt := salt
	if s.role == rolePassenger {
		sessionSalt = peer.Salt
	}
	s.key = DeriveKey(s.pin, sessionSalt)

	s.eng.publish(PhaseAuthPending, "")
	if err := s.authenticate(peer.Challenge); err != nil {
		return err
	}
	s.eng.publish(PhaseAuthenticated, peer.DeviceName)

	layers, push, err := s.exchangeManifests()
	if err != nil {
		return err
	}

	s.eng.publish(PhaseTransferring, "")
	if s.role == roleDriver {
		if err := s.push(layers, push); err != nil {
			return err
		}
		if err := s.receive(layers); err != nil {
			return err
		}
		s.sendDisconnect()
	} else {
		if err := s.receive(layers); err != nil {
			return err
		}
		if err := s.push(layers, push); err != nil {
			return err
		}
		s.awaitDisconnect()
	}
	return nil
}

// authenticate proves PIN knowledge in both directions. Every failure mode
// collapses into ErrAuthFailed so the wire never reveals which check broke.
func (s *session) authenticate(peerChallenge []byte) error {
	sealedEcho, err := Seal(s.key, peerChallenge)
	if err != nil {
		return err
	}
	fresh, err := randomBytes(syncwire.ChallengeSize)
	if err != nil {
		return err
	}
	if err := syncwire.WriteFrame(s.conn, syncwire.NewAuthRequest(sealedEcho, fresh)); err != nil {
		return s.transport(err)
	}

	data, err := s.readTyped(syncwire.TypeAuthRequest)
	if err != nil {
		return err
	}
	var req syncwire.AuthRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return ErrAuthFailed
	}
	echo, err := Open(s.key, req.EncryptedChallenge)
	if err != nil || !bytes.Equal(echo, s.challenge) {
		return ErrAuthFailed
	}

	proof, err := Seal(s.key, req.MyChallenge)
	if err != nil {
		return err
	}
	if err := syncwire.WriteFrame(s.conn, syncwire.NewAuthResponse(proof)); err != nil {
		return s.transport(err)
	}

	data, err = s.readTyped(syncwire.TypeAuthResponse)
	if err != nil {
		return err
	}
	var resp syncwire.AuthResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return ErrAuthFailed
	}
	echo, err = Open(s.key, resp.EncryptedChallenge)
	if err != nil || !bytes.Equal(echo, fresh) {
		return ErrAuthFailed
	}
	return nil
}

// exchangeManifests swaps sealed manifests and computes this side's push
// set. A peer speaking the legacy request narrows the session to the three
// original content layers.
func (s *session) exchangeManifests() ([]syncwire.Layer, map[syncwire.Layer][]string, error) {
	local, err := s.eng.store.BuildManifest(syncwire.LayerOrder)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: build manifest: %v", ErrDatabase, err)
	}
	plain, err := json.Marshal(local)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal manifest: %w", err)
	}
	sealed, err := Seal(s.key, plain)
	if err != nil {
		return nil, nil, err
	}
	if err := syncwire.WriteFrame(s.conn, syncwire.NewSyncRequestV2(sealed)); err != nil {
		return nil, nil, s.transport(err)
	}

	data, typ, err := s.readAny(syncwire.TypeSyncRequestV2, syncwire.TypeSyncRequest)
	if err != nil {
		return nil, nil, err
	}
	layers := syncwire.LayerOrder
	if typ == syncwire.TypeSyncRequest {
		layers = syncwire.LegacyLayerOrder
		slog.Info("peer requested legacy sync", "layers", len(layers))
	}
	var req syncwire.SyncRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, nil, fmt.Errorf("%w: sync request: %v", ErrProtocol, err)
	}
	remotePlain, err := Open(s.key, req.Manifest)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: manifest decrypt: %v", ErrProtocol, err)
	}
	var remote syncwire.Manifest
	if err := json.Unmarshal(remotePlain, &remote); err != nil {
		return nil, nil, fmt.Errorf("%w: manifest decode: %v", ErrProtocol, err)
	}

	push := PushSet(local, remote, layers)
	s.eng.publish(PhaseManifestExchange,
		fmt.Sprintf("%d local rows, %d remote rows", local.Total(), remote.Total()))
	return layers, push, nil
}

// push sends this side's newer rows layer by layer, then the media files
// they reference, then the completion mark.
func (s *session) push(layers []syncwire.Layer, pushSet map[syncwire.Layer][]string) error {
	seen := map[string]struct{}{}
	var media []string

	for _, layer := range layers {
		if s.cancelled.Load() {
			return ErrCancelled
		}
		ids := pushSet[layer]
		if len(ids) == 0 {
			continue
		}
		payload, err := s.eng.store.CollectRows(layer, idSet(ids))
		if err != nil {
			return fmt.Errorf("%w: collect %s: %v", ErrDatabase, layer, err)
		}
		if len(payload) == 0 {
			continue
		}
		plain, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", layer, err)
		}
		sealed, err := Seal(s.key, plain)
		if err != nil {
			return err
		}
		if err := syncwire.WriteFrame(s.conn, syncwire.NewDataResponse(layer, sealed)); err != nil {
			return s.transport(err)
		}
		s.eng.publish(PhaseTransferring, fmt.Sprintf("sent %s: %d rows", layer, len(ids)))

		for _, p := range store.MediaPaths(layer, payload) {
			if _, dup := seen[p]; !dup {
				seen[p] = struct{}{}
				media = append(media, p)
			}
		}
	}

	for _, p := range media {
		if s.cancelled.Load() {
			return ErrCancelled
		}
		rel, content, err := LoadMediaFile(s.eng.mediaDir, p)
		if err != nil {
			slog.Debug("media file skipped", "path", p, "error", err)
			continue
		}
		sealed, err := Seal(s.key, content)
		if err != nil {
			return err
		}
		if err := syncwire.WriteFrame(s.conn, syncwire.NewFileTransfer(rel, sealed)); err != nil {
			return s.transport(err)
		}
	}

	if err := syncwire.WriteFrame(s.conn, syncwire.NewSyncComplete()); err != nil {
		return s.transport(err)
	}
	return nil
}

// receive applies the peer's layers until its completion mark. Layers must
// arrive in strictly ascending dependency order within the agreed set.
func (s *session) receive(layers []syncwire.Layer) error {
	allowed := make(map[syncwire.Layer]bool, len(layers))
	for _, l := range layers {
		allowed[l] = true
	}
	lastIdx := -1

	for {
		if s.cancelled.Load() {
			return ErrCancelled
		}
		data, typ, err := s.readAny(syncwire.TypeDataResponse, syncwire.TypeFileTransfer, syncwire.TypeSyncComplete)
		if err != nil {
			return err
		}
		switch typ {
		case syncwire.TypeSyncComplete:
			return nil

		case syncwire.TypeDataResponse:
			var dr syncwire.DataResponse
			if err := json.Unmarshal(data, &dr); err != nil {
				return fmt.Errorf("%w: data response: %v", ErrProtocol, err)
			}
			if !allowed[dr.Layer] {
				return fmt.Errorf("%w: layer %q not in this session", ErrProtocol, dr.Layer)
			}
			idx := dr.Layer.Index()
			if idx <= lastIdx {
				return fmt.Errorf("%w: layer %q out of order", ErrProtocol, dr.Layer)
			}
			plain, err := Open(s.key, dr.Payload)
			if err != nil {
				return fmt.Errorf("%w: payload decrypt: %v", ErrProtocol, err)
			}
			var payload store.LayerPayload
			if err := json.Unmarshal(plain, &payload); err != nil {
				return fmt.Errorf("%w: payload decode: %v", ErrProtocol, err)
			}
			applied, err := s.eng.store.ApplyLayer(dr.Layer, payload)
			if err != nil {
				return fmt.Errorf("%w: apply %s: %v", ErrDatabase, dr.Layer, err)
			}
			lastIdx = idx
			s.eng.publish(PhaseTransferring, fmt.Sprintf("applied %s: %d rows", dr.Layer, applied))

		case syncwire.TypeFileTransfer:
			var ft syncwire.FileTransfer
			if err := json.Unmarshal(data, &ft); err != nil {
				return fmt.Errorf("%w: file transfer: %v", ErrProtocol, err)
			}
			content, err := Open(s.key, ft.Content)
			if err != nil {
				return fmt.Errorf("%w: file decrypt: %v", ErrProtocol, err)
			}
			if _, err := SaveMediaFile(s.eng.mediaDir, ft.Path, content); err != nil {
				slog.Warn("media file rejected", "path", ft.Path, "error", err)
			}
		}
	}
}

// awaitDisconnect absorbs the driver's teardown frame. Both completion
// marks are already in, so a silently closed socket is fine too.
func (s *session) awaitDisconnect() {
	data, err := syncwire.ReadFrame(s.conn)
	if err != nil {
		return
	}
	if typ, err := syncwire.ParseType(data); err == nil && typ != syncwire.TypeDisconnect {
		slog.Debug("unexpected frame at teardown", "type", typ)
	}
}

// readAny reads frames until one of the accepted types arrives. Status
// updates are logged and skipped; peer errors and disconnects terminate.
func (s *session) readAny(accepted ...string) ([]byte, string, error) {
	for {
		data, err := syncwire.ReadFrame(s.conn)
		if err != nil {
			return nil, "", s.transport(err)
		}
		typ, err := syncwire.ParseType(data)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		for _, want := range accepted {
			if typ == want {
				return data, typ, nil
			}
		}
		switch typ {
		case syncwire.TypeStatusUpdate:
			var su syncwire.StatusUpdate
			_ = json.Unmarshal(data, &su)
			slog.Info("peer status", "message", su.Message)
		case syncwire.TypeError:
			var em syncwire.ErrorMessage
			_ = json.Unmarshal(data, &em)
			return nil, "", fmt.Errorf("%w: peer error: %s", ErrPeerAborted, em.Message)
		case syncwire.TypeDisconnect:
			return nil, "", fmt.Errorf("%w: peer disconnected", ErrPeerAborted)
		default:
			return nil, "", fmt.Errorf("%w: unexpected message %q", ErrProtocol, typ)
		}
	}
}

func (s *session) readTyped(want string) ([]byte, error) {
	data, _, err := s.readAny(want)
	return data, err
}

// transport classifies socket errors. A cancelled session's self-inflicted
// deadline reports as cancellation, real deadline hits as timeout, closed
// peers as aborts.
func (s *session) transport(err error) error {
	if s.cancelled.Load() {
		return ErrCancelled
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: connection closed", ErrPeerAborted)
	}
	return err
}

func (s *session) sendDisconnect() {
	_ = syncwire.WriteFrame(s.conn, syncwire.NewDisconnect())
}

// sendError notifies the peer once before teardown.
func (s *session) sendError(kind string) {
	_ = syncwire.WriteFrame(s.conn, syncwire.NewStatusUpdate("error: "+kind))
	_ = syncwire.WriteFrame(s.conn, syncwire.NewError(kind))
}

func errKind(err error) string {
	switch {
	case errors.Is(err, ErrAuthFailed):
		return "auth failed"
	case errors.Is(err, ErrVersionMismatch):
		return "version mismatch"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrPeerAborted):
		return "peer aborted"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.Is(err, ErrDatabase):
		return "database"
	case errors.Is(err, ErrProtocol):
		return "protocol"
	default:
		return "io"
	}
}
