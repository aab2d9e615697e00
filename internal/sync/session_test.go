package sync

import (
	"bytes"
	"encoding/json"
	"net"
	"testing"

	"github.com/lettucelabs/lettuce/pkg/syncwire"
)

func writeMsg(t *testing.T, conn net.Conn, msg any) {
	t.Helper()
	if err := syncwire.WriteFrame(conn, msg); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func readMsg(t *testing.T, conn net.Conn, want string, into any) {
	t.Helper()
	data, err := syncwire.ReadFrame(conn)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	typ, err := syncwire.ParseType(data)
	if err != nil {
		t.Fatalf("parse frame: %v", err)
	}
	if typ != want {
		t.Fatalf("got message %q, want %q", typ, want)
	}
	if into != nil {
		if err := json.Unmarshal(data, into); err != nil {
			t.Fatalf("decode %s: %v", want, err)
		}
	}
}

func mustSeal(t *testing.T, key, plaintext []byte) []byte {
	t.Helper()
	sealed, err := Seal(key, plaintext)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	return sealed
}

func mustOpen(t *testing.T, key, sealed []byte) []byte {
	t.Helper()
	plain, err := Open(key, sealed)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return plain
}

// pairAsPassenger dials the engine's listener and walks the handshake and
// mutual auth as a hand-rolled passenger, returning the connection and the
// derived session key.
func pairAsPassenger(t *testing.T, eng *Engine, pin string) (net.Conn, []byte) {
	t.Helper()
	conn, err := net.Dial("tcp", eng.ListenAddr())
	if err != nil {
		t.Fatalf("dial driver: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	salt := bytes.Repeat([]byte{7}, syncwire.SaltSize)
	challenge := bytes.Repeat([]byte{9}, syncwire.ChallengeSize)
	writeMsg(t, conn, syncwire.NewHandshake("scripted peer", salt, challenge))

	var hs syncwire.Handshake
	readMsg(t, conn, syncwire.TypeHandshake, &hs)
	key := DeriveKey(pin, hs.Salt)

	fresh := bytes.Repeat([]byte{5}, syncwire.ChallengeSize)
	writeMsg(t, conn, syncwire.NewAuthRequest(mustSeal(t, key, hs.Challenge), fresh))

	var req syncwire.AuthRequest
	readMsg(t, conn, syncwire.TypeAuthRequest, &req)
	if !bytes.Equal(mustOpen(t, key, req.EncryptedChallenge), challenge) {
		t.Fatalf("driver echoed the wrong challenge")
	}
	writeMsg(t, conn, syncwire.NewAuthResponse(mustSeal(t, key, req.MyChallenge)))

	var resp syncwire.AuthResponse
	readMsg(t, conn, syncwire.TypeAuthResponse, &resp)
	if !bytes.Equal(mustOpen(t, key, resp.EncryptedChallenge), fresh) {
		t.Fatalf("driver echoed the wrong fresh challenge")
	}
	return conn, key
}

// awaitErrorFrame reads frames until the peer's error report or gives up.
func awaitErrorFrame(t *testing.T, conn net.Conn) bool {
	t.Helper()
	for i := 0; i < 5; i++ {
		data, err := syncwire.ReadFrame(conn)
		if err != nil {
			return false
		}
		typ, err := syncwire.ParseType(data)
		if err != nil {
			return false
		}
		if typ == syncwire.TypeError {
			return true
		}
	}
	return false
}

func TestReceiverRejectsOutOfOrderLayers(t *testing.T) {
	eng, est, _ := newTestEngine(t, "driver")
	if _, err := eng.StartDriver(0, "4242"); err != nil {
		t.Fatalf("StartDriver: %v", err)
	}
	defer eng.Stop()

	conn, key := pairAsPassenger(t, eng, "4242")

	writeMsg(t, conn, syncwire.NewSyncRequestV2(mustSeal(t, key, []byte("{}"))))
	var sreq syncwire.SyncRequest
	readMsg(t, conn, syncwire.TypeSyncRequestV2, &sreq)

	// the empty driver's push is just the completion mark
	readMsg(t, conn, syncwire.TypeSyncComplete, nil)

	characters := `{"characters":[{"id":"ch1","name":"Mika","updated_at":100}]}`
	writeMsg(t, conn, syncwire.NewDataResponse(syncwire.LayerCharacters, mustSeal(t, key, []byte(characters))))
	lorebooks := `{"lorebooks":[{"id":"lb1","name":"notes","updated_at":100}]}`
	writeMsg(t, conn, syncwire.NewDataResponse(syncwire.LayerLorebooks, mustSeal(t, key, []byte(lorebooks))))

	if !awaitErrorFrame(t, conn) {
		t.Fatalf("driver accepted layers out of dependency order")
	}
	waitPhase(t, eng, PhaseErrored)

	// the in-order layer landed before the violation and is retained
	if n := countRows(t, est, "characters"); n != 1 {
		t.Errorf("characters rows = %d, want the already-applied row kept", n)
	}
	if n := countRows(t, est, "lorebooks"); n != 0 {
		t.Errorf("lorebooks rows = %d, want the violating layer dropped", n)
	}
}

func TestReceiverRejectsDuplicateLayer(t *testing.T) {
	eng, _, _ := newTestEngine(t, "driver")
	if _, err := eng.StartDriver(0, "4242"); err != nil {
		t.Fatalf("StartDriver: %v", err)
	}
	defer eng.Stop()

	conn, key := pairAsPassenger(t, eng, "4242")

	writeMsg(t, conn, syncwire.NewSyncRequestV2(mustSeal(t, key, []byte("{}"))))
	var sreq syncwire.SyncRequest
	readMsg(t, conn, syncwire.TypeSyncRequestV2, &sreq)
	readMsg(t, conn, syncwire.TypeSyncComplete, nil)

	lorebooks := `{"lorebooks":[{"id":"lb1","name":"notes","updated_at":100}]}`
	writeMsg(t, conn, syncwire.NewDataResponse(syncwire.LayerLorebooks, mustSeal(t, key, []byte(lorebooks))))
	writeMsg(t, conn, syncwire.NewDataResponse(syncwire.LayerLorebooks, mustSeal(t, key, []byte(lorebooks))))

	if !awaitErrorFrame(t, conn) {
		t.Fatalf("driver accepted the same layer twice")
	}
}

func TestLegacyRequestRestrictsLayers(t *testing.T) {
	eng, est, _ := newTestEngine(t, "driver")
	seedPersona(t, est, "p1", "traveler", 100)
	seedLorebook(t, est, "lb1", "notes", 100)

	if _, err := eng.StartDriver(0, "4242"); err != nil {
		t.Fatalf("StartDriver: %v", err)
	}
	defer eng.Stop()

	conn, key := pairAsPassenger(t, eng, "4242")

	// a pre-V2 peer announces itself with the legacy request form
	writeMsg(t, conn, syncwire.NewSyncRequest(mustSeal(t, key, []byte("{}"))))
	var sreq syncwire.SyncRequest
	readMsg(t, conn, syncwire.TypeSyncRequestV2, &sreq)

	var gotLayers []syncwire.Layer
	for {
		data, err := syncwire.ReadFrame(conn)
		if err != nil {
			t.Fatalf("read driver push: %v", err)
		}
		typ, err := syncwire.ParseType(data)
		if err != nil {
			t.Fatalf("parse driver push: %v", err)
		}
		if typ == syncwire.TypeSyncComplete {
			break
		}
		if typ != syncwire.TypeDataResponse {
			t.Fatalf("unexpected frame %q during push", typ)
		}
		var dr syncwire.DataResponse
		if err := json.Unmarshal(data, &dr); err != nil {
			t.Fatalf("decode data response: %v", err)
		}
		gotLayers = append(gotLayers, dr.Layer)
	}
	if len(gotLayers) != 1 || gotLayers[0] != syncwire.LayerLorebooks {
		t.Errorf("driver pushed layers %v, want only lorebooks", gotLayers)
	}

	// our side has nothing; the driver should close out cleanly
	writeMsg(t, conn, syncwire.NewSyncComplete())
	readMsg(t, conn, syncwire.TypeDisconnect, nil)
	waitPhase(t, eng, PhaseCompleted)
}

func TestVersionMismatchRejected(t *testing.T) {
	eng, _, _ := newTestEngine(t, "driver")
	if _, err := eng.StartDriver(0, "4242"); err != nil {
		t.Fatalf("StartDriver: %v", err)
	}
	defer eng.Stop()

	conn, err := net.Dial("tcp", eng.ListenAddr())
	if err != nil {
		t.Fatalf("dial driver: %v", err)
	}
	defer conn.Close()

	hs := syncwire.NewHandshake("old peer",
		bytes.Repeat([]byte{1}, syncwire.SaltSize),
		bytes.Repeat([]byte{2}, syncwire.ChallengeSize))
	hs.ProtocolVersion = 1
	writeMsg(t, conn, hs)

	readMsg(t, conn, syncwire.TypeHandshake, nil)
	if !awaitErrorFrame(t, conn) {
		t.Fatalf("driver accepted a protocol version 1 peer")
	}
	waitPhase(t, eng, PhaseErrored)
}

func TestStopCancelsActiveSession(t *testing.T) {
	eng, _, _ := newTestEngine(t, "driver")
	if _, err := eng.StartDriver(0, "4242"); err != nil {
		t.Fatalf("StartDriver: %v", err)
	}

	conn, err := net.Dial("tcp", eng.ListenAddr())
	if err != nil {
		t.Fatalf("dial driver: %v", err)
	}
	defer conn.Close()

	writeMsg(t, conn, syncwire.NewHandshake("silent peer",
		bytes.Repeat([]byte{3}, syncwire.SaltSize),
		bytes.Repeat([]byte{4}, syncwire.ChallengeSize)))
	readMsg(t, conn, syncwire.TypeHandshake, nil)
	readMsg(t, conn, syncwire.TypeAuthRequest, nil)

	// the driver is now blocked waiting for our auth request
	eng.Stop()

	sawDisconnect := false
	for i := 0; i < 3; i++ {
		data, err := syncwire.ReadFrame(conn)
		if err != nil {
			break
		}
		if typ, _ := syncwire.ParseType(data); typ == syncwire.TypeDisconnect {
			sawDisconnect = true
			break
		}
	}
	if !sawDisconnect {
		t.Fatalf("cancelled driver never said goodbye")
	}
	waitPhase(t, eng, PhaseIdle)
}

func TestSessionKeyZeroedAfterRun(t *testing.T) {
	dEng, _, _ := newTestEngine(t, "driver")
	pEng, _, _ := newTestEngine(t, "passenger")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	connCh := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			connCh <- c
		}
	}()
	pConn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	dConn := <-connCh

	dSess := newSession(dEng, dConn, roleDriver, "4242", make(chan struct{}))
	pSess := newSession(pEng, pConn, rolePassenger, "4242", make(chan struct{}))

	errCh := make(chan error, 2)
	go func() { errCh <- dSess.run() }()
	go func() { errCh <- pSess.run() }()
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil {
			t.Fatalf("session: %v", err)
		}
	}

	for _, s := range []*session{dSess, pSess} {
		if len(s.key) == 0 {
			t.Fatalf("%s never derived a key", s.role)
		}
		for _, b := range s.key {
			if b != 0 {
				t.Fatalf("%s key not zeroed after teardown", s.role)
			}
		}
	}
}
