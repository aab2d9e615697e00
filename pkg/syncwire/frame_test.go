package syncwire

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"net"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	sent := NewHandshake("laptop", make([]byte, SaltSize), make([]byte, ChallengeSize))

	errCh := make(chan error, 1)
	go func() {
		errCh <- WriteFrame(client, sent)
	}()

	data, err := ReadFrame(server)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	typ, err := ParseType(data)
	if err != nil {
		t.Fatalf("ParseType: %v", err)
	}
	if typ != TypeHandshake {
		t.Errorf("type = %q, want %q", typ, TypeHandshake)
	}

	var got Handshake
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ProtocolVersion != ProtocolVersion {
		t.Errorf("protocol version = %d, want %d", got.ProtocolVersion, ProtocolVersion)
	}
	if got.DeviceName != "laptop" {
		t.Errorf("device name = %q, want %q", got.DeviceName, "laptop")
	}
	if len(got.Salt) != SaltSize || len(got.Challenge) != ChallengeSize {
		t.Errorf("salt/challenge lengths = %d/%d", len(got.Salt), len(got.Challenge))
	}
}

func TestReadFrame_RejectsOversize(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		var header [4]byte
		binary.BigEndian.PutUint32(header[:], MaxFrameSize+1)
		client.Write(header[:])
	}()

	_, err := ReadFrame(server)
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("err = %v, want ErrFrameTooLarge", err)
	}
}

func TestReadFrame_TruncatedBody(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	go func() {
		var header [4]byte
		binary.BigEndian.PutUint32(header[:], 100)
		client.Write(header[:])
		client.Write([]byte(`{"type":`))
		client.Close()
	}()

	if _, err := ReadFrame(server); err == nil {
		t.Fatal("expected error for truncated body")
	}
}

func TestLayerOrder(t *testing.T) {
	if len(LayerOrder) != 5 {
		t.Fatalf("LayerOrder has %d layers, want 5", len(LayerOrder))
	}
	if LayerOrder[0] != LayerGlobals || LayerOrder[4] != LayerGroupSessions {
		t.Errorf("unexpected ordering: %v", LayerOrder)
	}
	if got := LayerCharacters.Index(); got != 2 {
		t.Errorf("characters index = %d, want 2", got)
	}
	if Layer("bogus").Valid() {
		t.Error("bogus layer reported valid")
	}
	for _, l := range LegacyLayerOrder {
		if !l.Valid() {
			t.Errorf("legacy layer %q not in LayerOrder", l)
		}
	}
}

func TestManifestHelpers(t *testing.T) {
	m := Manifest{
		LayerLorebooks: {"lb1": 100, "lb2": 200},
		LayerSessions:  {"s1": 50},
	}
	if got := m.Total(); got != 3 {
		t.Errorf("Total = %d, want 3", got)
	}
	if rows := m.Rows(LayerGlobals); rows == nil || len(rows) != 0 {
		t.Errorf("Rows for absent layer = %v, want empty map", rows)
	}
	if m.Rows(LayerLorebooks)["lb2"] != 200 {
		t.Errorf("lb2 timestamp lookup failed")
	}
}
