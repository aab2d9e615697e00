// Package syncwire defines the wire format for the Lettuce device-sync
// protocol. Messages are length-prefixed, tagged JSON records exchanged over a
// single TCP connection. This package is importable by UI shells and other
// clients that speak the protocol.
package syncwire

import "encoding/json"

// ProtocolVersion is negotiated during the handshake. Peers with a different
// version disconnect with a compatibility error.
const ProtocolVersion uint32 = 2

// Message type tags.
const (
	TypeHandshake     = "handshake"
	TypeAuthRequest   = "auth_request"
	TypeAuthResponse  = "auth_response"
	TypeSyncRequest   = "sync_request"    // legacy, 3 layers
	TypeSyncRequestV2 = "sync_request_v2" // 5 layers, includes group sessions
	TypeDataResponse  = "data_response"
	TypeFileTransfer  = "file_transfer"
	TypeSyncComplete  = "sync_complete"
	TypeStatusUpdate  = "status_update"
	TypeDisconnect    = "disconnect"
	TypeError         = "error"
)

// Sizes of the fixed-length handshake fields.
const (
	SaltSize      = 16
	ChallengeSize = 16
)

// Handshake opens a session. It is the only message sent in the clear; the
// salt feeds key derivation and the challenge must be echoed encrypted by the
// peer to prove knowledge of the PIN.
type Handshake struct {
	Type            string `json:"type"`
	ProtocolVersion uint32 `json:"protocol_version"`
	DeviceName      string `json:"device_name"`
	Salt            []byte `json:"salt"`
	Challenge       []byte `json:"challenge"`
}

// AuthRequest proves knowledge of the PIN by returning the peer's handshake
// challenge sealed under the session key, and issues a fresh challenge of its
// own for the peer's AuthResponse.
type AuthRequest struct {
	Type               string `json:"type"`
	EncryptedChallenge []byte `json:"encrypted_challenge"`
	MyChallenge        []byte `json:"my_challenge"`
}

// AuthResponse completes mutual authentication by returning the AuthRequest's
// fresh challenge sealed under the session key.
type AuthResponse struct {
	Type               string `json:"type"`
	EncryptedChallenge []byte `json:"encrypted_challenge"`
}

// SyncRequest carries a sealed serialized manifest. The legacy form covers the
// three content layers; V2 covers all five.
type SyncRequest struct {
	Type     string `json:"type"`
	Manifest []byte `json:"manifest"`
}

// DataResponse carries one layer's worth of rows: a sealed JSON document with
// one array per table.
type DataResponse struct {
	Type    string `json:"type"`
	Layer   Layer  `json:"layer"`
	Payload []byte `json:"payload"`
}

// FileTransfer carries one media file referenced by a previously synced row.
// Path is relative to the app media directory; content is sealed.
type FileTransfer struct {
	Type    string `json:"type"`
	Path    string `json:"path"`
	Content []byte `json:"content"`
}

// SyncComplete signals that the sender has no more layers or files to push.
type SyncComplete struct {
	Type string `json:"type"`
}

// StatusUpdate carries human-readable progress text for the peer's UI.
type StatusUpdate struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Disconnect requests a graceful teardown.
type Disconnect struct {
	Type string `json:"type"`
}

// ErrorMessage reports a fatal protocol-level failure before disconnecting.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewHandshake builds a handshake for this device.
func NewHandshake(deviceName string, salt, challenge []byte) *Handshake {
	return &Handshake{
		Type:            TypeHandshake,
		ProtocolVersion: ProtocolVersion,
		DeviceName:      deviceName,
		Salt:            salt,
		Challenge:       challenge,
	}
}

// NewAuthRequest builds the first half of the mutual challenge exchange.
func NewAuthRequest(encrypted, fresh []byte) *AuthRequest {
	return &AuthRequest{Type: TypeAuthRequest, EncryptedChallenge: encrypted, MyChallenge: fresh}
}

// NewAuthResponse builds the confirmation half of the challenge exchange.
func NewAuthResponse(encrypted []byte) *AuthResponse {
	return &AuthResponse{Type: TypeAuthResponse, EncryptedChallenge: encrypted}
}

// NewSyncRequestV2 wraps a sealed five-layer manifest.
func NewSyncRequestV2(sealedManifest []byte) *SyncRequest {
	return &SyncRequest{Type: TypeSyncRequestV2, Manifest: sealedManifest}
}

// NewSyncRequest wraps a sealed legacy three-layer manifest.
func NewSyncRequest(sealedManifest []byte) *SyncRequest {
	return &SyncRequest{Type: TypeSyncRequest, Manifest: sealedManifest}
}

// NewDataResponse wraps one sealed layer payload.
func NewDataResponse(layer Layer, sealed []byte) *DataResponse {
	return &DataResponse{Type: TypeDataResponse, Layer: layer, Payload: sealed}
}

// NewFileTransfer wraps one sealed media file.
func NewFileTransfer(path string, sealed []byte) *FileTransfer {
	return &FileTransfer{Type: TypeFileTransfer, Path: path, Content: sealed}
}

// NewStatusUpdate builds a progress message.
func NewStatusUpdate(msg string) *StatusUpdate {
	return &StatusUpdate{Type: TypeStatusUpdate, Message: msg}
}

// NewError builds an error message.
func NewError(msg string) *ErrorMessage {
	return &ErrorMessage{Type: TypeError, Message: msg}
}

// NewSyncComplete builds a completion marker.
func NewSyncComplete() *SyncComplete { return &SyncComplete{Type: TypeSyncComplete} }

// NewDisconnect builds a teardown marker.
func NewDisconnect() *Disconnect { return &Disconnect{Type: TypeDisconnect} }

// ParseType extracts the message tag from raw frame bytes.
func ParseType(data []byte) (string, error) {
	var raw struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", err
	}
	return raw.Type, nil
}
