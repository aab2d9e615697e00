package sync

import "errors"

var (
	// ErrProtocol marks a malformed frame, an unknown tag, an out-of-order
	// layer, or a payload that fails decryption. Terminates the session.
	ErrProtocol = errors.New("protocol violation")

	// ErrVersionMismatch means the peer speaks an incompatible protocol
	// version. Terminates the session during the handshake.
	ErrVersionMismatch = errors.New("protocol version mismatch")

	// ErrAuthFailed covers every authentication failure with one message,
	// so neither side learns which check rejected the pairing.
	ErrAuthFailed = errors.New("auth failed")

	// ErrPeerAborted means the peer disconnected or sent an error before
	// the session completed. Rows already applied are retained.
	ErrPeerAborted = errors.New("peer aborted")

	// ErrTimeout means the peer stayed silent past the per-frame deadline.
	ErrTimeout = errors.New("timeout")

	// ErrCancelled means the local caller stopped the session.
	ErrCancelled = errors.New("sync cancelled")

	// ErrDatabase marks a local store failure while building, collecting,
	// or applying a layer.
	ErrDatabase = errors.New("database error")

	// ErrSyncActive is returned when a session or listener is already up.
	ErrSyncActive = errors.New("sync session already active")

	// ErrNotListening is returned by driver-only calls before StartDriver.
	ErrNotListening = errors.New("sync listener not running")

	// ErrPINTooShort rejects PINs under four characters.
	ErrPINTooShort = errors.New("pin must be at least 4 characters")

	// ErrNoApproval means no connection is waiting for a decision.
	ErrNoApproval = errors.New("no connection awaiting approval")

	// ErrApprovalMismatch means the decision names a different peer than
	// the one waiting. The pending connection stays undecided.
	ErrApprovalMismatch = errors.New("approval does not match the pending peer")
)
