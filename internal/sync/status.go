package sync

// Phase tracks where the engine is in a sync session's lifecycle.
type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseListening        Phase = "listening"
	PhaseConnecting       Phase = "connecting"
	PhaseApprovalRequired Phase = "approval_required"
	PhaseHandshake        Phase = "handshake"
	PhaseAuthPending      Phase = "auth_pending"
	PhaseAuthenticated    Phase = "authenticated"
	PhaseManifestExchange Phase = "manifest_exchanged"
	PhaseTransferring     Phase = "transferring"
	PhaseCompleted        Phase = "completed"
	PhaseErrored          Phase = "errored"
)

// Status is the engine's externally visible state, published on every
// change through Events.
type Status struct {
	Role     string `json:"role,omitempty"`
	PeerIP   string `json:"peer_ip,omitempty"`
	Phase    Phase  `json:"phase"`
	Progress string `json:"progress,omitempty"`
}
