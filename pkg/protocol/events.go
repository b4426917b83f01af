package protocol

// Stream event names pushed from server to client, shared by the SSE and
// WebSocket surfaces.
const (
	EventDelta = "delta"
	EventDone  = "done"
	EventError = "error"
)

// Internal bus event names.
const (
	EventTurnFinalized = "turn.finalized"
)
