package reconnect

// State is the client connection lifecycle.
//
// DISCONNECTED → CONNECTING → CONNECTED
//                    ↑            ↓
//               RETRY_WAIT  ←   ERROR  →  POLLING_FALLBACK
//
// POLLING_FALLBACK is a stable degraded mode; there is no hard terminal
// state, Disconnect returns to DISCONNECTED from anywhere.
type State string

const (
	StateDisconnected    State = "DISCONNECTED"
	StateConnecting      State = "CONNECTING"
	StateConnected       State = "CONNECTED"
	StateError           State = "ERROR"
	StateRetryWait       State = "RETRY_WAIT"
	StatePollingFallback State = "POLLING_FALLBACK"
)

// timerKind names the single authoritative pending-timer slot. At most one
// timer exists at a time; arming either kind cancels the other.
type timerKind int

const (
	timerNone timerKind = iota
	timerRetry
	timerPoll
)
