package types

// FailureKind classifies a playback failure reported by the client.
type FailureKind string

const (
	// FailureNotFound means the delivery URL answered 404, usually because
	// a fresh upload has not propagated yet.
	FailureNotFound FailureKind = "not-found"
	// FailureDecode means the client could not decode the delivered format.
	FailureDecode FailureKind = "decode"
)

// ParseFailureKind maps a client supplied string to a FailureKind.
func ParseFailureKind(s string) (FailureKind, bool) {
	switch FailureKind(s) {
	case FailureNotFound, FailureDecode:
		return FailureKind(s), true
	}
	return "", false
}

// Action is the outcome of reconciling a transformation change against the
// player.
type Action string

const (
	ActionNone    Action = "none"
	ActionRestyle Action = "restyle"
	ActionReload  Action = "reload"
)
