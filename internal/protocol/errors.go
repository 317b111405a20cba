package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"

	// Episode routing/state.
	ErrEpisodeFull  = "E_EPISODE_FULL"
	ErrAgentTaken   = "E_AGENT_TAKEN"
	ErrAgentUnknown = "E_AGENT_UNKNOWN"
	ErrDenied       = "E_DENIED"

	// Action layer.
	ErrBadRequest    = "E_BAD_REQUEST"
	ErrInvalidAction = "E_INVALID_ACTION"
	ErrStale         = "E_STALE"
	ErrInternal      = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrProtoVersion:    {},
	ErrEpisodeFull:     {},
	ErrAgentTaken:      {},
	ErrAgentUnknown:    {},
	ErrDenied:          {},
	ErrBadRequest:      {},
	ErrInvalidAction:   {},
	ErrStale:           {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
