package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrForbidden       = "E_FORBIDDEN"

	// Session control.
	ErrBadRequest = "E_BAD_REQUEST"
	ErrConfig     = "E_CONFIG"
	ErrNoSession  = "E_NO_SESSION"
	ErrBusy       = "E_BUSY"
	ErrInternal   = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrForbidden:       {},
	ErrBadRequest:      {},
	ErrConfig:          {},
	ErrNoSession:       {},
	ErrBusy:            {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
