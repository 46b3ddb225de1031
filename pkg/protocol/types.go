package protocol

import "strconv"

// RequestType is the on-wire code of a message sent toward the handler side.
type RequestType uint32

const (
    RequestPing    RequestType = 0
    RequestPong    RequestType = 1
    RequestOpen    RequestType = 2
    RequestAmend   RequestType = 3
    RequestClose   RequestType = 4
    RequestAbort   RequestType = 5
    RequestTimeout RequestType = 6
    RequestReset   RequestType = 7
)

func (t RequestType) String() string {
    switch t {
    case RequestPing:
        return "ping"
    case RequestPong:
        return "pong"
    case RequestOpen:
        return "open"
    case RequestAmend:
        return "amend"
    case RequestClose:
        return "close"
    case RequestAbort:
        return "abort"
    case RequestTimeout:
        return "timeout"
    case RequestReset:
        return "reset"
    default:
        return "request(" + strconv.FormatUint(uint64(t), 10) + ")"
    }
}

// Valid reports whether t is one of the known request codes.
func (t RequestType) Valid() bool { return t <= RequestReset }

// Terminal reports whether t ends an intent's lifecycle.
func (t RequestType) Terminal() bool {
    switch t {
    case RequestClose, RequestAbort, RequestTimeout, RequestReset:
        return true
    default:
        return false
    }
}

// ResponseType is the on-wire code of a message sent toward the client side.
// Its numbering is independent from RequestType.
type ResponseType uint32

const (
    ResponseSuccess ResponseType = 0
    ResponseError   ResponseType = 1
    ResponsePing    ResponseType = 2
    ResponsePong    ResponseType = 3
)

func (t ResponseType) String() string {
    switch t {
    case ResponseSuccess:
        return "success"
    case ResponseError:
        return "error"
    case ResponsePing:
        return "ping"
    case ResponsePong:
        return "pong"
    default:
        return "response(" + strconv.FormatUint(uint64(t), 10) + ")"
    }
}

// Valid reports whether t is one of the known response codes.
func (t ResponseType) Valid() bool { return t <= ResponsePong }
