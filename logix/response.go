package logix

import "taglink/cip"

// StatusSuccess is the status string of a successful Response.
const StatusSuccess = "Success"

// Transport-stage status strings. A failure to connect or register a
// session maps to the connection-failure text; a send or receive
// failure on an established session maps to connection lost. They
// correspond to CIP codes 0x01 and 0x07.
const (
	StatusConnectionFailure = "Connection failure"
	StatusConnectionLost    = "Connection lost"
	StatusNoResponse        = "No response"
)

// Response is the result record of every public operation.
type Response struct {
	TagName string
	Value   Value
	Status  string
}

// OK reports whether the operation succeeded.
func (r *Response) OK() bool {
	return r != nil && r.Status == StatusSuccess
}

func okResponse(tag string, v Value) *Response {
	return &Response{TagName: tag, Value: v, Status: StatusSuccess}
}

func errResponse(tag, status string) *Response {
	return &Response{TagName: tag, Status: status}
}

func cipStatusResponse(tag string, status byte, addl []byte) *Response {
	return &Response{TagName: tag, Status: cip.StatusText(status, addl)}
}
