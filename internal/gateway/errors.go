package gateway

import "fmt"

// ProxyError is a routing or upstream failure that maps directly onto an
// HTTP response. Module names the route segment the request targeted.
type ProxyError struct {
	StatusCode int
	Module     string
	Msg        string
}

func (e *ProxyError) Error() string { return e.Msg }

func errUnknownModule(module string) *ProxyError {
	return &ProxyError{StatusCode: 404, Module: module, Msg: fmt.Sprintf("Unknown module: %s", module)}
}

func errBadGateway(module string) *ProxyError {
	return &ProxyError{StatusCode: 502, Module: module, Msg: fmt.Sprintf("Cannot connect to %s server", module)}
}

func errGatewayTimeout(module string) *ProxyError {
	return &ProxyError{StatusCode: 504, Module: module, Msg: fmt.Sprintf("Timeout connecting to %s server", module)}
}
