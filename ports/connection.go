package ports

import "context"

// Connection is a JSON-RPC endpoint. Connections handed to Bridge.Attach are
// closed by the bridge when they implement Close().
type Connection interface {
	// Call performs method with args and decodes the result into result
	Call(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

// Dialer opens a direct connection to an RPC URL
type Dialer func(ctx context.Context, rawURL string) (Connection, error)
