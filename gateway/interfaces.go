package gateway

import "context"

// TokenReader exposes the current access token without write access to the session.
type TokenReader interface {
	AccessToken() string
}

// Refresher obtains a new access token after rejected was refused by the backend.
type Refresher interface {
	RefreshRejected(ctx context.Context, rejected string) (string, error)
}

// Navigator moves the kiosk UI to another screen.
type Navigator interface {
	CurrentPath() string
	Navigate(path string)
}
