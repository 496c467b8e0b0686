package session

import "errors"

var (
	// ErrAlreadyRunning is returned when Run is called twice.
	ErrAlreadyRunning = errors.New("session already running")

	// ErrConnectionClosed marks a server-initiated close frame.
	ErrConnectionClosed = errors.New("connection closed by server")

	// ErrStreamStale marks a failure forced by the health monitor.
	ErrStreamStale = errors.New("stream stale, health check failed")
)
