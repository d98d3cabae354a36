package realtime

import "errors"

var (
	// ErrUnauthenticated means no local credential is available.
	ErrUnauthenticated = errors.New("unauthenticated: no local credential")
	// ErrTransportUnavailable means the transport could not be created or
	// never completed its handshake.
	ErrTransportUnavailable = errors.New("realtime transport unavailable")
	// ErrIdentityMismatch is returned by Init while a session for another
	// identity is live. Call Teardown first.
	ErrIdentityMismatch = errors.New("realtime session bound to a different identity")
	// ErrNoSession is returned by Open when the session it waited on was
	// torn down.
	ErrNoSession = errors.New("no realtime session")
)
