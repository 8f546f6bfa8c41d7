package bridge

import "errors"

// Failure classes. Each is logged and counted where it happens and never
// reaches the event producer.
var (
	ErrConnection            = errors.New("connection failed")
	ErrResolution            = errors.New("group resolution failed")
	ErrSend                  = errors.New("send failed")
	ErrClassificationBackend = errors.New("classification backend failed")
	ErrClose                 = errors.New("close failed")
)
