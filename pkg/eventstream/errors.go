package eventstream

import "errors"

// ErrNilEvent indicates a nil audit event payload was provided to a publisher.
var ErrNilEvent = errors.New("nil audit event")
