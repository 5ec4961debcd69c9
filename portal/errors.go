// Copyright 2026 The Sketchroom Authors
// SPDX-License-Identifier: Apache-2.0

package portal

import (
	"errors"
	"fmt"
)

// ErrNotOpen is returned by sends on a closed portal.
var ErrNotOpen = errors.New("portal: not open")

// TransportError reports a failure talking to the relay: dialing,
// the join handshake, or a write.
type TransportError struct {
	// Op is the failed step: "dial", "handshake", or "write".
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("portal: %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err is a *TransportError.
func IsTransportError(err error) bool {
	var transportErr *TransportError
	return errors.As(err, &transportErr)
}
