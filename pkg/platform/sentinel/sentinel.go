// Package sentinel holds infrastructure errors that storage backends return
// (optionally wrapped) so callers can branch on them with errors.Is.
package sentinel

import "errors"

// ErrNotFound means the key has never been written, was deleted or expired.
var ErrNotFound = errors.New("not found")
