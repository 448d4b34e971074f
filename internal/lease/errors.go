package lease

import "errors"

// ErrIDCollision is returned by Grant when maxGrantAttempts consecutive
// random ids all collided with an existing lease. Astronomically unlikely
// in practice; surfaced rather than silently overwriting an existing
// lease, per spec §9's open question on collision handling.
var ErrIDCollision = errors.New("lease: could not allocate a free id")
