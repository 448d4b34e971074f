package host

import "errors"

// ErrConflict is returned by Commit when another transaction committed a
// write to one of this transaction's written keys after this transaction's
// snapshot was taken.
var ErrConflict = errors.New("host: write-write conflict")

// ErrTxDone is returned by Commit on a transaction that has already been
// committed or rolled back.
var ErrTxDone = errors.New("host: transaction already completed")
