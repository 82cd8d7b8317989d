package ccx

import "errors"

// ErrPredicateRejected is returned by RemoveIf when the key is present but
// the predicate declined it.
var ErrPredicateRejected = errors.New("ccx: predicate rejected")

// ErrWouldBlock is returned by non-blocking variants when the operation
// could not proceed without waiting; callers retry.
var ErrWouldBlock = errors.New("ccx: operation would block")

// DuplicateKeyError is returned by Insert when the key is already present.
// It carries the un-inserted pair back to the caller.
type DuplicateKeyError[K comparable, V any] struct {
	Key   K
	Value V
}

func (e *DuplicateKeyError[K, V]) Error() string {
	return "ccx: duplicate key"
}

func (e *DuplicateKeyError[K, V]) isDuplicateKey() {}

// IsDuplicateKey reports whether err is a DuplicateKeyError regardless of
// its type parameters.
func IsDuplicateKey(err error) bool {
	var m interface{ isDuplicateKey() }
	return errors.As(err, &m)
}
