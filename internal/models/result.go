package models

import "sort"

// Failure is a failed entry of a best-effort batch
type Failure[T any] struct {
	Value T
	Err   error
}

// PartialResult collects the outcome of a best-effort batch where every entry
// succeeds or fails on its own. Unlike a transaction nothing is rolled back
// when some entries fail.
type PartialResult[T any] struct {
	OK     map[string]T
	Failed map[string]Failure[T]
}

// NewPartialResult returns an empty result
func NewPartialResult[T any]() PartialResult[T] {
	return PartialResult[T]{
		OK:     make(map[string]T),
		Failed: make(map[string]Failure[T]),
	}
}

// Succeed records a successful entry
func (r PartialResult[T]) Succeed(key string, v T) {
	r.OK[key] = v
}

// Fail records a failed entry
func (r PartialResult[T]) Fail(key string, v T, err error) {
	r.Failed[key] = Failure[T]{Value: v, Err: err}
}

// HasFailures reports whether any entry failed
func (r PartialResult[T]) HasFailures() bool {
	return len(r.Failed) > 0
}

// SucceededKeys returns the keys of successful entries, sorted
func (r PartialResult[T]) SucceededKeys() []string {
	keys := make([]string, 0, len(r.OK))
	for k := range r.OK {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FailedKeys returns the keys of failed entries, sorted
func (r PartialResult[T]) FailedKeys() []string {
	keys := make([]string, 0, len(r.Failed))
	for k := range r.Failed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
