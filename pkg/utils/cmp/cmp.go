// content-based equality helpers for slices and maps.
package cmp

type BiPredicator[V any, U any] func(a V, b U) bool

// a == b as BiPredicator function
func EqEq[T comparable](a, b T) bool {
	return a == b
}

// check 2 slices have the same content in the same order.
func SliceEq[T comparable](a, b []T) bool {
	return SliceEqWith(a, b, EqEq[T])
}

// check 2 slices have equivalent content in the same order.
func SliceEqWith[S, T any](a []S, b []T, equiv BiPredicator[S, T]) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !equiv(a[i], b[i]) {
			return false
		}
	}
	return true
}

// check 2 slices have the same content, ignoring order.
//
// In other words, this answers equality of two bags (multi-sets).
func SliceContentEq[T comparable](a, b []T) bool {
	return SliceContentEqWith(a, b, EqEq[T])
}

// check 2 slices have equivalent content, ignoring order.
//
// args:
//   - a []S, b []T: slices to be compared
//   - equiv: predicator saying two elements are equivalent or not.
func SliceContentEqWith[S, T any](a []S, b []T, equiv BiPredicator[S, T]) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) == 0 {
		return true
	}

	rest := make(map[int]*T, len(b))
	for i := range b {
		rest[i] = &b[i]
	}

NEXT_A:
	for _, va := range a {
		for k, vb := range rest {
			if equiv(va, *vb) {
				delete(rest, k)
				continue NEXT_A
			}
		}
		return false
	}

	return true
}

// check a == b
func MapEq[K comparable, V comparable](a, b map[K]V) bool {
	return MapEqWith(a, b, EqEq[V])
}

// check a == b, in context of comparator
func MapEqWith[K comparable, V any, U any](a map[K]V, b map[K]U, comparator BiPredicator[V, U]) bool {
	if len(a) != len(b) {
		return false
	}
	for ka, va := range a {
		vb, ok := b[ka]
		if !ok || !comparator(va, vb) {
			return false
		}
	}
	return true
}
