package slices

// Map each element in sli with mapper.
func Map[T any, R any](sli []T, mapper func(v T) R) []R {
	ret := make([]R, len(sli))
	for nth, v := range sli {
		ret[nth] = mapper(v)
	}
	return ret
}

// KeysOf returns the keys of m, in no particular order.
func KeysOf[K comparable, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

// Contains reports whether sli holds v.
func Contains[T comparable](sli []T, v T) bool {
	for _, e := range sli {
		if e == v {
			return true
		}
	}
	return false
}
