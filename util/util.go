package util

// Contains reports whether value is in data
func Contains[T comparable](data []T, value T) bool {
	for _, e := range data {
		if e == value {
			return true
		}
	}
	return false
}

// Partition splits data in the elements matching f and the others, keeping their order
func Partition[T interface{}](data []T, f func(T) bool) ([]T, []T) {
	matching := []T{}
	others := []T{}
	for _, e := range data {
		if f(e) {
			matching = append(matching, e)
		} else {
			others = append(others, e)
		}
	}
	return matching, others
}

// Intersect returns the elements of data that are also in other, keeping the order of data
func Intersect[T comparable](data []T, other []T) []T {
	set := make(map[T]struct{}, len(other))
	for _, e := range other {
		set[e] = struct{}{}
	}
	result := []T{}
	for _, e := range data {
		if _, ok := set[e]; ok {
			result = append(result, e)
		}
	}
	return result
}

// Distinct removes duplicates, the first occurrence wins
func Distinct[T comparable](data []T) []T {
	seen := make(map[T]struct{}, len(data))
	result := []T{}
	for _, e := range data {
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		result = append(result, e)
	}
	return result
}

// Remove returns data without the elements in other
func Remove[T comparable](data []T, other []T) []T {
	set := make(map[T]struct{}, len(other))
	for _, e := range other {
		set[e] = struct{}{}
	}
	result := []T{}
	for _, e := range data {
		if _, ok := set[e]; !ok {
			result = append(result, e)
		}
	}
	return result
}

func First[T interface{}](data []T, f func(T) bool) *T {
	for _, e := range data {
		if f(e) {
			return &e
		}
	}
	return nil
}
