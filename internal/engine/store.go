package engine

import "golang.org/x/exp/slices"

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Pair is a [male, female] population count. It encodes as a 2-element JSON array.
type Pair [2]float64

func (p Pair) Male() float64   { return p[0] }
func (p Pair) Female() float64 { return p[1] }

// YearBucket maps an age-group key to its population pair.
type YearBucket map[string]Pair

// Accumulator holds every year bucket of one country run.
// Keys are the year strings exactly as they appear in the input.
type Accumulator map[string]YearBucket

// Set records p for (year, age), replacing any earlier value.
func (a Accumulator) Set(year, age string, p Pair) {
	b, ok := a[year]
	if !ok {
		b = make(YearBucket)
		a[year] = b
	}
	b[age] = p
}

// Years returns the year keys in ascending order.
func (a Accumulator) Years() []string {
	return sortedKeys(a)
}

// AgeGroups counts distinct age keys across all years.
func (a Accumulator) AgeGroups() int {
	seen := make(map[string]struct{})
	for _, b := range a {
		for age := range b {
			seen[age] = struct{}{}
		}
	}
	return len(seen)
}

// Ages returns the bucket's age keys in ascending order.
func (b YearBucket) Ages() []string {
	return sortedKeys(b)
}

// Clone returns a deep copy so the caller can keep it after the run is discarded.
func (a Accumulator) Clone() Accumulator {
	out := make(Accumulator, len(a))
	for y, b := range a {
		nb := make(YearBucket, len(b))
		for age, p := range b {
			nb[age] = p
		}
		out[y] = nb
	}
	return out
}

// Country identifies the run an accumulator belongs to.
type Country struct {
	Code string
	Name string
}

// run is the Accumulating state: one active country and its buckets.
type run struct {
	country Country
	acc     Accumulator
}

func newRun(code, name string) *run {
	return &run{country: Country{Code: code, Name: name}, acc: make(Accumulator)}
}
