package issuer

import "slices"

// ExtendChain appends the hop from -> to to chain and returns the new
// chain; chain itself is not modified. An empty from or to is skipped.
//
// On an empty chain from is appended, then to unless it equals from. On a
// non-empty chain each of from and to is appended unless it equals the
// original final element, so a hop never repeats the application that
// ended the chain but an earlier application may reappear.
func ExtendChain(chain []string, from, to string) []string {
	out := slices.Clone(chain)
	if len(chain) == 0 {
		if from != "" {
			out = append(out, from)
		}
		if to != "" && to != from {
			out = append(out, to)
		}
		return out
	}
	last := chain[len(chain)-1]
	if from != "" && from != last {
		out = append(out, from)
	}
	if to != "" && to != last {
		out = append(out, to)
	}
	return out
}
