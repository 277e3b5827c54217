package token

import (
	"encoding/json"
	"slices"
)

// Tags is a set of authorization tags kept sorted and free of duplicates.
// The zero value is an empty set. All operations return new sets.
type Tags []string

// NewTags builds a set from tags, dropping empty strings. Other values,
// whitespace included, are kept verbatim.
func NewTags(tags ...string) Tags {
	out := make(Tags, 0, len(tags))
	for _, t := range tags {
		if t == "" {
			continue
		}
		out = append(out, t)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Contains reports whether tag is in the set.
func (s Tags) Contains(tag string) bool {
	_, ok := slices.BinarySearch(s, tag)
	return ok
}

// Intersect returns the tags present in both s and other.
func (s Tags) Intersect(other Tags) Tags {
	out := make(Tags, 0, min(len(s), len(other)))
	for _, t := range s {
		if other.Contains(t) {
			out = append(out, t)
		}
	}
	return out
}

// Union returns the tags present in either s or other.
func (s Tags) Union(other Tags) Tags {
	return NewTags(append(slices.Clone(s), other...)...)
}

// Subtract returns the tags of s not present in other.
func (s Tags) Subtract(other Tags) Tags {
	out := make(Tags, 0, len(s))
	for _, t := range s {
		if !other.Contains(t) {
			out = append(out, t)
		}
	}
	return out
}

// SubsetOf reports whether every tag of s is in other.
func (s Tags) SubsetOf(other Tags) bool {
	for _, t := range s {
		if !other.Contains(t) {
			return false
		}
	}
	return true
}

// Normalize re-establishes the set invariant on a value decoded from an
// untrusted source.
func (s Tags) Normalize() Tags {
	return NewTags(s...)
}

// UnmarshalJSON normalizes decoded tags so set operations hold for values
// received over the wire.
func (s *Tags) UnmarshalJSON(data []byte) error {
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = NewTags(raw...)
	return nil
}
