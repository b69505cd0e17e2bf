package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// OwnedBucket names the matching-perks bucket holding the user's own perks.
const OwnedBucket = "Your Perks"

// PerkBuckets groups perks by relevance category.
type PerkBuckets map[string][]Perk

// MatchingKind tags which shape the matching-perks response arrived in.
type MatchingKind int

const (
	// MatchingFlat is a plain list of perks.
	MatchingFlat MatchingKind = iota
	// MatchingBucketed is a category -> perks mapping.
	MatchingBucketed
)

func (k MatchingKind) String() string {
	switch k {
	case MatchingFlat:
		return "flat"
	case MatchingBucketed:
		return "bucketed"
	default:
		return fmt.Sprintf("MatchingKind(%d)", int(k))
	}
}

// Matching is the personalised perk listing, resolved to one of two shapes.
type Matching struct {
	Kind    MatchingKind
	Flat    []Perk
	Buckets PerkBuckets
}

// FlatMatching wraps a plain list.
func FlatMatching(perks []Perk) Matching {
	return Matching{Kind: MatchingFlat, Flat: perks}
}

// BucketedMatching wraps a category mapping.
func BucketedMatching(buckets PerkBuckets) Matching {
	return Matching{Kind: MatchingBucketed, Buckets: buckets}
}

// DecodeMatching inspects the payload once and returns the tagged variant.
func DecodeMatching(data []byte) (Matching, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Matching{}, fmt.Errorf("decode matching perks: empty body")
	}
	switch trimmed[0] {
	case '[':
		var perks []Perk
		if err := json.Unmarshal(trimmed, &perks); err != nil {
			return Matching{}, fmt.Errorf("decode matching perks: %w", err)
		}
		return FlatMatching(perks), nil
	case '{':
		var buckets PerkBuckets
		if err := json.Unmarshal(trimmed, &buckets); err != nil {
			return Matching{}, fmt.Errorf("decode matching perks: %w", err)
		}
		return BucketedMatching(buckets), nil
	default:
		return Matching{}, fmt.Errorf("decode matching perks: unexpected payload starting with %q", trimmed[0])
	}
}

// Owned returns the perks that count as owned by the user: the whole list for
// a flat response, only the OwnedBucket for a bucketed one.
func (m Matching) Owned() []Perk {
	if m.Kind == MatchingBucketed {
		return m.Buckets[OwnedBucket]
	}
	return m.Flat
}

// OwnedIDs returns the ids of Owned in order, without duplicates.
func (m Matching) OwnedIDs() []int64 {
	owned := m.Owned()
	ids := make([]int64, 0, len(owned))
	seen := make(map[int64]struct{}, len(owned))
	for _, p := range owned {
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		ids = append(ids, p.ID)
	}
	return ids
}

// BucketNames lists bucket names with OwnedBucket first and the rest sorted.
func (m Matching) BucketNames() []string {
	if m.Kind != MatchingBucketed {
		return nil
	}
	names := make([]string, 0, len(m.Buckets))
	for name := range m.Buckets {
		if name != OwnedBucket {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if _, ok := m.Buckets[OwnedBucket]; ok {
		names = append([]string{OwnedBucket}, names...)
	}
	return names
}

// All flattens the listing in display order, each perk id appearing once.
func (m Matching) All() []Perk {
	if m.Kind != MatchingBucketed {
		return m.Flat
	}
	var out []Perk
	seen := make(map[int64]struct{})
	for _, name := range m.BucketNames() {
		for _, p := range m.Buckets[name] {
			if _, dup := seen[p.ID]; dup {
				continue
			}
			seen[p.ID] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

// Len counts the distinct perks in the listing.
func (m Matching) Len() int {
	return len(m.All())
}

// Replace returns a copy with every snapshot of p.ID swapped for p.
func (m Matching) Replace(p Perk) Matching {
	switch m.Kind {
	case MatchingBucketed:
		buckets := make(PerkBuckets, len(m.Buckets))
		for name, perks := range m.Buckets {
			buckets[name] = ReplacePerk(perks, p)
		}
		return BucketedMatching(buckets)
	default:
		return FlatMatching(ReplacePerk(m.Flat, p))
	}
}

// ReplacePerk returns a copy of perks with entries whose id equals p.ID
// replaced by p. The input slice is left untouched.
func ReplacePerk(perks []Perk, p Perk) []Perk {
	if perks == nil {
		return nil
	}
	out := make([]Perk, len(perks))
	copy(out, perks)
	for i := range out {
		if out[i].ID == p.ID {
			out[i] = p
		}
	}
	return out
}
