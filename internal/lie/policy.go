package lie

import "github.com/rift/core/internal/rift"

// LevelAcceptancePolicy decides whether a remote LIE's level is acceptable
// given this node's own level and its ZTP-derived HAT, implementing the
// level-acceptance sub-rules of spec §4.2.2 step 4. It is exposed as a
// policy switch per the Open Question in spec §9 (DESIGN.md records the
// chosen default: undefined HAT accepts, per §4.2.2 rather than draft
// rule 3).
type LevelAcceptancePolicy func(own, remote, hat rift.Level, eastWestEnabled bool) bool

// DefaultLevelAcceptancePolicy implements the five sub-rules verbatim.
func DefaultLevelAcceptancePolicy(own, remote, hat rift.Level, eastWestEnabled bool) bool {
	if !own.Defined() || !remote.Defined() {
		return false
	}
	if own.IsLeaf() && (!hat.Defined() || remote.Equal(hat)) {
		return true
	}
	if !own.IsLeaf() && remote.IsLeaf() {
		return true
	}
	if own.IsLeaf() && remote.IsLeaf() && eastWestEnabled {
		return true
	}
	if !own.IsLeaf() && !remote.IsLeaf() {
		diff := int(own.Value()) - int(remote.Value())
		if diff < 0 {
			diff = -diff
		}
		return diff <= 1
	}
	return false
}

// FloodLeaderPolicy decides whether this link's peer should be told
// you_are_flood_repeater on FloodLeadersChanged. The core leaves flood-leader
// election itself out of scope (spec §9's filter-predicate open question);
// this is the supplemented hook SPEC_FULL.md §C wires to a configurable
// policy rather than a hardcoded predicate.
type FloodLeaderPolicy func(neighbor *Neighbor, ownLevel rift.Level) bool

// DefaultFloodLeaderPolicy elects every northbound neighbor (one whose
// level is higher, i.e. this node is southbound of it) as a flood repeater,
// the simplest policy that keeps flooding connected without redundant
// reflection.
func DefaultFloodLeaderPolicy(n *Neighbor, ownLevel rift.Level) bool {
	if n == nil || !n.Level.Defined() || !ownLevel.Defined() {
		return false
	}
	return n.Level.Value() > ownLevel.Value()
}
