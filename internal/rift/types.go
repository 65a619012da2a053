// Package rift holds the value types shared across the LIE, ZTP and
// flooding finite-state machines: SystemID, Level, PacketNumber, Nonce,
// KeyID, TIEID and TIEHeader. All of them compare by value, the way the
// teacher's entry.EntryTag/EntryKey are plain comparable integer types
// (ingest/entry/entry.go).
package rift

import "fmt"

// SystemID identifies one node. The zero value and IllegalSystemID are both
// reserved and never denote a real node.
type SystemID uint64

// IllegalSystemID is the reserved "not a real node" SystemID value.
const IllegalSystemID SystemID = 0

// Valid reports whether id could name a real node.
func (id SystemID) Valid() bool {
	return id != IllegalSystemID
}

// Level is a RIFT hierarchy level: either Undefined or a value in [0, 24].
type Level struct {
	defined bool
	value   uint8
}

const (
	// LeafLevel is the distinguished level assigned to leaf nodes.
	LeafLevel uint8 = 0
	// TopOfFabricLevel is the distinguished level assigned to the spine.
	TopOfFabricLevel uint8 = 24
	// MaxLevel is the largest representable level value.
	MaxLevel uint8 = 24
)

// UndefinedLevel is the zero Level; it compares unequal to any defined Level.
var UndefinedLevel = Level{}

// NewLevel builds a defined Level, clamping to the legal range.
func NewLevel(v uint8) Level {
	if v > MaxLevel {
		v = MaxLevel
	}
	return Level{defined: true, value: v}
}

func (l Level) Defined() bool   { return l.defined }
func (l Level) Value() uint8    { return l.value }
func (l Level) IsLeaf() bool    { return l.defined && l.value == LeafLevel }
func (l Level) Equal(o Level) bool {
	if !l.defined || !o.defined {
		return false
	}
	return l.value == o.value
}

// Compare returns -1, 0, 1. Two Undefined levels are NOT equal per spec
// (Undefined compares unequal to any Value, including another Undefined),
// so Compare is only meaningful when both are Defined; callers must check
// Defined() first.
func (l Level) Compare(o Level) int {
	switch {
	case l.value < o.value:
		return -1
	case l.value > o.value:
		return 1
	default:
		return 0
	}
}

func (l Level) String() string {
	if !l.defined {
		return "undefined"
	}
	return fmt.Sprintf("%d", l.value)
}

// Sub1Saturating returns max(l-1, 0), used to derive a node's level from HAL.
func (l Level) Sub1Saturating() Level {
	if !l.defined {
		return UndefinedLevel
	}
	if l.value == 0 {
		return NewLevel(0)
	}
	return NewLevel(l.value - 1)
}

// PacketNumber is a per-link, per-packet-type monotonic sequence number with
// a reserved "undefined" value, per spec §3 and RIFT draft Appendix A
// sequence-number arithmetic.
type PacketNumber struct {
	defined bool
	value   uint16
}

// UndefinedPacketNumberWire is the reserved sentinel packet number value on the wire.
const UndefinedPacketNumberWire uint16 = 0

var UndefinedPacketNumber = PacketNumber{}

func NewPacketNumber(v uint16) PacketNumber {
	if v == UndefinedPacketNumberWire {
		return UndefinedPacketNumber
	}
	return PacketNumber{defined: true, value: v}
}

func (p PacketNumber) Defined() bool  { return p.defined }
func (p PacketNumber) Value() uint16  { return p.value }

// Wire returns the on-the-wire u16 representation.
func (p PacketNumber) Wire() uint16 {
	if !p.defined {
		return UndefinedPacketNumberWire
	}
	return p.value
}

// Next returns the packet number incremented by one, skipping the reserved
// undefined value as required by spec §4.1 and §8.
func (p PacketNumber) Next() PacketNumber {
	v := p.value + 1
	if v == UndefinedPacketNumberWire {
		v++
	}
	return PacketNumber{defined: true, value: v}
}

// Nonce is a per-link weak nonce with a reserved "invalid" value.
type Nonce struct {
	valid bool
	value uint16
}

const InvalidNonceWire uint16 = 0

var InvalidNonce = Nonce{}

func NewNonce(v uint16) Nonce {
	if v == InvalidNonceWire {
		return InvalidNonce
	}
	return Nonce{valid: true, value: v}
}

func (n Nonce) Valid() bool  { return n.valid }
func (n Nonce) Value() uint16 { return n.value }

func (n Nonce) Wire() uint16 {
	if !n.valid {
		return InvalidNonceWire
	}
	return n.value
}

// Next increments the nonce, skipping the reserved invalid value, per spec §4.1.
func (n Nonce) Next() Nonce {
	v := n.value + 1
	if v == InvalidNonceWire {
		v++
	}
	return Nonce{valid: true, value: v}
}

// KeyID is a 24-bit key identifier with a reserved "invalid" value (no key
// configured / no fingerprint expected).
type KeyID struct {
	valid bool
	value uint32 // only the low 24 bits are meaningful
}

const InvalidKeyIDWire uint32 = 0
const KeyIDMask uint32 = 0xFFFFFF

var InvalidKeyID = KeyID{}

func NewKeyID(v uint32) KeyID {
	v &= KeyIDMask
	if v == InvalidKeyIDWire {
		return InvalidKeyID
	}
	return KeyID{valid: true, value: v}
}

func (k KeyID) Valid() bool   { return k.valid }
func (k KeyID) Value() uint32 { return k.value }

func (k KeyID) Wire() uint32 {
	if !k.valid {
		return InvalidKeyIDWire
	}
	return k.value
}

// TIEDirection distinguishes south- and north-flooded TIEs.
type TIEDirection uint8

const (
	DirectionSouth TIEDirection = 0
	DirectionNorth TIEDirection = 1
)

func (d TIEDirection) String() string {
	if d == DirectionNorth {
		return "north"
	}
	return "south"
}

// TIEID identifies one TIE: (direction, originator, subtype, tie_nr).
// Total order is lexicographic unsigned comparison in that field order
// (spec §3).
type TIEID struct {
	Direction   TIEDirection
	Originator  SystemID
	Subtype     uint32
	TIENr       uint32
}

// MinTIEID and MaxTIEID bound the legal TIEID range, used as TIDE start/end
// range sentinels (spec §4.4, original_source/src/wrapper.rs MIN_TIE_ID/MAX_TIE_ID).
var (
	MinTIEID = TIEID{Direction: DirectionSouth, Originator: 0, Subtype: 0, TIENr: 0}
	MaxTIEID = TIEID{Direction: DirectionNorth, Originator: ^SystemID(0), Subtype: ^uint32(0), TIENr: ^uint32(0)}
)

// Compare returns -1, 0, or 1 using lexicographic order over
// (Direction, Originator, Subtype, TIENr).
func (a TIEID) Compare(b TIEID) int {
	if a.Direction != b.Direction {
		if a.Direction < b.Direction {
			return -1
		}
		return 1
	}
	if a.Originator != b.Originator {
		if a.Originator < b.Originator {
			return -1
		}
		return 1
	}
	if a.Subtype != b.Subtype {
		if a.Subtype < b.Subtype {
			return -1
		}
		return 1
	}
	switch {
	case a.TIENr < b.TIENr:
		return -1
	case a.TIENr > b.TIENr:
		return 1
	default:
		return 0
	}
}

func (a TIEID) Less(b TIEID) bool { return a.Compare(b) < 0 }
func (a TIEID) Equal(b TIEID) bool { return a.Compare(b) == 0 }

func (id TIEID) String() string {
	return fmt.Sprintf("%s/%d/%d/%d", id.Direction, id.Originator, id.Subtype, id.TIENr)
}

// Offer is a ZTP offer table entry (spec §3): one LIE FSM's observation of a
// neighbor's level, keyed by SystemID in the node's ZTP FSM. ThreeWay
// records whether the offering LIE FSM is currently in ThreeWay (used to
// compute HAT); Expired is set by HoldtimeExpired rather than removing the
// entry outright, so remove_expired_offers can sweep it later.
type Offer struct {
	SystemID SystemID
	Level    Level
	ThreeWay bool
	Expired  bool
}
