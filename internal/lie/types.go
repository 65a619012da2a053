// Package lie implements the per-link adjacency-formation state machine
// (spec §4.2): OneWay/TwoWay/ThreeWay/MultipleNeighborsWait, its external
// and chained event queues, and the PROCESS_LIE / CHECK_THREE_WAY /
// SEND_LIE / CLEANUP procedures. The two-queue draining discipline and the
// table-driven transition dispatch mirror the teacher's ack/outstanding
// bookkeeping style in ingest/entryWriter.go, adapted to a hard state
// machine rather than a soft retry counter.
package lie

import (
	"time"

	"github.com/rift/core/internal/packet"
	"github.com/rift/core/internal/rift"
)

type State int

const (
	OneWay State = iota
	TwoWay
	ThreeWay
	MultipleNeighborsWait
)

func (s State) String() string {
	switch s {
	case OneWay:
		return "OneWay"
	case TwoWay:
		return "TwoWay"
	case ThreeWay:
		return "ThreeWay"
	case MultipleNeighborsWait:
		return "MultipleNeighborsWait"
	}
	return "Unknown"
}

type EventKind int

const (
	EvTimerTick EventKind = iota
	EvLevelChanged
	EvHALChanged
	EvHATChanged
	EvHALSChanged
	EvLieRcvd
	EvNewNeighbor
	EvValidReflection
	EvNeighborDroppedReflection
	EvNeighborChangedLevel
	EvNeighborChangedAddress
	EvUnacceptableHeader
	EvMTUMismatch
	EvNeighborChangedMinorFields
	EvHoldtimeExpired
	EvMultipleNeighbors
	EvMultipleNeighborsDone
	EvFloodLeadersChanged
	EvSendLie
	EvUpdateZTPOffer
)

func (k EventKind) String() string {
	names := [...]string{
		"TimerTick", "LevelChanged", "HALChanged", "HATChanged", "HALSChanged",
		"LieRcvd", "NewNeighbor", "ValidReflection", "NeighborDroppedReflection",
		"NeighborChangedLevel", "NeighborChangedAddress", "UnacceptableHeader",
		"MTUMismatch", "NeighborChangedMinorFields", "HoldtimeExpired",
		"MultipleNeighbors", "MultipleNeighborsDone", "FloodLeadersChanged",
		"SendLie", "UpdateZTPOffer",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return "Unknown"
}

// ReceivedLie is the payload of a LieRcvd event: a decoded packet plus the
// address it arrived from.
type ReceivedLie struct {
	Address string
	Header  packet.PacketHeader
	Body    packet.LiePacket
}

type Event struct {
	Kind  EventKind
	Level rift.Level
	Lie   ReceivedLie
}

func TimerTick() Event                { return Event{Kind: EvTimerTick} }
func LevelChanged(l rift.Level) Event { return Event{Kind: EvLevelChanged, Level: l} }
func HALChanged(l rift.Level) Event   { return Event{Kind: EvHALChanged, Level: l} }
func HATChanged(l rift.Level) Event   { return Event{Kind: EvHATChanged, Level: l} }
func HALSChanged() Event              { return Event{Kind: EvHALSChanged} }
func LieRcvd(r ReceivedLie) Event     { return Event{Kind: EvLieRcvd, Lie: r} }
func FloodLeadersChanged() Event      { return Event{Kind: EvFloodLeadersChanged} }

// Neighbor is the FSM's notion of its peer (spec §3): set by PROCESS_LIE,
// cleared by CLEANUP.
type Neighbor struct {
	SystemID    rift.SystemID
	Level       rift.Level
	Address     string
	FloodPort   uint16
	Name        *string
	LocalLinkID uint32
}

func (n *Neighbor) sameIdentity(o Neighbor) bool { return n.SystemID == o.SystemID }

// LastValidLie is the most recently accepted LIE, kept around as the offer
// snapshot sent to ZTP even across CLEANUP (spec §4.2's note on SEND_LIE/
// CLEANUP: "implementations SHOULD NOT also clear last_valid_lie").
type LastValidLie struct {
	Header     packet.PacketHeader
	Body       packet.LiePacket
	Address    string
	ReceivedAt time.Time
	Holdtime   time.Duration
}
