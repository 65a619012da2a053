// Package flooding implements the per-adjacency TIE finite-state machine
// and the node-wide link-state database (spec §4.4): TIDE generation and
// processing, TIRE generation and processing, TIE ingest, and the four
// per-adjacency queues (TX/ACK/REQ/RTX). The queue bookkeeping is grounded
// on the teacher's ack/outstanding-entry tracking idiom in
// ingest/entryWriter.go, generalized from "entries awaiting ack" to
// "TIEIDs awaiting transmit/ack/request/retransmit".
package flooding

import (
	"sort"

	"github.com/rift/core/internal/packet"
	"github.com/rift/core/internal/rift"
)

// TIEEntry is one LSDB row: a header plus its opaque content, kept
// together so "has content" checks (used throughout TIDE/TIE processing)
// don't need a second lookup.
type TIEEntry struct {
	Header  rift.TIEHeader
	Content []byte
}

func (e TIEEntry) HasContent() bool { return len(e.Content) > 0 }

// LSDB is the node-wide link-state database: a map from TIEID to TIEEntry
// whose iteration order is not defined (SortedHeaders returns headers in
// TIEID order). It is mutated inside TIE FSM steps and by the node driver's
// OriginateTIE (spec §3/§5).
type LSDB struct {
	entries map[rift.TIEID]TIEEntry

	// lifetimeDiff2Ignore is the tolerance used by the flooding equality
	// adapter on TIEHeader (spec §3, §8; grounded on
	// original_source/src/wrapper.rs's lifetime_diff2ignore).
	lifetimeDiff2Ignore uint32

	selfOriginator rift.SystemID
}

func NewLSDB(self rift.SystemID) *LSDB {
	return &LSDB{
		entries:             make(map[rift.TIEID]TIEEntry),
		lifetimeDiff2Ignore: rift.LifetimeDiff2Ignore,
		selfOriginator:      self,
	}
}

func (l *LSDB) Get(id rift.TIEID) (TIEEntry, bool) {
	e, ok := l.entries[id]
	return e, ok
}

func (l *LSDB) Put(e TIEEntry) { l.entries[e.Header.TIEID] = e }

func (l *LSDB) Delete(id rift.TIEID) { delete(l.entries, id) }

// SortedHeaders returns every LSDB header, TIEID-ascending, that satisfies
// filter (spec §4.4 step 1's is_tide_entry_filtered plus "positive
// remaining lifetime OR empty content").
func (l *LSDB) SortedHeaders(remainingLifetime func(rift.TIEID) uint32, filter FloodScope) []packet.HeaderWithLifetime {
	out := make([]packet.HeaderWithLifetime, 0, len(l.entries))
	for id, e := range l.entries {
		rl := remainingLifetime(id)
		if rl == 0 && e.HasContent() {
			continue
		}
		if filter != nil && filter.TIDEEntryFiltered(e) {
			continue
		}
		out = append(out, packet.HeaderWithLifetime{Header: e.Header, RemainingLifetime: rl})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Header.TIEID.Less(out[j].Header.TIEID) })
	return out
}

// InRange reports whether id falls within [start, end] inclusive.
func InRange(id, start, end rift.TIEID) bool {
	return start.Compare(id) <= 0 && id.Compare(end) <= 0
}

// FloodScope groups the three filter predicates spec §9/§4.4 names but
// leaves out of core scope: is_tide_entry_filtered, is_request_filtered,
// is_flood_filtered. DefaultFloodScope floods everything, per the Open
// Question's recorded default (DESIGN.md).
type FloodScope interface {
	TIDEEntryFiltered(e TIEEntry) bool
	RequestFiltered(id rift.TIEID) bool
	FloodFiltered(id rift.TIEID) bool
}

type defaultFloodScope struct{}

func (defaultFloodScope) TIDEEntryFiltered(TIEEntry) bool { return false }
func (defaultFloodScope) RequestFiltered(rift.TIEID) bool { return false }
func (defaultFloodScope) FloodFiltered(rift.TIEID) bool   { return false }

var DefaultFloodScope FloodScope = defaultFloodScope{}
