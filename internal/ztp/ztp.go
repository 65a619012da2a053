// Package ztp implements the node-wide zero-touch level-derivation state
// machine (spec §4.3): offer collection from every LIE FSM on the node,
// HAL/HAT computation, and the level events published back to them. The
// event-queue shape follows the same external/chained split as
// internal/lie (PUSH is just append-to-chained), grounded on the teacher's
// ack/outstanding-queue bookkeeping in ingest/entryWriter.go.
package ztp

import (
	"github.com/rift/core/internal/riftlog"
	"github.com/rift/core/internal/rift"
)

type State int

const (
	ComputeBestOffer State = iota
	HoldingDown
	UpdatingClients
)

func (s State) String() string {
	switch s {
	case ComputeBestOffer:
		return "ComputeBestOffer"
	case HoldingDown:
		return "HoldingDown"
	case UpdatingClients:
		return "UpdatingClients"
	}
	return "Unknown"
}

type EventKind int

const (
	EvChangeLocalConfiguredLevel EventKind = iota
	EvChangeLocalHierarchyIndications
	EvNeighborOffer
	EvBetterHAL
	EvBetterHAT
	EvLostHAL
	EvLostHAT
	EvComputationDone
	EvHoldDownExpired
	EvShortTic
)

type Event struct {
	Kind                EventKind
	ConfiguredLevel     rift.Level
	HierarchyIndication string
	Offer               rift.Offer
}

// LIEFeedbackKind tags the events ZTP broadcasts to every LIE FSM at the end
// of its step (spec §4.3's "cross-FSM contract").
type LIEFeedbackKind int

const (
	FeedbackHALChanged LIEFeedbackKind = iota
	FeedbackHATChanged
	FeedbackHALSChanged
	FeedbackLevelChanged
)

type LIEFeedback struct {
	Kind  LIEFeedbackKind
	Level rift.Level
}

// FSM is the per-node ZTP state machine.
type FSM struct {
	state State

	external []Event
	chained  []Event

	configuredLevel     rift.Level
	hierarchyIndication string

	offers map[rift.SystemID]rift.Offer

	hal     rift.Level
	hat     rift.Level
	pendingHAL rift.Level
	pendingHAT rift.Level
	halNeedsResend   bool
	hatNeedsResend   bool
	halsNeedsResend  bool
	levelNeedsResend bool

	// lastPublishedLevel is the derived level last sent to the LIE FSMs as
	// LevelChanged. It starts Undefined so the very first levelCompute
	// publishes the node's level even when it comes from static
	// configuration rather than a HAL change.
	lastPublishedLevel rift.Level

	// southboundAdjacencies reports whether the node currently has any
	// adjacency to a lower-level (southbound) neighbor, consulted by
	// LostHAL handling in HoldingDown/UpdatingClients.
	southboundAdjacencies func() bool

	holddownExpired func() bool
	startHolddown   func()

	log *riftlog.Logger
}

type Option func(*FSM)

func WithLogger(l *riftlog.Logger) Option { return func(f *FSM) { f.log = l } }

// WithSouthboundCheck installs the predicate ZTP consults on LostHAL to
// decide whether to extend holddown or fire immediately.
func WithSouthboundCheck(fn func() bool) Option {
	return func(f *FSM) { f.southboundAdjacencies = fn }
}

// WithHolddownTimer installs the holddown-timer hooks driven by ShortTic.
func WithHolddownTimer(expired func() bool, start func()) Option {
	return func(f *FSM) { f.holddownExpired = expired; f.startHolddown = start }
}

func New(configuredLevel rift.Level, opts ...Option) *FSM {
	f := &FSM{
		state:           ComputeBestOffer,
		configuredLevel: configuredLevel,
		offers:          make(map[rift.SystemID]rift.Offer),
		hal:             rift.UndefinedLevel,
		hat:             rift.UndefinedLevel,
		log:             riftlog.NewDiscard(),
	}
	for _, o := range opts {
		o(f)
	}
	if f.southboundAdjacencies == nil {
		f.southboundAdjacencies = func() bool { return false }
	}
	if f.holddownExpired == nil {
		f.holddownExpired, f.startHolddown = func() bool { return false }, func() {}
	}
	f.runEntryAction()
	return f
}

// SendOffer and ExpireOfferByID implement lie.ZTPHandle, the narrow
// interface each LIE FSM calls into directly (spec §9). SendOffer enqueues
// a NeighborOffer event for the next Step; ExpireOfferByID marks the entry
// without going through PROCESS_OFFER, since an expired offer must still be
// visible to remove_expired_offers rather than disappearing immediately.
func (f *FSM) SendOffer(o rift.Offer) { f.Enqueue(Event{Kind: EvNeighborOffer, Offer: o}) }

func (f *FSM) ExpireOfferByID(id rift.SystemID) {
	if o, ok := f.offers[id]; ok {
		o.Expired = true
		f.offers[id] = o
	}
}

func (f *FSM) State() State           { return f.state }
func (f *FSM) HAL() rift.Level        { return f.hal }
func (f *FSM) HAT() rift.Level        { return f.hat }
func (f *FSM) ConfiguredLevel() rift.Level { return f.configuredLevel }

// DerivedLevel implements spec §4.3: configured level if defined, else
// HAL-1 saturating at 0, or Undefined if HAL itself is undefined.
func (f *FSM) DerivedLevel() rift.Level {
	if f.configuredLevel.Defined() {
		return f.configuredLevel
	}
	if !f.hal.Defined() {
		return rift.UndefinedLevel
	}
	return f.hal.Sub1Saturating()
}

func (f *FSM) push(kind EventKind) { f.chained = append(f.chained, Event{Kind: kind}) }

// Enqueue feeds one external event for the next Step call.
func (f *FSM) Enqueue(ev Event) { f.external = append(f.external, ev) }

// Step drains every currently queued external event (draining the chained
// queue to empty after each one, per the two-queue invariant) and returns
// the LIE feedback accumulated along the way.
func (f *FSM) Step() []LIEFeedback {
	var feedback []LIEFeedback
	drainChained := func() {
		for len(f.chained) > 0 {
			next := f.chained[0]
			f.chained = f.chained[1:]
			feedback = append(feedback, f.handle(next)...)
		}
	}
	// Flush anything left over from construction's entry action (e.g. the
	// initial ComputationDone from a statically configured level) even
	// before the first external event arrives.
	drainChained()
	ext := f.external
	f.external = nil
	for _, ev := range ext {
		feedback = append(feedback, f.handle(ev)...)
		drainChained()
	}
	return feedback
}

func (f *FSM) handle(ev Event) []LIEFeedback {
	prev := f.state
	switch f.state {
	case ComputeBestOffer:
		f.handleComputeBestOffer(ev)
	case HoldingDown:
		f.handleHoldingDown(ev)
	case UpdatingClients:
		f.handleUpdatingClients(ev)
	}
	if f.state != prev {
		return f.runEntryAction()
	}
	return nil
}

func (f *FSM) handleComputeBestOffer(ev Event) {
	switch ev.Kind {
	case EvComputationDone:
		f.goTo(UpdatingClients)
	case EvBetterHAL, EvBetterHAT, EvLostHAL, EvLostHAT:
		f.goTo(HoldingDown)
	case EvNeighborOffer:
		f.processOffer(ev.Offer)
		f.goTo(HoldingDown)
	case EvChangeLocalConfiguredLevel:
		f.configuredLevel = ev.ConfiguredLevel
	case EvChangeLocalHierarchyIndications:
		f.hierarchyIndication = ev.HierarchyIndication
	case EvShortTic:
		f.removeExpiredOffers()
		if f.holddownExpired() {
			f.push(EvHoldDownExpired)
		}
		f.goTo(HoldingDown)
	case EvHoldDownExpired:
		f.purgeOffers()
	}
}

func (f *FSM) handleHoldingDown(ev Event) {
	switch ev.Kind {
	case EvLostHAT, EvBetterHAT, EvBetterHAL:
		f.levelCompute()
		f.goTo(ComputeBestOffer)
	case EvLostHAL:
		if f.southboundAdjacencies() {
			f.startHolddown()
		} else {
			f.levelCompute()
			f.goTo(ComputeBestOffer)
		}
	case EvChangeLocalConfiguredLevel:
		f.configuredLevel = ev.ConfiguredLevel
		f.levelCompute()
		f.goTo(ComputeBestOffer)
	case EvChangeLocalHierarchyIndications:
		f.hierarchyIndication = ev.HierarchyIndication
		f.levelCompute()
		f.goTo(ComputeBestOffer)
	case EvNeighborOffer:
		f.processOffer(ev.Offer)
		f.goTo(ComputeBestOffer)
	case EvShortTic:
		f.removeExpiredOffers()
		f.goTo(ComputeBestOffer)
	case EvComputationDone:
		f.goTo(UpdatingClients)
	}
}

func (f *FSM) handleUpdatingClients(ev Event) {
	switch ev.Kind {
	case EvBetterHAT, EvBetterHAL, EvLostHAT:
		f.goTo(ComputeBestOffer)
	case EvLostHAL:
		if f.southboundAdjacencies() {
			f.startHolddown()
			f.goTo(HoldingDown)
		} else {
			f.goTo(HoldingDown)
		}
	case EvChangeLocalConfiguredLevel:
		f.configuredLevel = ev.ConfiguredLevel
		f.goTo(ComputeBestOffer)
	case EvChangeLocalHierarchyIndications:
		f.hierarchyIndication = ev.HierarchyIndication
		f.goTo(ComputeBestOffer)
	case EvNeighborOffer:
		f.processOffer(ev.Offer)
	case EvShortTic:
		f.removeExpiredOffers()
	}
}

func (f *FSM) goTo(s State) { f.state = s }

// runEntryAction performs the entry action for f.state and, for
// UpdatingClients, returns the LIE feedback to publish.
func (f *FSM) runEntryAction() []LIEFeedback {
	switch f.state {
	case ComputeBestOffer:
		f.levelCompute()
		return nil
	case UpdatingClients:
		return f.publishPendingResends()
	}
	return nil
}

func (f *FSM) publishPendingResends() []LIEFeedback {
	var out []LIEFeedback
	if f.halNeedsResend {
		out = append(out, LIEFeedback{Kind: FeedbackHALChanged, Level: f.hal})
		f.halNeedsResend = false
	}
	if f.hatNeedsResend {
		out = append(out, LIEFeedback{Kind: FeedbackHATChanged, Level: f.hat})
		f.hatNeedsResend = false
	}
	if f.halsNeedsResend {
		out = append(out, LIEFeedback{Kind: FeedbackHALSChanged})
		f.halsNeedsResend = false
	}
	if f.levelNeedsResend {
		derived := f.DerivedLevel()
		out = append(out, LIEFeedback{Kind: FeedbackLevelChanged, Level: derived})
		f.lastPublishedLevel = derived
		f.levelNeedsResend = false
	}
	return out
}

// processOffer implements PROCESS_OFFER (spec §4.3).
func (f *FSM) processOffer(o rift.Offer) {
	if !o.Level.Defined() {
		f.removeOffer(o)
		return
	}
	if o.Level.Value() > rift.LeafLevel {
		f.updateOffer(o)
		return
	}
	f.removeOffer(o)
}

func (f *FSM) updateOffer(o rift.Offer) {
	f.offers[o.SystemID] = o
	f.compareOffers()
}

func (f *FSM) removeOffer(o rift.Offer) {
	delete(f.offers, o.SystemID)
	f.compareOffers()
}

func (f *FSM) purgeOffers() {
	f.offers = make(map[rift.SystemID]rift.Offer)
	f.compareOffers()
}

func (f *FSM) removeExpiredOffers() {
	for id, o := range f.offers {
		if o.Expired {
			delete(f.offers, id)
		}
	}
}

// compareOffers implements COMPARE_OFFERS: recompute best HAL/HAT and PUSH
// the Better/Lost events for whichever changed.
func (f *FSM) compareOffers() {
	bestHAL, bestHAT := rift.UndefinedLevel, rift.UndefinedLevel
	for _, o := range f.offers {
		if !o.Level.Defined() || o.Level.Value() <= rift.LeafLevel {
			continue
		}
		if !bestHAL.Defined() || o.Level.Compare(bestHAL) > 0 {
			bestHAL = o.Level
		}
		if o.ThreeWay {
			if !bestHAT.Defined() || o.Level.Compare(bestHAT) > 0 {
				bestHAT = o.Level
			}
		}
	}

	f.pendingHAL, f.pendingHAT = bestHAL, bestHAT

	if levelChanged(f.hal, bestHAL) {
		if betterLevel(f.hal, bestHAL) {
			f.push(EvBetterHAL)
		} else {
			f.push(EvLostHAL)
		}
	}
	if levelChanged(f.hat, bestHAT) {
		if betterLevel(f.hat, bestHAT) {
			f.push(EvBetterHAT)
		} else {
			f.push(EvLostHAT)
		}
	}
}

func levelChanged(old, new rift.Level) bool {
	if old.Defined() != new.Defined() {
		return true
	}
	if !old.Defined() {
		return false
	}
	return old.Value() != new.Value()
}

func betterLevel(old, new rift.Level) bool {
	if !new.Defined() {
		return false
	}
	if !old.Defined() {
		return true
	}
	return new.Compare(old) > 0
}

// LEVEL_COMPUTE (spec §4.3): apply the pending best HAL/HAT computed by
// compareOffers, marking resend flags, and PUSH ComputationDone if anything
// changed.
func (f *FSM) levelCompute() {
	changed := false
	if levelChanged(f.hal, f.pendingHAL) {
		f.hal = f.pendingHAL
		f.halNeedsResend = true
		f.halsNeedsResend = true
		changed = true
	}
	if levelChanged(f.hat, f.pendingHAT) {
		f.hat = f.pendingHAT
		f.hatNeedsResend = true
		changed = true
	}
	if !f.levelNeedsResend && levelChanged(f.lastPublishedLevel, f.DerivedLevel()) {
		f.levelNeedsResend = true
		changed = true
	}
	if changed {
		f.push(EvComputationDone)
	}
}
