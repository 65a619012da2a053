package lie

import (
	"time"

	"github.com/rift/core/internal/packet"
	"github.com/rift/core/internal/riftlog"
	"github.com/rift/core/internal/rift"
)

// ZTPHandle is the subset of the node's ZTP FSM that a LIE FSM calls into
// directly (spec §9: "never as mutual pointers" — the node driver hands
// each LIE FSM this narrow interface onto the single per-node ZTP FSM).
type ZTPHandle interface {
	SendOffer(rift.Offer)
	ExpireOfferByID(rift.SystemID)
}

// SendFunc hands a constructed LIE body to the link socket for sealing and
// transmission. A non-nil error is an I/O error, which spec §4.2 says must
// propagate to the step result rather than being swallowed.
type SendFunc func(packet.LiePacket) error

// LocalConfig is the fixed, per-link information SEND_LIE fills a LIE body
// from (spec §4.2's SEND_LIE procedure and §6's LIE field list).
type LocalConfig struct {
	SystemID        rift.SystemID
	MajorVersion    uint8
	MinorVersion    uint8
	Name            *string
	LocalLinkID     uint32
	FloodPort       uint16
	MTU             uint32
	DefaultBandwidth *uint32
	Holdtime        uint16
	Capabilities    packet.NodeCapabilities
	EastWestEnabled bool
}

// FSM is one link's LIE adjacency state machine.
type FSM struct {
	state State

	external []Event
	chained  []Event

	local     LocalConfig
	send      SendFunc
	ztp       ZTPHandle
	now       func() time.Time
	saturated func() bool

	acceptance   LevelAcceptancePolicy
	floodLeader  FloodLeaderPolicy

	level rift.Level // own node level, fed by LevelChanged
	hat   rift.Level // fed by HATChanged

	neighbor     *Neighbor
	lastValidLie *LastValidLie

	multiNeighborsDeadline time.Time
	multiNeighborsMultiplier int

	floodRepeater bool

	log *riftlog.Logger

	lastStepErr error
}

type Option func(*FSM)

func WithSendFunc(s SendFunc) Option               { return func(f *FSM) { f.send = s } }
func WithZTPHandle(z ZTPHandle) Option              { return func(f *FSM) { f.ztp = z } }
func WithClock(now func() time.Time) Option         { return func(f *FSM) { f.now = now } }
func WithLevelAcceptancePolicy(p LevelAcceptancePolicy) Option {
	return func(f *FSM) { f.acceptance = p }
}
func WithFloodLeaderPolicy(p FloodLeaderPolicy) Option { return func(f *FSM) { f.floodLeader = p } }
func WithLogger(l *riftlog.Logger) Option              { return func(f *FSM) { f.log = l } }
func WithMultiNeighborsMultiplier(m int) Option        { return func(f *FSM) { f.multiNeighborsMultiplier = m } }

// WithSaturationProbe installs the predicate SEND_LIE consults to set
// you_are_sending_too_quickly on the outgoing LIE body (spec §6, SPEC_FULL
// §C): it reports whether this link's send-rate limiter is currently
// saturated.
func WithSaturationProbe(p func() bool) Option { return func(f *FSM) { f.saturated = p } }

const defaultMultiNeighborsMultiplier = 4

func New(local LocalConfig, opts ...Option) *FSM {
	f := &FSM{
		state:                    OneWay,
		local:                    local,
		now:                      time.Now,
		acceptance:               DefaultLevelAcceptancePolicy,
		floodLeader:              DefaultFloodLeaderPolicy,
		log:                      riftlog.NewDiscard(),
		multiNeighborsMultiplier: defaultMultiNeighborsMultiplier,
		level:                    rift.UndefinedLevel,
		hat:                      rift.UndefinedLevel,
	}
	for _, o := range opts {
		o(f)
	}
	if f.send == nil {
		f.send = func(packet.LiePacket) error { return nil }
	}
	if f.ztp == nil {
		f.ztp = noopZTP{}
	}
	return f
}

type noopZTP struct{}

func (noopZTP) SendOffer(rift.Offer)           {}
func (noopZTP) ExpireOfferByID(rift.SystemID)  {}

func (f *FSM) State() State         { return f.state }
func (f *FSM) Neighbor() *Neighbor  { return f.neighbor }
func (f *FSM) LastErr() error       { return f.lastStepErr }

// Enqueue feeds one external event for the next Step call.
func (f *FSM) Enqueue(ev Event) { f.external = append(f.external, ev) }

func (f *FSM) push(ev Event) { f.chained = append(f.chained, ev) }

// Step drains every currently queued external event, fully draining the
// chained queue between each one (spec §4.2/§9's two-queue invariant).
func (f *FSM) Step() error {
	f.lastStepErr = nil
	ext := f.external
	f.external = nil
	for _, ev := range ext {
		f.dispatch(ev)
		for len(f.chained) > 0 {
			next := f.chained[0]
			f.chained = f.chained[1:]
			f.dispatch(next)
		}
	}
	return f.lastStepErr
}

func (f *FSM) dispatch(ev Event) {
	prev := f.state
	switch f.state {
	case OneWay:
		f.handleOneWay(ev)
	case TwoWay:
		f.handleTwoWay(ev)
	case ThreeWay:
		f.handleThreeWay(ev)
	case MultipleNeighborsWait:
		f.handleMultipleNeighborsWait(ev)
	}
	if prev != OneWay && f.state == OneWay {
		f.cleanup()
	}
}

// --- common handling shared by OneWay/TwoWay/ThreeWay -----------------

func (f *FSM) handleCommon(ev Event) bool {
	switch ev.Kind {
	case EvTimerTick:
		f.push(Event{Kind: EvSendLie})
		return true
	case EvLevelChanged:
		f.level = ev.Level
		f.push(Event{Kind: EvSendLie})
		return false // ThreeWay additionally drops to OneWay; handled per-state below
	case EvHALChanged, EvHATChanged, EvHALSChanged:
		if ev.Kind == EvHATChanged {
			f.hat = ev.Level
		}
		return true
	case EvLieRcvd:
		f.processLie(ev.Lie)
		return true
	case EvSendLie:
		f.sendLie()
		return true
	case EvUpdateZTPOffer:
		f.sendOfferToZTP()
		return true
	case EvFloodLeadersChanged:
		f.floodRepeater = f.floodLeader(f.neighbor, f.level)
		return true
	case EvMultipleNeighbors:
		f.multiNeighborsDeadline = f.now().Add(time.Duration(f.multiNeighborsMultiplier) * defaultLieHoldtime(f.local.Holdtime))
		f.state = MultipleNeighborsWait
		return true
	}
	return false
}

func defaultLieHoldtime(advertised uint16) time.Duration {
	if advertised == 0 {
		return time.Second
	}
	return time.Duration(advertised) * time.Second
}

func (f *FSM) handleOneWay(ev Event) {
	if f.handleCommon(ev) {
		return
	}
	switch ev.Kind {
	case EvNewNeighbor:
		f.push(Event{Kind: EvSendLie})
		f.state = TwoWay
	case EvValidReflection:
		f.state = ThreeWay
	case EvHoldtimeExpired:
		f.expireOwnOffer()
	default:
		// all other events: stay
	}
}

func (f *FSM) handleTwoWay(ev Event) {
	if ev.Kind == EvTimerTick {
		if f.holdtimeExpired() {
			f.push(Event{Kind: EvHoldtimeExpired})
		}
	}
	if f.handleCommon(ev) {
		return
	}
	switch ev.Kind {
	case EvNewNeighbor:
		f.sendLie()
		f.multiNeighborsDeadline = f.now().Add(time.Duration(f.multiNeighborsMultiplier) * defaultLieHoldtime(f.local.Holdtime))
		f.state = MultipleNeighborsWait
	case EvValidReflection:
		f.state = ThreeWay
	case EvNeighborChangedAddress, EvNeighborChangedLevel, EvUnacceptableHeader, EvMTUMismatch:
		f.state = OneWay
	case EvHoldtimeExpired:
		f.expireOwnOffer()
		f.state = OneWay
	default:
	}
}

func (f *FSM) handleThreeWay(ev Event) {
	if ev.Kind == EvTimerTick {
		if f.holdtimeExpired() {
			f.push(Event{Kind: EvHoldtimeExpired})
		}
	}
	if f.handleCommon(ev) {
		return
	}
	switch ev.Kind {
	case EvNeighborDroppedReflection:
		f.state = TwoWay
	case EvValidReflection:
		// stay
	case EvLevelChanged: // already stored by handleCommon; also drop adjacency
		f.state = OneWay
	case EvNeighborChangedLevel, EvNeighborChangedAddress, EvUnacceptableHeader, EvMTUMismatch:
		f.state = OneWay
	case EvHoldtimeExpired:
		f.expireOwnOffer()
		f.state = OneWay
	default:
	}
}

func (f *FSM) handleMultipleNeighborsWait(ev Event) {
	switch ev.Kind {
	case EvMultipleNeighborsDone:
		f.state = OneWay
	case EvLevelChanged:
		f.level = ev.Level
		f.state = OneWay
	case EvTimerTick:
		if !f.multiNeighborsDeadline.IsZero() && !f.now().Before(f.multiNeighborsDeadline) {
			f.push(Event{Kind: EvMultipleNeighborsDone})
		}
	case EvSendLie:
		f.sendLie()
	case EvUpdateZTPOffer:
		f.sendOfferToZTP()
	case EvLieRcvd:
		f.processLie(ev.Lie)
	case EvHoldtimeExpired:
		f.expireOwnOffer()
	case EvFloodLeadersChanged:
		f.floodRepeater = f.floodLeader(f.neighbor, f.level)
	default:
		// most others stay
	}
}

func (f *FSM) holdtimeExpired() bool {
	if f.lastValidLie == nil {
		return false
	}
	deadline := f.lastValidLie.ReceivedAt.Add(f.lastValidLie.Holdtime)
	return !f.now().Before(deadline)
}

// cleanup runs CLEANUP (spec §4.2): entry to OneWay clears the neighbor but
// deliberately leaves last_valid_lie intact, since the offer sent to ZTP
// uses that snapshot.
func (f *FSM) cleanup() {
	f.neighbor = nil
}

func (f *FSM) expireOwnOffer() {
	id := rift.IllegalSystemID
	if f.neighbor != nil {
		id = f.neighbor.SystemID
	} else if f.lastValidLie != nil {
		id = f.lastValidLie.Header.Sender
	}
	if id.Valid() {
		f.ztp.ExpireOfferByID(id)
	}
}

func (f *FSM) sendOfferToZTP() {
	if f.lastValidLie == nil {
		return
	}
	f.ztp.SendOffer(rift.Offer{
		SystemID: f.lastValidLie.Header.Sender,
		Level:    f.lastValidLie.Header.Level,
		ThreeWay: f.state == ThreeWay,
	})
}

// processLie implements PROCESS_LIE (spec §4.2.2).
func (f *FSM) processLie(r ReceivedLie) {
	if r.Header.MajorVersion != f.local.MajorVersion || r.Header.Sender == f.local.SystemID || !r.Header.Sender.Valid() {
		f.state = OneWay
		return
	}

	if r.Body.LinkMTUSize != f.local.MTU {
		f.state = OneWay
		f.push(Event{Kind: EvUpdateZTPOffer})
		f.push(Event{Kind: EvMTUMismatch})
		return
	}

	f.lastValidLie = &LastValidLie{
		Header:     r.Header,
		Body:       r.Body,
		Address:    r.Address,
		ReceivedAt: f.now(),
		Holdtime:   time.Duration(r.Body.Holdtime) * time.Second,
	}

	if !f.acceptance(f.level, r.Header.Level, f.hat, f.local.EastWestEnabled) {
		f.state = OneWay
		f.push(Event{Kind: EvUpdateZTPOffer})
		f.push(Event{Kind: EvUnacceptableHeader})
		return
	}

	f.push(Event{Kind: EvUpdateZTPOffer})

	tentative := Neighbor{
		SystemID:    r.Header.Sender,
		Level:       r.Header.Level,
		Address:     r.Address,
		FloodPort:   r.Body.FloodPort,
		Name:        r.Body.Name,
		LocalLinkID: r.Body.LocalID,
	}

	switch {
	case f.neighbor == nil:
		f.neighbor = &tentative
		f.push(Event{Kind: EvNewNeighbor})
		f.checkThreeWay(r.Body)
	case f.neighbor.SystemID != tentative.SystemID:
		f.push(Event{Kind: EvMultipleNeighbors})
	case !f.neighbor.Level.Equal(tentative.Level):
		f.neighbor = &tentative
		f.push(Event{Kind: EvNeighborChangedLevel})
	case f.neighbor.Address != tentative.Address:
		f.neighbor = &tentative
		f.push(Event{Kind: EvNeighborChangedAddress})
	case f.neighbor.FloodPort != tentative.FloodPort ||
		!sameNamePtr(f.neighbor.Name, tentative.Name) ||
		f.neighbor.LocalLinkID != tentative.LocalLinkID:
		f.neighbor = &tentative
		f.push(Event{Kind: EvNeighborChangedMinorFields})
	default:
		f.checkThreeWay(r.Body)
	}
}

func sameNamePtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// checkThreeWay implements CHECK_THREE_WAY in its corrected form (spec
// §4.2, explicitly noted as authoritative over the RIFT draft text).
func (f *FSM) checkThreeWay(body packet.LiePacket) {
	switch f.state {
	case OneWay, MultipleNeighborsWait:
		return
	case TwoWay:
		if body.Neighbor == nil {
			// no reflection present yet: do nothing (spec §4.2 CHECK_THREE_WAY)
			return
		}
		if reflectsUs(body, f.local.SystemID, f.local.LocalLinkID) {
			f.push(Event{Kind: EvValidReflection})
		} else {
			f.push(Event{Kind: EvMultipleNeighbors})
		}
	case ThreeWay:
		if body.Neighbor == nil {
			f.push(Event{Kind: EvNeighborDroppedReflection})
		} else if reflectsUs(body, f.local.SystemID, f.local.LocalLinkID) {
			// matches, do nothing
		} else {
			f.push(Event{Kind: EvMultipleNeighbors})
		}
	}
}

func reflectsUs(body packet.LiePacket, selfID rift.SystemID, localLinkID uint32) bool {
	return body.Neighbor != nil && body.Neighbor.Originator == selfID && body.Neighbor.RemoteID == localLinkID
}

// sendLie implements SEND_LIE (spec §4.2).
func (f *FSM) sendLie() {
	body := packet.LiePacket{
		Name:             f.local.Name,
		LocalID:          f.local.LocalLinkID,
		FloodPort:        f.local.FloodPort,
		LinkMTUSize:      f.local.MTU,
		LinkBandwidth:    f.local.DefaultBandwidth,
		NodeCapabilities: f.local.Capabilities,
		Holdtime:         f.local.Holdtime,
	}
	if f.neighbor != nil {
		body.Neighbor = &packet.Neighbor{
			Originator: f.neighbor.SystemID,
			RemoteID:   f.neighbor.LocalLinkID,
		}
	}
	if f.floodRepeater {
		t := true
		body.YouAreFloodRepeater = &t
	}
	if f.saturated != nil && f.saturated() {
		t := true
		body.YouAreSendingTooQuickly = &t
	}
	if err := f.send(body); err != nil {
		f.lastStepErr = err
		f.log.Warn("lie send failed", riftlog.SD("error", err.Error()))
	}
}
