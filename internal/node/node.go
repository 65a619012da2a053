// Package node implements the single-threaded cooperative node driver
// (spec §4.6): one Step() call drains every link's sockets, feeds the LIE
// and TIE state machines, runs the node-wide ZTP FSM first, and floods
// TIDE/TIRE on each three-way adjacency's flood timer. Grounded on the
// teacher's single-goroutine poll loop in netflow/main.go (no locks, no
// channels — a plain for-loop calling Step repeatedly).
package node

import (
	"fmt"
	"math/rand"
	"net"
	"time"

	"golang.org/x/time/rate"

	"github.com/rift/core/internal/config"
	"github.com/rift/core/internal/flooding"
	"github.com/rift/core/internal/keychain"
	"github.com/rift/core/internal/lie"
	"github.com/rift/core/internal/packet"
	"github.com/rift/core/internal/rift"
	"github.com/rift/core/internal/riftlog"
	"github.com/rift/core/internal/socket"
	"github.com/rift/core/internal/ztp"
)

const (
	helloInterval   = time.Second
	floodInterval   = 2 * time.Second
	defaultLifetime = uint32(604800) // seconds; RIFT draft's suggested default TIE lifetime
)

// Link is one interface's wired-together socket + LIE FSM + flood FSM.
type Link struct {
	name   string
	iface  config.InterfaceConfig
	sock   *socket.Socket
	lieFSM *lie.FSM
	flood  *flooding.FSM

	activeKey    keychain.Key
	hasActiveKey bool

	lastHello time.Time
	lastFlood time.Time
}

func (l *Link) Name() string          { return l.name }
func (l *Link) LieState() lie.State   { return l.lieFSM.State() }
func (l *Link) Neighbor() *lie.Neighbor { return l.lieFSM.Neighbor() }

// Node is one RIFT node: one ZTP FSM, one LSDB, and a set of links.
type Node struct {
	cfg  *config.Config
	keys *keychain.Store

	ztpFSM *ztp.FSM
	lsdb   *flooding.LSDB

	links []*Link

	insertedAt map[rift.TIEID]time.Time

	log *riftlog.Logger
	now func() time.Time
	rng *rand.Rand
}

// New builds a Node from a validated Config, binding every interface's
// sockets. A bind failure for one interface aborts construction: spec §7
// treats configuration errors as fatal at construction time, unlike
// per-packet errors which are always recovered locally.
func New(cfg *config.Config, log *riftlog.Logger) (*Node, error) {
	if log == nil {
		log = riftlog.NewDiscard()
	}
	n := &Node{
		cfg:        cfg,
		keys:       keychain.NewStore(cfg.Keys),
		lsdb:       flooding.NewLSDB(cfg.SystemID),
		insertedAt: make(map[rift.TIEID]time.Time),
		log:        log,
		now:        time.Now,
		rng:        rand.New(rand.NewSource(int64(cfg.SystemID))),
	}

	n.ztpFSM = ztp.New(cfg.ConfiguredLevel, ztp.WithLogger(log))

	for name, ic := range cfg.Interfaces {
		link, err := n.newLink(name, ic)
		if err != nil {
			for _, l := range n.links {
				l.sock.Close()
			}
			return nil, fmt.Errorf("node: bind interface %q: %w", name, err)
		}
		n.links = append(n.links, link)
	}
	return n, nil
}

func (n *Node) newLink(name string, ic config.InterfaceConfig) (*Link, error) {
	lieAddr, err := mcastOrUnicastAddr(n.cfg.RXMulticastIPv4, ic.LocalAddress, ic.RXLIEPort)
	if err != nil {
		return nil, err
	}
	tieAddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", orUnspecified(ic.LocalAddress), ic.RXTIEPort))
	if err != nil {
		return nil, err
	}
	sendHost := ic.RemoteAddress
	if sendHost == "" && n.cfg.RXMulticastIPv4 != nil {
		sendHost = n.cfg.RXMulticastIPv4.String()
	}
	sendPort := ic.TXLIEPort
	if sendPort == 0 {
		sendPort = ic.RXTIEPort
	}
	sendAddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", sendHost, sendPort))
	if err != nil {
		return nil, err
	}

	sock, err := socket.Open(socket.Config{
		LIEReceiveAddr: lieAddr,
		TIEReceiveAddr: tieAddr,
		SendAddr:       sendAddr,
		MTU:            mtuOf(ic),
		FloodPort:      ic.RXTIEPort,
		Keys:           n.keys,
		SendRateLimit:  defaultSendRateLimit,
	})
	if err != nil {
		return nil, err
	}

	link := &Link{name: name, iface: ic, sock: sock}
	link.flood = flooding.New(n.lsdb, n.cfg.SystemID, flooding.WithLogger(n.log))

	link.lieFSM = lie.New(lie.LocalConfig{
		SystemID:     n.cfg.SystemID,
		MajorVersion: wireMajorVersion,
		LocalLinkID:  linkIDOf(name),
		FloodPort:    ic.RXTIEPort,
		MTU:          mtuOf(ic),
		Holdtime:     defaultHoldtime,
	},
		lie.WithSendFunc(link.sendLie(n)),
		lie.WithZTPHandle(n.ztpFSM),
		lie.WithLogger(n.log),
		lie.WithSaturationProbe(sock.Throttled),
	)

	if k, ok := n.keys.Lookup(ic.ActiveKey); ok {
		link.activeKey, link.hasActiveKey = k, true
	}

	return link, nil
}

const wireMajorVersion = 1
const defaultHoldtime = 3 // seconds

// defaultSendRateLimit bounds one link's outgoing packet rate (spec §6's
// you_are_sending_too_quickly); chosen generously above steady-state LIE/TIE
// traffic so it only saturates under a genuine burst.
const defaultSendRateLimit rate.Limit = 100

func linkIDOf(name string) uint32 {
	var h uint32
	for _, c := range name {
		h = h*31 + uint32(c)
	}
	return h
}

func mtuOf(ic config.InterfaceConfig) uint32 {
	if ic.Bandwidth != nil {
		return 1400
	}
	return 1400
}

func orUnspecified(addr string) string {
	if addr == "" {
		return "0.0.0.0"
	}
	return addr
}

func mcastOrUnicastAddr(mcast net.IP, local string, port uint16) (*net.UDPAddr, error) {
	if mcast != nil {
		return &net.UDPAddr{IP: mcast, Port: int(port)}, nil
	}
	return net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", orUnspecified(local), port))
}

// sendLie adapts a lie.SendFunc onto the link's socket.
func (l *Link) sendLie(n *Node) lie.SendFunc {
	return func(body packet.LiePacket) error {
		pp := packet.ProtocolPacket{
			Header: packet.PacketHeader{
				MajorVersion: wireMajorVersion,
				Sender:       n.cfg.SystemID,
				Level:        n.ztpFSM.DerivedLevel(),
			},
			Lie: &body,
		}
		return l.sock.Send(pp, l.activeKey, l.hasActiveKey)
	}
}

// Close tears down every link's sockets.
func (n *Node) Close() {
	for _, l := range n.links {
		l.sock.Close()
	}
}

func (n *Node) Links() []*Link { return n.links }

// Step runs one full node iteration (spec §4.6). It never blocks: every
// receive is non-blocking and a failed send is recorded in the returned
// error slice rather than aborting the step.
func (n *Node) Step() []error {
	var errs []error
	now := n.now()

	order := n.rng.Perm(len(n.links))

	for _, idx := range order {
		l := n.links[idx]
		n.drainLIE(l, &errs)
		n.drainTIE(l, &errs)

		if now.Sub(l.lastHello) >= helloInterval {
			l.lastHello = now
			l.lieFSM.Enqueue(lie.TimerTick())
		}
	}

	for _, fb := range n.ztpFSM.Step() {
		ev := translateFeedback(fb)
		for _, l := range n.links {
			l.lieFSM.Enqueue(ev)
		}
	}

	for _, idx := range order {
		l := n.links[idx]
		if err := l.lieFSM.Step(); err != nil {
			errs = append(errs, fmt.Errorf("node: link %s lie step: %w", l.name, err))
		}
	}

	for _, idx := range order {
		l := n.links[idx]
		if l.lieFSM.State() != lie.ThreeWay {
			continue
		}
		if now.Sub(l.lastFlood) >= floodInterval {
			l.lastFlood = now
			n.runFlood(l, &errs)
		}
		l.flood.ExpireRetransmits()
	}

	return errs
}

func (n *Node) remainingLifetime(id rift.TIEID) uint32 {
	t, ok := n.insertedAt[id]
	if !ok {
		n.insertedAt[id] = n.now()
		return defaultLifetime
	}
	elapsed := uint32(n.now().Sub(t).Seconds())
	if elapsed >= defaultLifetime {
		return 0
	}
	return defaultLifetime - elapsed
}

func isNorthbound(l *Link, derivedLevel rift.Level) bool {
	nb := l.lieFSM.Neighbor()
	if nb == nil || !nb.Level.Defined() || !derivedLevel.Defined() {
		return false
	}
	return nb.Level.Compare(derivedLevel) > 0
}

func translateFeedback(fb ztp.LIEFeedback) lie.Event {
	switch fb.Kind {
	case ztp.FeedbackHALChanged:
		return lie.HALChanged(fb.Level)
	case ztp.FeedbackHATChanged:
		return lie.HATChanged(fb.Level)
	case ztp.FeedbackHALSChanged:
		return lie.HALSChanged()
	default: // FeedbackLevelChanged
		return lie.LevelChanged(fb.Level)
	}
}

func (n *Node) drainLIE(l *Link, errs *[]error) {
	r, err := l.sock.ReceiveLIE()
	if err != nil {
		if err != socket.ErrWouldBlock {
			*errs = append(*errs, fmt.Errorf("node: link %s lie recv: %w", l.name, err))
		}
		return
	}
	if r.Packet.Lie == nil {
		return
	}
	l.lieFSM.Enqueue(lie.LieRcvd(lie.ReceivedLie{
		Address: r.Peer.String(),
		Header:  r.Packet.Header,
		Body:    *r.Packet.Lie,
	}))
}

func (n *Node) drainTIE(l *Link, errs *[]error) {
	r, err := l.sock.ReceiveTIE()
	if err != nil {
		if err != socket.ErrWouldBlock {
			*errs = append(*errs, fmt.Errorf("node: link %s tie recv: %w", l.name, err))
		}
		return
	}
	if l.lieFSM.State() != lie.ThreeWay {
		return
	}
	fromNorth := isNorthbound(l, n.ztpFSM.DerivedLevel())
	switch {
	case r.Packet.Tide != nil:
		if err := l.flood.ProcessTide(*r.Packet.Tide, fromNorth); err != nil {
			*errs = append(*errs, fmt.Errorf("node: link %s tide: %w", l.name, err))
			l.lieFSM.Enqueue(lie.Event{Kind: lie.EvUnacceptableHeader})
		}
	case r.Packet.Tire != nil:
		l.flood.ProcessTire(*r.Packet.Tire)
	case r.Packet.Tie != nil:
		l.flood.ProcessTie(*r.Packet.Tie)
	}
}

// runFlood drives one link's flood timer firing: TIDE generation, draining
// TIES_TX onto the wire (as individual TIE packets), and TIRE generation.
func (n *Node) runFlood(l *Link, errs *[]error) {
	tides := l.flood.GenerateTide(n.remainingLifetime, flooding.DefaultTIRDEsPerPkt)
	for _, t := range tides {
		if err := n.send(l, packet.ProtocolPacket{Header: n.header(), Tide: &t}); err != nil {
			*errs = append(*errs, err)
		}
	}

	for _, h := range l.flood.DrainTX() {
		e, ok := n.lsdb.Get(h.TIEID)
		if !ok {
			continue
		}
		tp := packet.TiePacket{Header: e.Header, Element: e.Content}
		if err := n.send(l, packet.ProtocolPacket{Header: n.header(), Tie: &tp}); err != nil {
			*errs = append(*errs, err)
		}
	}

	tire := l.flood.GenerateTire()
	if len(tire.Headers) > 0 {
		if err := n.send(l, packet.ProtocolPacket{Header: n.header(), Tire: &tire}); err != nil {
			*errs = append(*errs, err)
		}
	}
}

func (n *Node) header() packet.PacketHeader {
	return packet.PacketHeader{
		MajorVersion: wireMajorVersion,
		Sender:       n.cfg.SystemID,
		Level:        n.ztpFSM.DerivedLevel(),
	}
}

func (n *Node) send(l *Link, pp packet.ProtocolPacket) error {
	if err := l.sock.Send(pp, l.activeKey, l.hasActiveKey); err != nil {
		return fmt.Errorf("node: link %s send: %w", l.name, err)
	}
	return nil
}

// OriginateTIE inserts or replaces a self-originated TIE in the LSDB,
// marking it for transmission on every three-way link. This is the node's
// only write path into the LSDB from outside a TIE FSM step, matching
// spec §5's "LSDB is owned by the node" note: origination is a node-level
// act, not a flooding-FSM one.
func (n *Node) OriginateTIE(id rift.TIEID, content []byte) {
	id.Originator = n.cfg.SystemID
	existing, ok := n.lsdb.Get(id)
	seq := uint32(1)
	if ok {
		seq = existing.Header.SeqNr + 1
	}
	h := rift.TIEHeader{TIEID: id, SeqNr: seq}
	n.lsdb.Put(flooding.TIEEntry{Header: h, Content: content})
	n.insertedAt[id] = n.now()
	for _, l := range n.links {
		if l.lieFSM.State() == lie.ThreeWay {
			l.flood.Queues().TryToTransmitTie(h, nil)
		}
	}
}
