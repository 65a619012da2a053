// Package socket is one link's datagram transport (spec §4.5): a LIE
// receive endpoint (possibly multicast), a TIE receive endpoint (unicast),
// and a connected send endpoint, all non-blocking, grounded on the
// teacher's netflow/main.go UDP listener idiom (net.ListenUDP, polling
// reads bounded by a 1 ms SetReadDeadline, and
// encoding/binary wire decode).
package socket

import (
	"errors"
	"net"
	"time"

	"golang.org/x/time/rate"

	"github.com/rift/core/internal/keychain"
	"github.com/rift/core/internal/packet"
	"github.com/rift/core/internal/rift"
	"github.com/rift/core/internal/wire"
)

// ErrWouldBlock reports "no datagram available this step" — not an error
// condition per spec §7, just a signal to stop trying this endpoint.
var ErrWouldBlock = errors.New("socket: would block")

const maxDatagram = 9000 // generous upper bound; real MTU is configured per link

// Received is one decoded, validated datagram plus the peer it came from.
type Received struct {
	Peer   *net.UDPAddr
	Parsed wire.Parsed
	Packet packet.ProtocolPacket
}

// Socket is one link's pair of receive endpoints plus its connected send
// endpoint (spec §4.5).
type Socket struct {
	lieConn *net.UDPConn
	tieConn *net.UDPConn
	sendConn *net.UDPConn

	mtu       uint32
	floodPort uint16

	keys *keychain.Store

	packetNumber   rift.PacketNumber
	weakNonceLocal rift.Nonce
	weakNonceRemote rift.Nonce

	nonceRegenInterval time.Duration
	lastNonceRegen     time.Time
	now                func() time.Time

	sendLimiter *rate.Limiter
}

// Config describes how to bind one link's sockets (spec §241/§6: multicast
// LIE receive, unicast TIE receive, connect()ed send).
type Config struct {
	LIEReceiveAddr *net.UDPAddr // possibly multicast
	TIEReceiveAddr *net.UDPAddr
	SendAddr       *net.UDPAddr
	MTU            uint32
	FloodPort      uint16
	Keys           *keychain.Store
	NonceRegenInterval time.Duration
	SendRateLimit      rate.Limit // packets/sec; 0 disables limiting
}

// Open binds both receive endpoints and the send endpoint. When
// LIEReceiveAddr's IP is multicast, it MUST join the group on the
// unspecified interface (spec §6).
func Open(cfg Config) (*Socket, error) {
	var lieConn *net.UDPConn
	var err error
	if cfg.LIEReceiveAddr.IP != nil && cfg.LIEReceiveAddr.IP.IsMulticast() {
		// ListenMulticastUDP with a nil interface joins the group on the
		// unspecified interface, as spec §6 requires.
		lieConn, err = net.ListenMulticastUDP("udp", nil, cfg.LIEReceiveAddr)
	} else {
		lieConn, err = net.ListenUDP("udp", cfg.LIEReceiveAddr)
	}
	if err != nil {
		return nil, err
	}
	tieConn, err := net.ListenUDP("udp", cfg.TIEReceiveAddr)
	if err != nil {
		lieConn.Close()
		return nil, err
	}
	sendConn, err := net.DialUDP("udp", nil, cfg.SendAddr)
	if err != nil {
		lieConn.Close()
		tieConn.Close()
		return nil, err
	}
	interval := cfg.NonceRegenInterval
	if interval == 0 {
		interval = 30 * time.Second
	}
	var limiter *rate.Limiter
	if cfg.SendRateLimit > 0 {
		limiter = rate.NewLimiter(cfg.SendRateLimit, 1)
	}
	s := &Socket{
		lieConn:            lieConn,
		tieConn:            tieConn,
		sendConn:           sendConn,
		mtu:                cfg.MTU,
		floodPort:          cfg.FloodPort,
		keys:               cfg.Keys,
		nonceRegenInterval: interval,
		now:                time.Now,
		sendLimiter:        limiter,
	}
	s.regenerateNonce()
	return s, nil
}

func (s *Socket) Close() error {
	s.lieConn.Close()
	s.tieConn.Close()
	return s.sendConn.Close()
}

func (s *Socket) MTU() uint32        { return s.mtu }
func (s *Socket) FloodPort() uint16  { return s.floodPort }

// ReceiveLIE performs one non-blocking read from the LIE endpoint.
func (s *Socket) ReceiveLIE() (Received, error) { return s.receive(s.lieConn) }

// ReceiveTIE performs one non-blocking read from the TIE endpoint.
func (s *Socket) ReceiveTIE() (Received, error) { return s.receive(s.tieConn) }

func (s *Socket) receive(conn *net.UDPConn) (Received, error) {
	conn.SetReadDeadline(s.now().Add(time.Millisecond))
	buf := make([]byte, maxDatagram)
	n, peer, err := conn.ReadFromUDP(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return Received{}, ErrWouldBlock
		}
		return Received{}, err
	}
	parsed, err := wire.ParseAndValidate(buf[:n], s.keys)
	if err != nil {
		return Received{}, err
	}
	s.weakNonceRemote = rift.NewNonce(parsed.Outer.WeakNonceLocal)
	pp, err := packet.Decode(parsed.Payload)
	if err != nil {
		return Received{}, err
	}
	return Received{Peer: peer, Parsed: parsed, Packet: pp}, nil
}

// Throttled reports whether this socket's send rate limiter is currently
// saturated, without consuming a token. The LIE FSM polls this to decide
// whether to set you_are_sending_too_quickly on its next outgoing LIE (spec
// §6, SPEC_FULL §C).
func (s *Socket) Throttled() bool {
	return s.sendLimiter != nil && s.sendLimiter.Tokens() < 1
}

// Send seals and transmits one ProtocolPacket on the send endpoint.
func (s *Socket) Send(p packet.ProtocolPacket, key keychain.Key, hasKey bool) error {
	if s.sendLimiter != nil && !s.sendLimiter.Allow() {
		return ErrWouldBlock
	}
	if s.now().Sub(s.lastNonceRegen) >= s.nonceRegenInterval {
		s.regenerateNonce()
	}
	s.packetNumber = s.packetNumber.Next()

	body, err := packet.Encode(p)
	if err != nil {
		return err
	}

	outerKeyID := uint32(0)
	if hasKey {
		outerKeyID = key.ID.Wire()
	}
	sealed, err := wire.Seal(wire.SealParams{
		PacketNumber:    s.packetNumber.Wire(),
		OuterKeyID:      outerKeyID,
		OuterKey:        key,
		HasOuterKey:     hasKey,
		WeakNonceLocal:  s.weakNonceLocal.Wire(),
		WeakNonceRemote: s.weakNonceRemote.Wire(),
	}, body)
	if err != nil {
		return err
	}
	_, err = s.sendConn.Write(sealed)
	return err
}

// RegenerateNonce forces a new local nonce. Nothing in this module calls it
// on LIE FSM transitions; Send regenerates the nonce by itself once
// nonceRegenInterval has passed since the last regeneration.
func (s *Socket) RegenerateNonce() { s.regenerateNonce() }

func (s *Socket) regenerateNonce() {
	v := uint16(s.now().UnixNano())
	s.weakNonceLocal = rift.NewNonce(v)
	s.lastNonceRegen = s.now()
}
