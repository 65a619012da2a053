package socket

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rift/core/internal/keychain"
	"github.com/rift/core/internal/packet"
	"github.com/rift/core/internal/rift"
)

func TestSendReceiveRoundTrip(t *testing.T) {
	storeA := keychain.NewStore(nil)

	aLIE, err := net.ResolveUDPAddr("udp", "127.0.0.1:0")
	require.NoError(t, err)
	bLIE, err := net.ResolveUDPAddr("udp", "127.0.0.1:0")
	require.NoError(t, err)

	b, err := Open(Config{
		LIEReceiveAddr: bLIE,
		TIEReceiveAddr: mustAddr(t),
		SendAddr:       mustAddr(t),
		MTU:            1400,
		FloodPort:      911,
		Keys:           storeA,
	})
	require.NoError(t, err)
	defer b.Close()

	actualB := b.lieConn.LocalAddr().(*net.UDPAddr)

	a, err := Open(Config{
		LIEReceiveAddr: aLIE,
		TIEReceiveAddr: mustAddr(t),
		SendAddr:       actualB,
		MTU:            1400,
		FloodPort:      911,
		Keys:           storeA,
	})
	require.NoError(t, err)
	defer a.Close()

	name := "eth0"
	pp := packet.ProtocolPacket{
		Header: packet.PacketHeader{MajorVersion: 1, Sender: 1, Level: rift.NewLevel(5)},
		Lie:    &packet.LiePacket{Name: &name, LocalID: 1, FloodPort: 911, LinkMTUSize: 1400, Holdtime: 3},
	}
	require.NoError(t, a.Send(pp, keychain.Key{}, false))

	time.Sleep(20 * time.Millisecond)
	var got Received
	var rerr error
	for i := 0; i < 50; i++ {
		got, rerr = b.ReceiveLIE()
		if rerr == nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.NoError(t, rerr)
	require.NotNil(t, got.Packet.Lie)
	require.Equal(t, "eth0", *got.Packet.Lie.Name)
}

func mustAddr(t *testing.T) *net.UDPAddr {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp", "127.0.0.1:0")
	require.NoError(t, err)
	return addr
}
