package node

import (
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/rift/core/internal/config"
	"github.com/rift/core/internal/lie"
	"github.com/rift/core/internal/rift"
)

func freePort(t *testing.T) uint16 {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer conn.Close()
	return uint16(conn.LocalAddr().(*net.UDPAddr).Port)
}

func twoNodeConfig(t *testing.T) (*config.Config, *config.Config) {
	t.Helper()
	aLie, aTie, bLie, bTie := freePort(t), freePort(t), freePort(t), freePort(t)

	cfgA := &config.Config{
		Name:            "nodeA",
		ConfiguredLevel: rift.NewLevel(0),
		SystemID:        rift.SystemID(1),
		InstanceID:      uuid.New(),
		Interfaces: map[string]config.InterfaceConfig{
			"eth0": {
				Name:          "eth0",
				TXLIEPort:     bLie,
				RXLIEPort:     aLie,
				RXTIEPort:     aTie,
				LocalAddress:  "127.0.0.1",
				RemoteAddress: "127.0.0.1",
				AcceptKeys:    map[uint32]bool{},
			},
		},
	}
	cfgB := &config.Config{
		Name:            "nodeB",
		ConfiguredLevel: rift.NewLevel(0),
		SystemID:        rift.SystemID(2),
		InstanceID:      uuid.New(),
		Interfaces: map[string]config.InterfaceConfig{
			"eth0": {
				Name:          "eth0",
				TXLIEPort:     aLie,
				RXLIEPort:     bLie,
				RXTIEPort:     bTie,
				LocalAddress:  "127.0.0.1",
				RemoteAddress: "127.0.0.1",
				AcceptKeys:    map[uint32]bool{},
			},
		},
	}
	return cfgA, cfgB
}

func TestTwoNodesReachThreeWay(t *testing.T) {
	cfgA, cfgB := twoNodeConfig(t)

	a, err := New(cfgA, nil)
	require.NoError(t, err)
	defer a.Close()
	b, err := New(cfgB, nil)
	require.NoError(t, err)
	defer b.Close()

	a.links[0].lastHello = time.Time{}
	b.links[0].lastHello = time.Time{}

	reached := false
	for i := 0; i < 200; i++ {
		a.Step()
		b.Step()
		time.Sleep(time.Millisecond)
		if a.links[0].LieState() == lie.ThreeWay && b.links[0].LieState() == lie.ThreeWay {
			reached = true
			break
		}
	}
	require.True(t, reached, "expected both links to reach ThreeWay, got a=%s b=%s",
		a.links[0].LieState(), b.links[0].LieState())
}
