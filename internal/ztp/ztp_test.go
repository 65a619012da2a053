package ztp

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rift/core/internal/rift"
)

func TestDerivedLevelFollowsConfigured(t *testing.T) {
	f := New(rift.NewLevel(10))
	require.Equal(t, uint8(10), f.DerivedLevel().Value())
}

func TestDerivedLevelFollowsHALWhenUndefined(t *testing.T) {
	f := New(rift.UndefinedLevel)
	f.Enqueue(Event{Kind: EvNeighborOffer, Offer: rift.Offer{SystemID: 2, Level: rift.NewLevel(24), ThreeWay: true}})
	fb := f.Step()
	require.NotEmpty(t, fb)
	require.Equal(t, UpdatingClients, f.State())
	require.Equal(t, uint8(24), f.HAL().Value())
	require.Equal(t, uint8(24), f.HAT().Value())
	require.Equal(t, uint8(23), f.DerivedLevel().Value())
}

func TestProcessOfferIgnoresLeafLevel(t *testing.T) {
	f := New(rift.UndefinedLevel)
	f.Enqueue(Event{Kind: EvNeighborOffer, Offer: rift.Offer{SystemID: 3, Level: rift.NewLevel(rift.LeafLevel)}})
	f.Step()
	require.False(t, f.HAL().Defined())
}

func TestHALComputedFromNonThreeWayOffers(t *testing.T) {
	f := New(rift.UndefinedLevel)
	f.Enqueue(Event{Kind: EvNeighborOffer, Offer: rift.Offer{SystemID: 5, Level: rift.NewLevel(20), ThreeWay: false}})
	fb := f.Step()
	require.Equal(t, uint8(20), f.HAL().Value())
	require.False(t, f.HAT().Defined())
	require.NotEmpty(t, fb)
}
