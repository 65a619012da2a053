package packet

import "github.com/rift/core/internal/rift"

// Neighbor is the LIE body's optional reflected-neighbor field (spec §6):
// "neighbor {originator: SystemID, remote_id: local-link-id}?".
type Neighbor struct {
	Originator rift.SystemID
	RemoteID   uint32
}

// NodeCapabilities mirrors spec §6's node_capabilities sub-structure.
type NodeCapabilities struct {
	ProtocolMinorVersion            uint8
	FloodReduction                  *bool
	HierarchyIndications            *string
	AutoEVPNSupport                 *bool
	AutoFloodReflectionSupport      *bool
}

// LiePacket is the LIE body (spec §6's exhaustive field list).
type LiePacket struct {
	Name                            *string
	LocalID                         uint32
	FloodPort                       uint16
	LinkMTUSize                     uint32
	LinkBandwidth                   *uint32
	Neighbor                        *Neighbor
	Pod                             *uint32
	NodeCapabilities                NodeCapabilities
	LinkCapabilities                *string
	Holdtime                        uint16
	Label                           *string
	NotAZTPOffer                    *bool
	YouAreFloodRepeater             *bool
	YouAreSendingTooQuickly         *bool
	InstanceName                    *string
	FabricID                        *uint32
	AutoEVPNVersion                 *uint32
	AutoFloodReflectionVersion      *uint32
	AutoFloodReflectionClusterID    *uint32
}

func encodeLie(w *writer, l LiePacket) {
	w.optionalStr(l.Name)
	w.u32(l.LocalID)
	w.u16(l.FloodPort)
	w.u32(l.LinkMTUSize)
	w.optionalU32(l.LinkBandwidth)
	if l.Neighbor == nil {
		w.bool(false)
	} else {
		w.bool(true)
		w.u64(uint64(l.Neighbor.Originator))
		w.u32(l.Neighbor.RemoteID)
	}
	w.optionalU32(l.Pod)

	w.byte(l.NodeCapabilities.ProtocolMinorVersion)
	w.optionalBool(l.NodeCapabilities.FloodReduction)
	w.optionalStr(l.NodeCapabilities.HierarchyIndications)
	w.optionalBool(l.NodeCapabilities.AutoEVPNSupport)
	w.optionalBool(l.NodeCapabilities.AutoFloodReflectionSupport)

	w.optionalStr(l.LinkCapabilities)
	w.u16(l.Holdtime)
	w.optionalStr(l.Label)
	w.optionalBool(l.NotAZTPOffer)
	w.optionalBool(l.YouAreFloodRepeater)
	w.optionalBool(l.YouAreSendingTooQuickly)
	w.optionalStr(l.InstanceName)
	w.optionalU32(l.FabricID)
	w.optionalU32(l.AutoEVPNVersion)
	w.optionalU32(l.AutoFloodReflectionVersion)
	w.optionalU32(l.AutoFloodReflectionClusterID)
}

func decodeLie(r *reader) LiePacket {
	var l LiePacket
	l.Name = r.optionalStr()
	l.LocalID = r.u32()
	l.FloodPort = r.u16()
	l.LinkMTUSize = r.u32()
	l.LinkBandwidth = r.optionalU32()
	if r.bool() {
		l.Neighbor = &Neighbor{
			Originator: rift.SystemID(r.u64()),
			RemoteID:   r.u32(),
		}
	}
	l.Pod = r.optionalU32()

	l.NodeCapabilities.ProtocolMinorVersion = r.byte()
	l.NodeCapabilities.FloodReduction = r.optionalBool()
	l.NodeCapabilities.HierarchyIndications = r.optionalStr()
	l.NodeCapabilities.AutoEVPNSupport = r.optionalBool()
	l.NodeCapabilities.AutoFloodReflectionSupport = r.optionalBool()

	l.LinkCapabilities = r.optionalStr()
	l.Holdtime = r.u16()
	l.Label = r.optionalStr()
	l.NotAZTPOffer = r.optionalBool()
	l.YouAreFloodRepeater = r.optionalBool()
	l.YouAreSendingTooQuickly = r.optionalBool()
	l.InstanceName = r.optionalStr()
	l.FabricID = r.optionalU32()
	l.AutoEVPNVersion = r.optionalU32()
	l.AutoFloodReflectionVersion = r.optionalU32()
	l.AutoFloodReflectionClusterID = r.optionalU32()
	return l
}
