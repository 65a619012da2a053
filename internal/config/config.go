// Package config is the node's declarative topology-configuration surface
// (spec §241): one node section, a keychain section, and a set of named
// interfaces, loaded with the gcfg INI-style parser the teacher uses for
// its own ingester config files (ingest/config/loader.go) and minting a
// persisted node instance id with google/uuid the same way
// ingest/config.IngestConfig mints an Ingester-UUID on first run.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/gravwell/gcfg"

	"github.com/rift/core/internal/keychain"
	"github.com/rift/core/internal/rift"
)

var (
	ErrMissingNodeSection  = errors.New("config: [Node] section missing")
	ErrMissingSystemID     = errors.New("config: Node.System-ID is required")
	ErrInvalidLevel        = errors.New("config: invalid configured level")
	ErrInvalidRXAddress    = errors.New("config: invalid receive multicast address")
	ErrUnknownKeyReference = errors.New("config: interface references an undefined key id")
	ErrDuplicateInterface  = errors.New("config: duplicate interface name")
)

// NamedLevel mirrors spec §241's Undefined | numeric | named level surface.
type NamedLevel string

const (
	LevelLeaf         NamedLevel = "leaf"
	LevelLeafToLeaf   NamedLevel = "leaf-to-leaf"
	LevelTopOfFabric  NamedLevel = "top-of-fabric"
)

// Key is one [Key "<id>"] gcfg section, mapping onto keychain.Key.
type Key struct {
	Algorithm      string
	Secret         string
	Private_Secret string
}

// Interface is one [Interface "<name>"] gcfg section (spec §241's
// per-interface tuple).
type Interface struct {
	Bandwidth         uint32
	Metric            uint32
	TX_LIE_Port       uint16
	RX_LIE_Port       uint16
	RX_TIE_Port       uint16
	Advertise_Subnet  string
	Active_Key        uint32
	Accept_Keys       []uint32
	Link_Validation   string
	Local_Address     string
	Remote_Address    string
}

// Node is the [Node] gcfg section: the single node's identity and
// ZTP-relevant configured level.
type Node struct {
	Name              string
	Passive            bool
	Configured_Level   string // "", "undefined", a number, or a NamedLevel
	System_ID          uint64
	RX_Multicast_IPv4  string
	RX_Multicast_IPv6  string
	Instance_File      string
}

// File is the top-level gcfg document: [Node], [Key "id"]*, [Interface
// "name"]*.
type File struct {
	Node      Node
	Key       map[string]*Key
	Interface map[string]*Interface
}

// Config is the validated, typed configuration the node driver consumes.
type Config struct {
	Name             string
	Passive          bool
	ConfiguredLevel  rift.Level
	SystemID         rift.SystemID
	InstanceID       uuid.UUID
	RXMulticastIPv4  net.IP
	RXMulticastIPv6  net.IP
	Keys             []keychain.Key
	Interfaces       map[string]InterfaceConfig
}

// InterfaceConfig is a validated [Interface] section.
type InterfaceConfig struct {
	Name            string
	Bandwidth       *uint32
	Metric          *uint32
	TXLIEPort       uint16
	RXLIEPort       uint16
	RXTIEPort       uint16
	AdvertiseSubnet string
	ActiveKey       rift.KeyID
	AcceptKeys      map[uint32]bool
	LinkValidation  string
	LocalAddress    string
	RemoteAddress   string
}

// Load reads and validates a gcfg-format topology file from p, minting and
// persisting a node instance UUID on first run the way
// ingest/config.IngestConfig.SetIngesterUUID does.
func Load(p string) (*Config, error) {
	var f File
	if err := gcfg.ReadFileInto(&f, p); err != nil {
		return nil, err
	}
	return validate(&f, p)
}

// LoadBytes parses raw config bytes, for tests.
func LoadBytes(b []byte) (*Config, error) {
	var f File
	if err := gcfg.ReadStringInto(&f, string(b)); err != nil {
		return nil, err
	}
	return validate(&f, "")
}

func validate(f *File, path string) (*Config, error) {
	if f.Node.Name == "" && f.Node.System_ID == 0 {
		return nil, ErrMissingNodeSection
	}
	if f.Node.System_ID == 0 {
		return nil, ErrMissingSystemID
	}

	lvl, err := parseLevel(f.Node.Configured_Level)
	if err != nil {
		return nil, err
	}

	id, err := instanceID(f.Node.Instance_File, path)
	if err != nil {
		return nil, err
	}

	var v4, v6 net.IP
	if f.Node.RX_Multicast_IPv4 != "" {
		if v4 = net.ParseIP(f.Node.RX_Multicast_IPv4); v4 == nil || v4.To4() == nil {
			return nil, ErrInvalidRXAddress
		}
	}
	if f.Node.RX_Multicast_IPv6 != "" {
		if v6 = net.ParseIP(f.Node.RX_Multicast_IPv6); v6 == nil {
			return nil, ErrInvalidRXAddress
		}
	}

	keys := make([]keychain.Key, 0, len(f.Key))
	keyIDs := make(map[uint32]bool, len(f.Key))
	for idStr, k := range f.Key {
		kid, err := parseKeyID(idStr)
		if err != nil {
			return nil, err
		}
		alg, err := parseAlgorithm(k.Algorithm)
		if err != nil {
			return nil, err
		}
		keys = append(keys, keychain.Key{
			ID:            rift.NewKeyID(kid),
			Algorithm:     alg,
			Secret:        []byte(k.Secret),
			PrivateSecret: []byte(k.Private_Secret),
		})
		keyIDs[kid] = true
	}

	ifaces := make(map[string]InterfaceConfig, len(f.Interface))
	for name, raw := range f.Interface {
		ic, err := validateInterface(name, raw, keyIDs)
		if err != nil {
			return nil, err
		}
		ifaces[name] = ic
	}

	return &Config{
		Name:            f.Node.Name,
		Passive:         f.Node.Passive,
		ConfiguredLevel: lvl,
		SystemID:        rift.SystemID(f.Node.System_ID),
		InstanceID:      id,
		RXMulticastIPv4: v4,
		RXMulticastIPv6: v6,
		Keys:            keys,
		Interfaces:      ifaces,
	}, nil
}

func validateInterface(name string, raw *Interface, keyIDs map[uint32]bool) (InterfaceConfig, error) {
	ic := InterfaceConfig{
		Name:            name,
		TXLIEPort:       raw.TX_LIE_Port,
		RXLIEPort:       raw.RX_LIE_Port,
		RXTIEPort:       raw.RX_TIE_Port,
		AdvertiseSubnet: raw.Advertise_Subnet,
		LinkValidation:  raw.Link_Validation,
		LocalAddress:    raw.Local_Address,
		RemoteAddress:   raw.Remote_Address,
		AcceptKeys:      map[uint32]bool{},
	}
	if raw.Bandwidth != 0 {
		bw := raw.Bandwidth
		ic.Bandwidth = &bw
	}
	if raw.Metric != 0 {
		m := raw.Metric
		ic.Metric = &m
	}
	if raw.Active_Key != 0 {
		if !keyIDs[raw.Active_Key] {
			return InterfaceConfig{}, fmt.Errorf("%w: %d", ErrUnknownKeyReference, raw.Active_Key)
		}
		ic.ActiveKey = rift.NewKeyID(raw.Active_Key)
	}
	for _, k := range raw.Accept_Keys {
		if !keyIDs[k] {
			return InterfaceConfig{}, fmt.Errorf("%w: %d", ErrUnknownKeyReference, k)
		}
		ic.AcceptKeys[k] = true
	}
	return ic, nil
}

func parseLevel(s string) (rift.Level, error) {
	s = strings.TrimSpace(s)
	switch NamedLevel(strings.ToLower(s)) {
	case "":
		return rift.UndefinedLevel, nil
	case "undefined":
		return rift.UndefinedLevel, nil
	case LevelLeaf:
		return rift.NewLevel(rift.LeafLevel), nil
	case LevelLeafToLeaf:
		return rift.NewLevel(rift.LeafLevel), nil
	case LevelTopOfFabric:
		return rift.NewLevel(rift.TopOfFabricLevel), nil
	}
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil || n < 0 || n > int(rift.MaxLevel) {
		return rift.UndefinedLevel, ErrInvalidLevel
	}
	return rift.NewLevel(uint8(n)), nil
}

func parseKeyID(s string) (uint32, error) {
	var v uint32
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return 0, fmt.Errorf("config: invalid key id %q: %w", s, err)
	}
	return v, nil
}

func parseAlgorithm(s string) (keychain.Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return keychain.AlgorithmNone, nil
	case "sha-256", "sha256", "hmac-sha256":
		return keychain.AlgorithmSHA256, nil
	}
	return 0, keychain.ErrUnsupportedAlgorithm
}

// instanceID loads a previously persisted node instance id from
// instanceFile, minting and writing one on first run, mirroring
// ingest/config.IngestConfig's Ingester-UUID lifecycle.
func instanceID(instanceFile, configPath string) (uuid.UUID, error) {
	if instanceFile == "" {
		if configPath == "" {
			return uuid.New(), nil
		}
		instanceFile = configPath + ".instance-id"
	}
	if b, err := os.ReadFile(instanceFile); err == nil {
		if id, err := uuid.Parse(strings.TrimSpace(string(b))); err == nil {
			return id, nil
		}
	}
	id := uuid.New()
	_ = os.WriteFile(instanceFile, []byte(id.String()+"\n"), 0o600)
	return id, nil
}
