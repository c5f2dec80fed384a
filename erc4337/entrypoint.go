package erc4337

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/samber/lo"
)

// EntryPointVersion tags the on-chain EntryPoint ABI generation a UserOperation targets.
type EntryPointVersion string

const (
	EntryPointVersion06 EntryPointVersion = "0.6"
	EntryPointVersion07 EntryPointVersion = "0.7"
)

var (
	EntryPointV06Address = common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")
	EntryPointV07Address = common.HexToAddress("0x0000000071727De22E5E9d8BAf0edAc6f37da032")
)

var (
	EntryPointV06 = EntryPoint{Address: EntryPointV06Address, Version: EntryPointVersion06}
	EntryPointV07 = EntryPoint{Address: EntryPointV07Address, Version: EntryPointVersion07}
)

// EntryPoint describes one EntryPoint deployment. It is a value type and never mutated.
type EntryPoint struct {
	Address common.Address    `json:"address"`
	Version EntryPointVersion `json:"version"`
}

func (ep EntryPoint) String() string {
	return fmt.Sprintf("%s@v%s", ep.Address.Hex(), ep.Version)
}

// ParseEntryPointVersion validates an explicit version tag.
func ParseEntryPointVersion(s string) (EntryPointVersion, error) {
	switch v := EntryPointVersion(s); v {
	case EntryPointVersion06, EntryPointVersion07:
		return v, nil
	default:
		return "", &ConfigError{Msg: fmt.Sprintf("unsupported entry point version %q", s)}
	}
}

// NewEntryPoint builds a descriptor for a custom deployment with an explicit version.
func NewEntryPoint(address common.Address, version string) (EntryPoint, error) {
	v, err := ParseEntryPointVersion(version)
	if err != nil {
		return EntryPoint{}, err
	}
	return EntryPoint{Address: address, Version: v}, nil
}

// EntryPointResolver maps deployment addresses to versions. Unknown addresses are
// configuration errors, there is no fallback version.
type EntryPointResolver struct {
	mu    sync.RWMutex
	known map[common.Address]EntryPointVersion
}

func NewEntryPointResolver() *EntryPointResolver {
	return &EntryPointResolver{
		known: map[common.Address]EntryPointVersion{
			EntryPointV06Address: EntryPointVersion06,
			EntryPointV07Address: EntryPointVersion07,
		},
	}
}

// Register adds a custom deployment. Re-registering an address with a different version fails.
func (r *EntryPointResolver) Register(ep EntryPoint) error {
	if _, err := ParseEntryPointVersion(string(ep.Version)); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.known[ep.Address]; ok && existing != ep.Version {
		return &ConfigError{Msg: fmt.Sprintf("entry point %s already registered as v%s", ep.Address.Hex(), existing)}
	}
	r.known[ep.Address] = ep.Version
	return nil
}

func (r *EntryPointResolver) Resolve(address common.Address) (EntryPoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	version, ok := r.known[address]
	if !ok {
		return EntryPoint{}, &ConfigError{Msg: fmt.Sprintf("unknown entry point %s", address.Hex())}
	}
	return EntryPoint{Address: address, Version: version}, nil
}

// Known lists every registered deployment address.
func (r *EntryPointResolver) Known() []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Keys(r.known)
}

var defaultResolver = NewEntryPointResolver()

// ResolveEntryPointVersion resolves one of the canonical deployments.
func ResolveEntryPointVersion(address common.Address) (EntryPointVersion, error) {
	ep, err := defaultResolver.Resolve(address)
	if err != nil {
		return "", err
	}
	return ep.Version, nil
}

// ResolveEntryPoint is ResolveEntryPointVersion returning the full descriptor.
func ResolveEntryPoint(address common.Address) (EntryPoint, error) {
	return defaultResolver.Resolve(address)
}
