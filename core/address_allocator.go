package core

import (
	"net/netip"

	"github.com/signalsfoundry/wifi-scenario/model"
)

// MaxSubnetOctet is the highest value the per-cell octet may take.
const MaxSubnetOctet = 253

// DefaultSubnetBase is the network of cell 0.
var DefaultSubnetBase = netip.MustParsePrefix("10.1.1.0/24")

// AddressAllocator hands out one /24 per cell by incrementing the third
// octet of a fixed base. The fourth octet is left to the engine.
type AddressAllocator struct {
	base netip.Prefix
}

// NewAddressAllocator returns an allocator rooted at base. Only /24 bases
// are accepted since the scheme increments the third octet.
func NewAddressAllocator(base netip.Prefix) (*AddressAllocator, error) {
	if !base.IsValid() || !base.Addr().Is4() || base.Bits() != 24 {
		return nil, configErr("subnet_base", ErrInvalidConfig, "%s is not an IPv4 /24", base)
	}
	if base.Addr().As4()[2] > MaxSubnetOctet {
		return nil, configErr("subnet_base", ErrAddressSpaceExhausted, "third octet of %s above %d", base, MaxSubnetOctet)
	}
	return &AddressAllocator{base: base.Masked()}, nil
}

// DefaultAddressAllocator allocates from DefaultSubnetBase.
func DefaultAddressAllocator() *AddressAllocator {
	return &AddressAllocator{base: DefaultSubnetBase}
}

// Capacity is the number of cells the scheme can address.
func (a *AddressAllocator) Capacity() int {
	return MaxSubnetOctet - int(a.base.Addr().As4()[2]) + 1
}

// Allocate returns the subnet of cell cellIndex. It is a pure function of
// the base and the index.
func (a *AddressAllocator) Allocate(cellIndex int) (model.SubnetDescriptor, error) {
	if cellIndex < 0 || cellIndex >= a.Capacity() {
		return model.SubnetDescriptor{}, configErr("access_points", ErrAddressSpaceExhausted,
			"cell %d outside %d available subnets from %s", cellIndex, a.Capacity(), a.base)
	}
	b := a.base.Addr().As4()
	b[2] += byte(cellIndex)
	return model.SubnetDescriptor{Prefix: netip.PrefixFrom(netip.AddrFrom4(b), a.base.Bits())}, nil
}

// AllocateN allocates subnets for cells 0..n-1, failing as a whole if the
// scheme overflows.
func (a *AddressAllocator) AllocateN(n int) ([]model.SubnetDescriptor, error) {
	if n <= 0 {
		return nil, configErr("access_points", ErrNoCells, "got %d", n)
	}
	if n > a.Capacity() {
		return nil, configErr("access_points", ErrAddressSpaceExhausted,
			"%d cells requested, %d available from %s", n, a.Capacity(), a.base)
	}
	out := make([]model.SubnetDescriptor, 0, n)
	for i := 0; i < n; i++ {
		s, err := a.Allocate(i)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
