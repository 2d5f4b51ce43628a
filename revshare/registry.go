package revshare

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"
)

const (
	registryVersion    = 1
	registryHeaderSize = 13 // version(1) + total_shares(8) + num_entries(4)
	registryEntrySize  = 28 // address(20) + share(8)
)

// RevShareEntry is one beneficiary and its share weight.
type RevShareEntry struct {
	Address Address // P2PKH address hash
	Share   uint64  // Number of shares held
}

// Registry is the immutable set of beneficiaries and their share weights.
// Entries keep insertion order for indexed lookup; index maps an address
// to its position in entries.
type Registry struct {
	entries     []RevShareEntry
	index       map[Address]int
	totalShares uint64
}

// NewRegistry validates entries and builds a registry. Either the whole
// registry is built or nil is returned with the first validation error.
func NewRegistry(entries []RevShareEntry) (*Registry, error) {
	if len(entries) == 0 {
		return nil, ErrNoEntries
	}

	r := &Registry{
		entries: make([]RevShareEntry, len(entries)),
		index:   make(map[Address]int, len(entries)),
	}
	for i, e := range entries {
		if e.Address.IsZero() {
			return nil, fmt.Errorf("%w: entry %d has zero address", ErrInvalidAddress, i)
		}
		if e.Share == 0 {
			return nil, fmt.Errorf("%w: entry %d (%s)", ErrZeroShares, i, e.Address)
		}
		if prev, dup := r.index[e.Address]; dup {
			return nil, fmt.Errorf("%w: %s at entries %d and %d", ErrDuplicateBeneficiary, e.Address, prev, i)
		}
		sum, carry := bits.Add64(r.totalShares, e.Share, 0)
		if carry != 0 {
			return nil, fmt.Errorf("%w: at entry %d", ErrShareOverflow, i)
		}
		r.totalShares = sum
		r.entries[i] = e
		r.index[e.Address] = i
	}
	return r, nil
}

// NewRegistryFromLists builds a registry from parallel address and share lists.
func NewRegistryFromLists(addrs []Address, shares []uint64) (*Registry, error) {
	if len(addrs) != len(shares) {
		return nil, fmt.Errorf("%w: %d addresses, %d shares", ErrLengthMismatch, len(addrs), len(shares))
	}
	entries := make([]RevShareEntry, len(addrs))
	for i := range addrs {
		entries[i] = RevShareEntry{Address: addrs[i], Share: shares[i]}
	}
	return NewRegistry(entries)
}

// TotalShares returns the sum of all share weights.
func (r *Registry) TotalShares() uint64 { return r.totalShares }

// Len returns the number of beneficiaries.
func (r *Registry) Len() int { return len(r.entries) }

// SharesOf returns the weight of addr, or 0 if it is not registered.
func (r *Registry) SharesOf(addr Address) uint64 {
	i, ok := r.index[addr]
	if !ok {
		return 0
	}
	return r.entries[i].Share
}

// FindEntry returns the position of addr, or -1 if not registered.
func (r *Registry) FindEntry(addr Address) int {
	i, ok := r.index[addr]
	if !ok {
		return -1
	}
	return i
}

// BeneficiaryAt returns the address registered at position i.
func (r *Registry) BeneficiaryAt(i int) (Address, error) {
	if i < 0 || i >= len(r.entries) {
		return Address{}, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, i, len(r.entries))
	}
	return r.entries[i].Address, nil
}

// Entries returns a copy of the registry entries in insertion order.
func (r *Registry) Entries() []RevShareEntry {
	out := make([]RevShareEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// SerializeRegistry encodes a registry to binary format.
func SerializeRegistry(r *Registry) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: registry", ErrNilParam)
	}
	if len(r.entries) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d entries", ErrTooManyEntries, len(r.entries))
	}
	buf := make([]byte, registryHeaderSize+registryEntrySize*len(r.entries))
	buf[0] = registryVersion
	binary.BigEndian.PutUint64(buf[1:9], r.totalShares)
	binary.BigEndian.PutUint32(buf[9:13], uint32(len(r.entries)))

	offset := registryHeaderSize
	for _, e := range r.entries {
		copy(buf[offset:offset+AddressSize], e.Address[:])
		offset += AddressSize
		binary.BigEndian.PutUint64(buf[offset:offset+8], e.Share)
		offset += 8
	}
	return buf, nil
}

// DeserializeRegistry decodes binary data into a registry. The decoded
// entries go through the same validation as NewRegistry, and the stored
// total must match the recomputed one.
func DeserializeRegistry(data []byte) (*Registry, error) {
	if len(data) < registryHeaderSize {
		return nil, fmt.Errorf("%w: too short (%d bytes)", ErrInvalidRegistryData, len(data))
	}
	if data[0] != registryVersion {
		return nil, fmt.Errorf("%w: unknown version %d", ErrInvalidRegistryData, data[0])
	}
	total := binary.BigEndian.Uint64(data[1:9])
	numEntries := int(binary.BigEndian.Uint32(data[9:13]))

	expectedSize := registryHeaderSize + registryEntrySize*numEntries
	if len(data) != expectedSize {
		return nil, fmt.Errorf("%w: expected %d bytes for %d entries, got %d",
			ErrInvalidRegistryData, expectedSize, numEntries, len(data))
	}

	entries := make([]RevShareEntry, numEntries)
	offset := registryHeaderSize
	for i := 0; i < numEntries; i++ {
		copy(entries[i].Address[:], data[offset:offset+AddressSize])
		offset += AddressSize
		entries[i].Share = binary.BigEndian.Uint64(data[offset : offset+8])
		offset += 8
	}

	r, err := NewRegistry(entries)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRegistryData, err)
	}
	if r.totalShares != total {
		return nil, fmt.Errorf("%w: stored total %d != computed %d", ErrInvalidRegistryData, total, r.totalShares)
	}
	return r, nil
}
