package heap

import (
	"encoding/binary"
	"fmt"
)

// Memory is the backing store for the managed heap: a single anonymous
// mapping addressed from Start() to End().
type Memory struct {
	start Address
	data  []byte
}

// NewMemory maps size bytes (rounded up to whole chunks) starting at the
// given chunk-aligned address.
func NewMemory(start Address, size uintptr) (*Memory, error) {
	if !start.IsAligned(BytesInChunk) {
		return nil, fmt.Errorf("heap: start %s is not chunk aligned", start)
	}
	size = AlignUp(size, BytesInChunk)
	if size == 0 {
		return nil, fmt.Errorf("heap: empty heap")
	}
	data, err := MapAnonymous(size)
	if err != nil {
		return nil, err
	}
	return &Memory{start: start, data: data}, nil
}

// Close unmaps the heap. Any Address into it is invalid afterwards.
func (m *Memory) Close() error {
	data := m.data
	m.data = nil
	return Unmap(data)
}

// Start returns the first heap address.
func (m *Memory) Start() Address { return m.start }

// End returns the address one past the heap.
func (m *Memory) End() Address { return m.start.Add(uintptr(len(m.data))) }

// Size returns the heap size in bytes.
func (m *Memory) Size() uintptr { return uintptr(len(m.data)) }

// Contains reports whether a lies inside the heap.
func (m *Memory) Contains(a Address) bool {
	return a >= m.start && a < m.End()
}

func (m *Memory) offset(a Address, n uintptr) int {
	if a < m.start || a.Add(n) > m.End() {
		panic(fmt.Sprintf("heap: access [%s, +%d) outside heap [%s, %s)", a, n, m.start, m.End()))
	}
	return int(a - m.start)
}

// LoadWord reads the word at a.
func (m *Memory) LoadWord(a Address) uint64 {
	off := m.offset(a, BytesInWord)
	return binary.LittleEndian.Uint64(m.data[off:])
}

// StoreWord writes v at a.
func (m *Memory) StoreWord(a Address, v uint64) {
	off := m.offset(a, BytesInWord)
	binary.LittleEndian.PutUint64(m.data[off:], v)
}

// LoadAddress reads an address-sized field.
func (m *Memory) LoadAddress(a Address) Address {
	return Address(m.LoadWord(a))
}

// StoreAddress writes an address-sized field.
func (m *Memory) StoreAddress(a Address, v Address) {
	m.StoreWord(a, uint64(v))
}

// Zero clears n bytes starting at a.
func (m *Memory) Zero(a Address, n uintptr) {
	off := m.offset(a, n)
	clear(m.data[off : off+int(n)])
}

// Copy moves n bytes from src to dst. The ranges may overlap.
func (m *Memory) Copy(dst, src Address, n uintptr) {
	d := m.offset(dst, n)
	s := m.offset(src, n)
	copy(m.data[d:d+int(n)], m.data[s:s+int(n)])
}

// Bytes exposes n bytes at a. The slice aliases heap memory.
func (m *Memory) Bytes(a Address, n uintptr) []byte {
	off := m.offset(a, n)
	return m.data[off : off+int(n) : off+int(n)]
}

// Slot returns a slot view of the word at a.
func (m *Memory) Slot(a Address) FieldSlot {
	return FieldSlot{mem: m, addr: a}
}

// FieldSlot is a reference-holding word inside a heap object.
type FieldSlot struct {
	mem  *Memory
	addr Address
}

// Address returns where the slot lives.
func (s FieldSlot) Address() Address { return s.addr }

// Load reads the reference stored in the slot.
func (s FieldSlot) Load() Address { return s.mem.LoadAddress(s.addr) }

// Store overwrites the reference stored in the slot.
func (s FieldSlot) Store(v Address) { s.mem.StoreAddress(s.addr, v) }
