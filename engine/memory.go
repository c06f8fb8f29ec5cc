package engine

import (
	"github.com/tetratelabs/wazero/api"

	wasmboot "github.com/wippyai/wasm-bootstrap"
	"github.com/wippyai/wasm-bootstrap/errors"
)

var (
	_ wasmboot.Memory      = (*Memory)(nil)
	_ wasmboot.MemorySizer = (*Memory)(nil)
)

// Memory is the guest's linear memory. Multi-byte values are little-endian,
// and accesses past the current size fail with an invalid_input error
// carrying the offset.
type Memory struct {
	mem api.Memory
}

func (m *Memory) Read(offset, length uint32) ([]byte, error) {
	data, ok := m.mem.Read(offset, length)
	return data, m.check(ok, "read", offset, uint64(length))
}

func (m *Memory) Write(offset uint32, data []byte) error {
	return m.check(m.mem.Write(offset, data), "write", offset, uint64(len(data)))
}

func (m *Memory) ReadU32(offset uint32) (uint32, error) {
	v, ok := m.mem.ReadUint32Le(offset)
	return v, m.check(ok, "read", offset, 4)
}

func (m *Memory) ReadU64(offset uint32) (uint64, error) {
	v, ok := m.mem.ReadUint64Le(offset)
	return v, m.check(ok, "read", offset, 8)
}

func (m *Memory) WriteU32(offset, value uint32) error {
	return m.check(m.mem.WriteUint32Le(offset, value), "write", offset, 4)
}

func (m *Memory) WriteU64(offset uint32, value uint64) error {
	return m.check(m.mem.WriteUint64Le(offset, value), "write", offset, 8)
}

// Size returns the current size in bytes.
func (m *Memory) Size() uint32 {
	if m.mem == nil {
		return 0
	}
	return m.mem.Size()
}

func (m *Memory) check(ok bool, op string, offset uint32, n uint64) error {
	if ok {
		return nil
	}
	return errors.New(errors.PhaseRun, errors.KindInvalidInput).
		Value(offset).
		Detail("%s of %d bytes at offset %d exceeds guest memory of %d bytes", op, n, offset, m.Size()).
		Build()
}
