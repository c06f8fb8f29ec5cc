package artifact

import (
	"bytes"
	"encoding/binary"

	"github.com/wippyai/wasm-bootstrap/errors"
)

var magic = []byte{0x00, 0x61, 0x73, 0x6D}

// coreVersion is the binary format version of core modules. Component
// Model binaries use a larger version word.
const coreVersion = 1

// IsComponent reports whether data carries a component-layer header.
func IsComponent(data []byte) bool {
	if len(data) < 8 || !bytes.Equal(data[:4], magic) {
		return false
	}
	return binary.LittleEndian.Uint32(data[4:8]) > coreVersion
}

// Validate checks the preamble of a core wasm module.
func Validate(data []byte) error {
	if len(data) < 8 {
		return errors.New(errors.PhaseValidate, errors.KindInvalidData).
			Value(len(data)).
			Detail("binary too short: %d bytes", len(data)).
			Build()
	}
	if !bytes.Equal(data[:4], magic) {
		return errors.New(errors.PhaseValidate, errors.KindInvalidData).
			Value(data[:4]).
			Detail("bad magic %x", data[:4]).
			Build()
	}
	if IsComponent(data) {
		return errors.Unsupported(errors.PhaseValidate, "component binaries; expected a core module")
	}
	if v := binary.LittleEndian.Uint32(data[4:8]); v != coreVersion {
		return errors.New(errors.PhaseValidate, errors.KindUnsupported).
			Value(v).
			Detail("binary version %d", v).
			Build()
	}
	return nil
}
