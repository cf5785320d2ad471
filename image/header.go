// Package image implements Microvium's bytecode image format: header
// parsing, section layout, restore, and snapshot, using the same
// little-endian, fixed-order section-table layout as ELF-style binary
// formats (an offset table followed by fixed-order sections).
package image

import (
	"encoding/binary"

	"mvm/mvmerr"
	"mvm/port"
)

// EngineVersion is the bytecode version this port understands, and the
// value it stamps into RequiredEngineVersion checks.
const EngineVersion = 1

// Section indexes a bytecode image's fixed-order section table.
type Section int

const (
	SecImportTable Section = iota
	SecExportTable
	SecShortCallTable
	SecBuiltins
	SecStringTable
	SecROM
	SecGlobals
	SecHeap
	sectionCount
)

// MinHeaderSize is the minimum header length a valid image requires; the
// fixed fields below occupy the first 28 bytes, with the remaining 4
// reserved for forward-compatible header extensions.
const MinHeaderSize = 32

const (
	offVersion       = 0
	offHeaderSize    = 1
	offRequiredEng   = 2
	offReserved      = 3
	offTotalSize     = 4
	offCRC           = 6
	offFeatures      = 8
	offSectionOffset = 12
)

// Header is the parsed fixed-order header of 
type Header struct {
	Version               byte
	HeaderSize             byte
	RequiredEngineVersion  byte
	TotalSize              uint16
	CRC                    uint16
	RequiredFeatures       uint32
	SectionOffsets         [sectionCount]uint16
}

// RequiresFloatSupport reports whether bit 0 of RequiredFeatures (float
// support required) is set.
func (h Header) RequiresFloatSupport() bool { return h.RequiredFeatures&1 != 0 }

// ParseHeader validates and decodes bytecode's fixed header: size, CRC,
// version, and required feature flags.
func ParseHeader(bytecode []byte, cfg port.Config) (Header, *mvmerr.Error) {
	if len(bytecode) < MinHeaderSize {
		return Header{}, mvmerr.New(mvmerr.InvalidBytecode)
	}

	var h Header
	h.Version = bytecode[offVersion]
	h.HeaderSize = bytecode[offHeaderSize]
	h.RequiredEngineVersion = bytecode[offRequiredEng]
	reserved := bytecode[offReserved]
	h.TotalSize = binary.LittleEndian.Uint16(bytecode[offTotalSize : offTotalSize+2])
	h.CRC = binary.LittleEndian.Uint16(bytecode[offCRC : offCRC+2])
	h.RequiredFeatures = binary.LittleEndian.Uint32(bytecode[offFeatures : offFeatures+4])

	if reserved != 0 {
		return Header{}, mvmerr.New(mvmerr.InvalidBytecode)
	}
	if int(h.TotalSize) != len(bytecode) {
		return Header{}, mvmerr.New(mvmerr.InvalidBytecode)
	}
	if h.Version != EngineVersion {
		return Header{}, mvmerr.New(mvmerr.InvalidBytecode)
	}
	if h.RequiredEngineVersion > EngineVersion {
		return Header{}, mvmerr.New(mvmerr.RequiresLaterEngine)
	}

	computed := port.CRC16(bytecode[8:h.TotalSize])
	if computed != h.CRC {
		return Header{}, mvmerr.New(mvmerr.BytecodeCRCFail)
	}

	if h.RequiresFloatSupport() && !cfg.FloatSupport {
		return Header{}, mvmerr.New(mvmerr.BytecodeRequiresFloatSupport)
	}

	for i := 0; i < int(sectionCount); i++ {
		off := offSectionOffset + i*2
		h.SectionOffsets[i] = binary.LittleEndian.Uint16(bytecode[off : off+2])
	}
	return h, nil
}

// SectionBytes returns the byte range of section s: from its offset to the
// next section's offset, or TotalSize for the last section.
func (h Header) SectionBytes(bytecode []byte, s Section) []byte {
	start := h.SectionOffsets[s]
	var end uint16
	if int(s)+1 < int(sectionCount) {
		end = h.SectionOffsets[s+1]
	} else {
		end = h.TotalSize
	}
	return bytecode[start:end]
}
