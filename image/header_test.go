package image

import (
	"encoding/binary"
	"testing"

	"mvm/mvmerr"
	"mvm/port"
)

// buildImage assembles a minimal, CRC-correct bytecode image: a MinHeaderSize
// header with all eight sections empty and contiguous, immediately following
// the header.
func buildImage(t *testing.T, mutate func(b []byte)) []byte {
	t.Helper()
	total := MinHeaderSize
	b := make([]byte, total)
	b[offVersion] = EngineVersion
	b[offHeaderSize] = MinHeaderSize
	b[offRequiredEng] = EngineVersion
	binary.LittleEndian.PutUint16(b[offTotalSize:], uint16(total))
	for i := 0; i < int(sectionCount); i++ {
		binary.LittleEndian.PutUint16(b[offSectionOffset+i*2:], uint16(MinHeaderSize))
	}
	if mutate != nil {
		mutate(b)
		binary.LittleEndian.PutUint16(b[offTotalSize:], uint16(len(b)))
	}
	crc := port.CRC16(b[8:len(b)])
	binary.LittleEndian.PutUint16(b[offCRC:], crc)
	return b
}

func TestParseHeaderValid(t *testing.T) {
	b := buildImage(t, nil)
	h, err := ParseHeader(b, port.Normalize(port.Config{}))
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.Version != EngineVersion {
		t.Fatalf("Version = %d, want %d", h.Version, EngineVersion)
	}
	if int(h.TotalSize) != len(b) {
		t.Fatalf("TotalSize = %d, want %d", h.TotalSize, len(b))
	}
}

func TestParseHeaderRejectsTruncatedInput(t *testing.T) {
	_, err := ParseHeader(make([]byte, MinHeaderSize-1), port.Normalize(port.Config{}))
	if err == nil || mvmerr.CodeOf(err) != mvmerr.InvalidBytecode {
		t.Fatalf("ParseHeader(truncated) = %v, want InvalidBytecode", err)
	}
}

func TestParseHeaderRejectsCorruptedCRC(t *testing.T) {
	b := buildImage(t, nil)
	b[offCRC] ^= 0xFF
	_, err := ParseHeader(b, port.Normalize(port.Config{}))
	if err == nil || mvmerr.CodeOf(err) != mvmerr.BytecodeCRCFail {
		t.Fatalf("ParseHeader(corrupted CRC) = %v, want BytecodeCRCFail", err)
	}
}

func TestParseHeaderRejectsFutureEngineVersion(t *testing.T) {
	b := buildImage(t, func(b []byte) { b[offRequiredEng] = EngineVersion + 1 })
	_, err := ParseHeader(b, port.Normalize(port.Config{}))
	if err == nil || mvmerr.CodeOf(err) != mvmerr.RequiresLaterEngine {
		t.Fatalf("ParseHeader(future engine) = %v, want RequiresLaterEngine", err)
	}
}

func TestParseHeaderRejectsMismatchedTotalSize(t *testing.T) {
	b := buildImage(t, nil)
	binary.LittleEndian.PutUint16(b[offTotalSize:], uint16(len(b)+1))
	// Recompute CRC over the now-inconsistent TotalSize field so this test
	// exercises the length check specifically, not CRC failure.
	crc := port.CRC16(b[8:len(b)])
	binary.LittleEndian.PutUint16(b[offCRC:], crc)
	_, err := ParseHeader(b, port.Normalize(port.Config{}))
	if err == nil || mvmerr.CodeOf(err) != mvmerr.InvalidBytecode {
		t.Fatalf("ParseHeader(mismatched TotalSize) = %v, want InvalidBytecode", err)
	}
}

func TestParseHeaderRequiresFloatSupport(t *testing.T) {
	b := buildImage(t, func(b []byte) {
		binary.LittleEndian.PutUint32(b[offFeatures:], 1)
	})
	_, err := ParseHeader(b, port.Normalize(port.Config{FloatSupport: false}))
	if err == nil || mvmerr.CodeOf(err) != mvmerr.BytecodeRequiresFloatSupport {
		t.Fatalf("ParseHeader(float required, unsupported) = %v, want BytecodeRequiresFloatSupport", err)
	}

	_, err = ParseHeader(b, port.Normalize(port.Config{FloatSupport: true}))
	if err != nil {
		t.Fatalf("ParseHeader(float required, supported): %v", err)
	}
}

func TestSectionBytesSpansToNextSectionOrEnd(t *testing.T) {
	total := MinHeaderSize + 10
	b := make([]byte, total)
	b[offVersion] = EngineVersion
	b[offHeaderSize] = MinHeaderSize
	b[offRequiredEng] = EngineVersion
	binary.LittleEndian.PutUint16(b[offTotalSize:], uint16(total))
	for i := 0; i < int(sectionCount); i++ {
		binary.LittleEndian.PutUint16(b[offSectionOffset+i*2:], uint16(MinHeaderSize))
	}
	crc := port.CRC16(b[8:total])
	binary.LittleEndian.PutUint16(b[offCRC:], crc)

	h, err := ParseHeader(b, port.Normalize(port.Config{}))
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	got := h.SectionBytes(b, SecHeap)
	if len(got) != 10 {
		t.Fatalf("SecHeap section length = %d, want 10 (spans to TotalSize)", len(got))
	}
}
