package image

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"mvm/mvmerr"
	"mvm/port"
	"mvm/value"
)

// buildRestorableImage assembles a header with a one-entry IMPORT_TABLE, a
// one-entry EXPORT_TABLE (export id 0, value 0), one global, and an
// otherwise empty heap/builtins/string table/short-call table.
func buildRestorableImage(t *testing.T) []byte {
	t.Helper()

	importTable := []byte{0x00, 0x00} // host_function_id 0
	exportTable := []byte{0x00, 0x00, 0x00, 0x00}
	globals := []byte{0x34, 0x12} // one global, arbitrary bit pattern

	off := MinHeaderSize
	offsets := map[Section]int{}
	sectionsInOrder := []struct {
		sec   Section
		bytes []byte
	}{
		{SecImportTable, importTable},
		{SecExportTable, exportTable},
		{SecShortCallTable, nil},
		{SecBuiltins, nil},
		{SecStringTable, nil},
		{SecROM, nil},
		{SecGlobals, globals},
		{SecHeap, nil},
	}
	for _, s := range sectionsInOrder {
		offsets[s.sec] = off
		off += len(s.bytes)
	}
	total := off

	b := make([]byte, total)
	b[offVersion] = EngineVersion
	b[offHeaderSize] = MinHeaderSize
	b[offRequiredEng] = EngineVersion
	binary.LittleEndian.PutUint16(b[offTotalSize:], uint16(total))
	for _, s := range sectionsInOrder {
		copy(b[offsets[s.sec]:], s.bytes)
	}
	for i := 0; i < int(sectionCount); i++ {
		binary.LittleEndian.PutUint16(b[offSectionOffset+i*2:], uint16(offsets[Section(i)]))
	}
	crc := port.CRC16(b[8:total])
	binary.LittleEndian.PutUint16(b[offCRC:], crc)
	return b
}

func TestRestoreResolvesImportsAndLoadsGlobals(t *testing.T) {
	b := buildRestorableImage(t)
	resolve := func(id uint16) (HostFunc, bool) {
		if id != 0 {
			return nil, false
		}
		return func(args []value.Value) (value.Value, *mvmerr.Error) {
			return value.Int14(1), nil
		}, true
	}

	r, err := Restore(b, port.Normalize(port.Config{}), resolve)
	require.Nil(t, err)
	require.Len(t, r.ResolvedImports, 1)
	res, herr := r.ResolvedImports[0](nil)
	require.Nil(t, herr)
	require.Equal(t, value.Int14(1), res)
	require.Equal(t, []value.Value{value.Value(0x1234)}, r.Globals)
	v, ok := r.Exports[0]
	require.True(t, ok)
	require.Equal(t, value.Value(0), v)
}

func TestRestoreFailsOnUnresolvedImport(t *testing.T) {
	b := buildRestorableImage(t)
	resolve := func(id uint16) (HostFunc, bool) { return nil, false }

	_, err := Restore(b, port.Normalize(port.Config{}), resolve)
	if err == nil || mvmerr.CodeOf(err) != mvmerr.UnresolvedImport {
		t.Fatalf("Restore with unresolvable import = %v, want UnresolvedImport", err)
	}
}

func TestSnapshotRoundTripsThroughRestore(t *testing.T) {
	b := buildRestorableImage(t)
	resolve := func(id uint16) (HostFunc, bool) {
		return func(args []value.Value) (value.Value, *mvmerr.Error) { return value.Undefined, nil }, true
	}
	r, err := Restore(b, port.Normalize(port.Config{}), resolve)
	require.Nil(t, err)

	snap, serr := CreateSnapshot(r)
	require.Nil(t, serr)

	r2, err := Restore(snap, port.Normalize(port.Config{}), resolve)
	require.Nil(t, err)
	require.Equal(t, []value.Value{value.Value(0x1234)}, r2.Globals)
}
