package image

import (
	"encoding/binary"

	"mvm/heap"
	"mvm/mvmerr"
	"mvm/port"
	"mvm/value"
)

// HostFunc is a host-provided function resolved from the import table,
// callable from bytecode via CALL_HOST.
type HostFunc func(args []value.Value) (value.Value, *mvmerr.Error)

// ResolveImport resolves a host_function_id from the IMPORT_TABLE to a
// concrete host function. A false second return is an unresolved-import
// error.
type ResolveImport func(hostFunctionID uint16) (HostFunc, bool)

// Restored is everything a restored image produces: the live heap, the
// parsed sections needed by the interpreter, and the resolved import
// table. interp.Restore wraps this with the activation stack and
// registers to produce a callable VM.
type Restored struct {
	Header          Header
	Bytecode        []byte
	Heap            *heap.Heap
	Globals         []value.Value
	ResolvedImports []HostFunc
	Exports         map[uint16]value.Value
	ShortCalls      []ShortCallEntry
}

// Restore implements restore: validates the header, runs
// the port macro self-test, resolves imports, and loads GLOBALS/HEAP.
func Restore(bytecode []byte, cfg port.Config, resolve ResolveImport) (*Restored, *mvmerr.Error) {
	cfg = port.Normalize(cfg)

	h, err := ParseHeader(bytecode, cfg)
	if err != nil {
		return nil, err
	}
	if !port.SelfTest() {
		return nil, mvmerr.New(mvmerr.PortFileMacroTestFailure)
	}

	imports := ImportTable(h.SectionBytes(bytecode, SecImportTable))
	resolved := make([]HostFunc, len(imports))
	for i, id := range imports {
		fn, ok := resolve(id)
		if !ok {
			return nil, mvmerr.New(mvmerr.UnresolvedImport)
		}
		resolved[i] = fn
	}

	exports := ExportTable(h.SectionBytes(bytecode, SecExportTable))
	shortCalls := ShortCallTable(h.SectionBytes(bytecode, SecShortCallTable))
	builtinsRaw := Builtins(h.SectionBytes(bytecode, SecBuiltins))
	stringTable := StringTable(h.SectionBytes(bytecode, SecStringTable))

	globalsSection := h.SectionBytes(bytecode, SecGlobals)
	globals := make([]value.Value, len(globalsSection)/2)
	for i := range globals {
		globals[i] = value.Value(binary.LittleEndian.Uint16(globalsSection[i*2 : i*2+2]))
	}

	hp := heap.New(cfg)
	romOffset := int(h.SectionOffsets[SecROM])
	romEnd := int(h.SectionOffsets[SecROM+1])
	globalsOffset := int(h.SectionOffsets[SecGlobals])
	globalsEnd := int(h.SectionOffsets[SecGlobals+1])
	hp.SetImageContext(bytecode, romOffset, romEnd, globalsOffset, globalsEnd)
	hp.SetGlobals(globals)
	hp.SetStringTable(stringTable)
	for i, v := range builtinsRaw {
		if i < heap.BuiltinCount {
			hp.SetBuiltin(heap.Builtin(i), v)
		}
	}

	heapSection := h.SectionBytes(bytecode, SecHeap)
	if len(heapSection) > 0 {
		hp.LoadHeap(heapSection)
	}

	return &Restored{
		Header:          h,
		Bytecode:        bytecode,
		Heap:            hp,
		Globals:         globals,
		ResolvedImports: resolved,
		Exports:         exports,
		ShortCalls:      shortCalls,
	}, nil
}
