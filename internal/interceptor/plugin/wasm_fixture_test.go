package plugin

// Hand-assembled minimal WASM modules used as plugin fixtures in tests.
// Each module declares one memory (1 page) and one zero-argument function
// returning an i32 constant, exported under whatever names the caller
// asks for (all aliasing the same function body).

func uleb128(n uint32) []byte {
	var out []byte
	for {
		b := byte(n & 0x7f)
		n >>= 7
		if n != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if n == 0 {
			break
		}
	}
	return out
}

func wasmSection(id byte, content []byte) []byte {
	out := []byte{id}
	out = append(out, uleb128(uint32(len(content)))...)
	return append(out, content...)
}

func wasmTypeSection() []byte {
	// one type: () -> i32
	return wasmSection(0x01, []byte{0x01, 0x60, 0x00, 0x01, 0x7f})
}

func wasmFunctionSection() []byte {
	// one function, using type index 0
	return wasmSection(0x03, []byte{0x01, 0x00})
}

func wasmMemorySection() []byte {
	// one memory, no max, min 1 page
	return wasmSection(0x05, []byte{0x01, 0x00, 0x01})
}

func wasmExportSection(funcNames []string, exportMemory bool) []byte {
	var content []byte
	count := len(funcNames)
	if exportMemory {
		count++
	}
	content = append(content, byte(count))
	for _, name := range funcNames {
		content = append(content, byte(len(name)))
		content = append(content, []byte(name)...)
		content = append(content, 0x00, 0x00) // kind=func, index=0
	}
	if exportMemory {
		content = append(content, 0x06)
		content = append(content, []byte("memory")...)
		content = append(content, 0x02, 0x00) // kind=mem, index=0
	}
	return wasmSection(0x07, content)
}

func wasmCodeSection(returnValue byte) []byte {
	body := []byte{0x00, 0x41, returnValue, 0x0b} // locals=0; i32.const returnValue; end
	content := append([]byte{0x01, byte(len(body))}, body...)
	return wasmSection(0x0a, content)
}

// miniModule builds a single-function WASM module exporting a memory (if
// exportMemory) and the given export names, all aliasing a function that
// takes no arguments and returns the i32 constant returnValue.
func miniModule(returnValue byte, exportMemory bool, names ...string) []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00} // magic + version
	out = append(out, wasmTypeSection()...)
	out = append(out, wasmFunctionSection()...)
	out = append(out, wasmMemorySection()...)
	out = append(out, wasmExportSection(names, exportMemory)...)
	out = append(out, wasmCodeSection(returnValue)...)
	return out
}
