package elfmap

import (
	"testing"
	"unsafe"

	"github.com/xyproto/tpde/internal/elfobj"
)

// x86-64: mov eax, 42; ret
var retFortyTwo = []byte{0xb8, 0x2a, 0x00, 0x00, 0x00, 0xc3}

func buildRetFortyTwo() *elfobj.Assembler {
	a := elfobj.NewAssembler(elfobj.MachineX86_64)
	text := a.TextIndex()
	a.Append(text, retFortyTwo)
	a.AddSymbol(elfobj.Symbol{Name: "answer", Section: text, Size: uint64(len(retFortyTwo)), Global: true, Func: true})
	return a
}

func TestMapAndCallSimpleFunction(t *testing.T) {
	a := buildRetFortyTwo()
	m := NewMapper(a, nil, nil)
	img, err := m.Map()
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	defer img.Close()

	addr, ok := img.FuncAddr("answer")
	if !ok {
		t.Fatalf("answer symbol not found in mapped image")
	}
	fn := *(*func() int32)(unsafe.Pointer(&addr))
	if got := fn(); got != 42 {
		t.Fatalf("fn() = %d, want 42", got)
	}
}

func TestMapTwiceFails(t *testing.T) {
	a := buildRetFortyTwo()
	m := NewMapper(a, nil, nil)
	img, err := m.Map()
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	defer img.Close()

	if _, err := m.Map(); err == nil {
		t.Fatalf("expected second Map call to fail")
	}
}

func TestUnresolvedExternalSymbolFails(t *testing.T) {
	a := elfobj.NewAssembler(elfobj.MachineX86_64)
	text := a.TextIndex()
	a.Append(text, []byte{0xe8, 0, 0, 0, 0}) // call rel32 (unresolved)
	extSym := a.AddSymbol(elfobj.Symbol{Name: "undefined_helper", Section: -1, Global: true})
	a.AddRelocation(elfobj.Relocation{Section: text, Offset: 1, Symbol: extSym, Type: elfobj.RX8664PLT32, Addend: -4})

	m := NewMapper(a, nil, nil)
	if _, err := m.Map(); err == nil {
		t.Fatalf("expected unresolved external symbol to fail Map")
	}
}

func TestUnresolvedExternalSymbolResolved(t *testing.T) {
	a := elfobj.NewAssembler(elfobj.MachineX86_64)
	text := a.TextIndex()
	a.Append(text, []byte{0xe8, 0, 0, 0, 0, 0xc3})
	extSym := a.AddSymbol(elfobj.Symbol{Name: "helper", Section: -1, Global: true})
	a.AddRelocation(elfobj.Relocation{Section: text, Offset: 1, Symbol: extSym, Type: elfobj.RX8664PLT32, Addend: -4})

	resolve := func(name string) (uintptr, bool) {
		if name == "helper" {
			return 0x1000, true
		}
		return 0, false
	}
	m := NewMapper(a, resolve, nil)
	img, err := m.Map()
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	defer img.Close()
}
