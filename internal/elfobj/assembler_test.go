package elfobj

import "testing"

func TestFinalizeProducesValidHeader(t *testing.T) {
	a := NewAssembler(MachineX86_64)
	text := a.TextIndex()
	a.Append(text, []byte{0xc3}) // ret

	sym := a.AddSymbol(Symbol{Name: "f", Section: text, Value: 0, Size: 1, Global: true, Func: true})
	_ = sym

	out, err := a.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if len(out) < ehSize {
		t.Fatalf("output too short: %d bytes", len(out))
	}
	if string(out[0:4]) != "\x7fELF" {
		t.Fatalf("bad magic: %v", out[0:4])
	}
	if out[4] != elfClass {
		t.Fatalf("not ELFCLASS64")
	}
	gotMachine := uint16(out[18]) | uint16(out[19])<<8
	if gotMachine != uint16(MachineX86_64) {
		t.Fatalf("e_machine = %d, want %d", gotMachine, MachineX86_64)
	}
}

func TestRelocationValidation(t *testing.T) {
	a := NewAssembler(MachineAArch64)
	a.AddRelocation(Relocation{Section: a.TextIndex(), Offset: 0, Symbol: 5, Type: RAARCH64CALL26})
	if err := a.Validate(); err == nil {
		t.Fatalf("expected validation error for unknown symbol handle")
	}
}

func TestSymbolLocalsBeforeGlobals(t *testing.T) {
	a := NewAssembler(MachineX86_64)
	text := a.TextIndex()
	a.AddSymbol(Symbol{Name: "global_one", Section: text, Global: true})
	a.AddSymbol(Symbol{Name: "local_one", Section: text, Global: false})
	a.AddSymbol(Symbol{Name: "global_two", Section: text, Global: true})

	ordered, _ := a.symtab.finalOrder()
	if len(ordered) != 4 { // null + 3
		t.Fatalf("expected 4 ordered entries, got %d", len(ordered))
	}
	if ordered[1].Name != "local_one" {
		t.Fatalf("expected local symbol first, got %q", ordered[1].Name)
	}
	if ordered[2].Name != "global_one" || ordered[3].Name != "global_two" {
		t.Fatalf("globals out of insertion order: %v", ordered[2:])
	}
}

func TestEhFrameFDEEmission(t *testing.T) {
	a := NewAssembler(MachineX86_64)
	text := a.TextIndex()
	a.Append(text, make([]byte, 16))
	sym := a.AddSymbol(Symbol{Name: "fn", Section: text, Size: 16, Global: true, Func: true})

	var fde FDE
	fde.DefCFA(7, 8)
	fde.AdvanceLoc(4)
	fde.DefCFAOffset(16)
	fde.Offset(6, 2)

	a.AddFunctionFrame(CIE{CodeAlign: 1, DataAlign: -8, ReturnAddrReg: 16}, &fde, sym, 16)

	out, err := a.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if len(out) == 0 {
		t.Fatalf("expected non-empty object")
	}
	if _, ok := a.SectionByName(".eh_frame"); !ok {
		t.Fatalf(".eh_frame section missing")
	}
}
