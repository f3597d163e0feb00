// tpdec is an illustrative driver for the engine: it has no IR parser of
// its own (that piece is explicitly out of scope, spec.md §1), so it
// hand-builds one fixed demo function over internal/testir, compiles it
// for the requested target, and writes the result as a relocatable ELF
// object. Its argv-parsing mirrors the teacher's main.go: the standard
// flag package, no third-party CLI library, with defaults pre-seeded
// from env/v2 overrides.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	env "github.com/xyproto/env/v2"

	"github.com/xyproto/tpde/adaptor"
	"github.com/xyproto/tpde/arch"
	"github.com/xyproto/tpde/arch/aarch64"
	"github.com/xyproto/tpde/arch/x64"
	"github.com/xyproto/tpde/compiler"
	"github.com/xyproto/tpde/internal/elfobj"
	"github.com/xyproto/tpde/internal/testir"
	"github.com/xyproto/tpde/regfile"
)

const versionString = "tpdec 0.1.0"

func main() {
	defaultTarget := env.Str("TPDE_TARGET", "amd64-linux")
	defaultOutput := env.Str("TPDE_OUTPUT", filepath.Join(os.TempDir(), "tpde-demo.o"))
	defaultVerbose := env.Bool("TPDE_VERBOSE")

	var (
		targetFlag  = flag.String("T", defaultTarget, "target triple (arch-os, e.g. amd64-linux or arm64-linux)")
		outputFlag  = flag.String("o", defaultOutput, "output object file")
		verboseFlag = flag.Bool("v", defaultVerbose, "verbose mode (emit debug output to stderr)")
		versionFlag = flag.Bool("V", false, "print version information and exit")
	)
	flag.Parse()

	if *versionFlag {
		fmt.Println(versionString)
		os.Exit(0)
	}

	backend, machine, err := resolveTarget(*targetFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tpdec: %v\n", err)
		os.Exit(1)
	}

	c := compiler.New[*testir.Func](backend)
	if *verboseFlag {
		c.SetLogger(compiler.NewStderrLogger())
		fmt.Fprintf(os.Stderr, "tpdec: target=%s output=%s\n", *targetFlag, *outputFlag)
	}
	c.UseBanks(regBank(backend.AllocatableGP()), regBank(backend.AllocatableFP()))

	fn := buildDemoFunction()
	text := elfobj.NewTextWriter(256)
	if _, err := c.CompileFunction(fn, text, demoEmitter{}); err != nil {
		fmt.Fprintf(os.Stderr, "tpdec: compiling %s: %v\n", fn.FuncName(), err)
		os.Exit(1)
	}

	obj, err := assembleObject(machine, fn.FuncName(), text.Bytes())
	if err != nil {
		fmt.Fprintf(os.Stderr, "tpdec: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*outputFlag, obj, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "tpdec: writing %s: %v\n", *outputFlag, err)
		os.Exit(1)
	}
}

// resolveTarget parses an "arch-os" triple (amd64-linux, arm64-linux,
// aarch64-linux, x86_64-linux) into a concrete backend and its matching
// ELF machine constant. The OS half only gates x64's calling convention
// (SysV vs Win64); every target here still emits an ELF object, matching
// spec.md §1's "Linux + ELF" scope.
func resolveTarget(triple string) (arch.Backend, elfobj.Machine, error) {
	archPart, osPart, _ := strings.Cut(triple, "-")
	switch strings.ToLower(archPart) {
	case "amd64", "x86_64", "x86-64":
		if strings.EqualFold(osPart, "windows") {
			return x64.NewWin64Backend(), elfobj.MachineX86_64, nil
		}
		return x64.NewSysVBackend(), elfobj.MachineX86_64, nil
	case "arm64", "aarch64":
		return aarch64.NewBackend(), elfobj.MachineAArch64, nil
	default:
		return nil, 0, fmt.Errorf("unsupported target %q (supported: amd64-linux, arm64-linux)", triple)
	}
}

// regBankSize covers every dense register id either backend in this
// module uses: ids 0-31 (AArch64's FP bank uses all 32).
const regBankSize = 32

func regBank(allocatable []arch.Reg) *regfile.Bank {
	ids := make([]uint8, len(allocatable))
	for i, r := range allocatable {
		ids[i] = r.ID
	}
	return regfile.NewBank(regBankSize, ids)
}

// buildDemoFunction hand-assembles a small diamond: entry branches
// straight to join (the critical edge) or through mid first, each side
// feeding a different value into join's PHI, which is returned. Picked
// deliberately to exercise the same critical-edge split
// TestCompileFunctionCriticalEdgeSplit in compiler_test.go checks.
func buildDemoFunction() *testir.Func {
	f := testir.New("demo_diamond")
	entry := f.EntryBlock()
	mid := f.AddBlock()
	join := f.AddBlock()

	f.AddEdge(entry, join)
	f.AddEdge(entry, mid)
	f.AddEdge(mid, join)

	entryVal := f.AddArg(adaptor.BankGP, 8)
	midVal := f.AddArg(adaptor.BankGP, 8)

	phi := f.AddPHI(join, adaptor.BankGP, 8)
	f.SetIncoming(phi, entry, entryVal)
	f.SetIncoming(phi, mid, midVal)

	f.AddInst(entry, nil, false, 0, 0, true)
	f.AddInst(mid, nil, false, 0, 0, true)
	ret, _ := f.AddInst(join, []adaptor.ValueRef{phi}, false, 0, 0, true)
	f.MarkLastUse(ret, phi)
	return f
}

// demoEmitter is deliberately non-semantic: there is no real language
// lowering to demonstrate here (that's the IR adaptor's job, out of
// scope per spec.md §1), so it just moves operands into fresh registers
// and reports a fixed condition code, mirroring compiler_test.go's
// toyEmitter.
type demoEmitter struct{}

func (demoEmitter) EmitInst(c *compiler.Compiler[*testir.Func], block adaptor.BlockRef, inst adaptor.InstRef) error {
	a := c.Adaptor()
	result, hasResult := a.ResultValue(inst)
	ops := a.Operands(inst)
	if !hasResult {
		for _, v := range ops {
			c.Use(v)
		}
		return nil
	}
	if len(ops) == 0 {
		dst := c.DefineReg(result, 0, adaptor.BankGP, 8)
		c.Backend.EmitConstant(c.Text, dst, 0, adaptor.BankGP, 8)
		return nil
	}
	src := c.PartReg(ops[0], 0)
	dst := c.DefineReg(result, 0, adaptor.BankGP, 8)
	if dst != src {
		c.Backend.EmitMovRegReg(c.Text, dst, src, 8)
	}
	for _, v := range ops {
		c.Use(v)
	}
	return nil
}

func (demoEmitter) BranchCond(c *compiler.Compiler[*testir.Func], block adaptor.BlockRef, inst adaptor.InstRef) arch.CondCode {
	return arch.CondNE
}

// assembleObject wraps the compiled text bytes into a minimal relocatable
// ELF object: one global function symbol spanning all of .text, no
// relocations (the demo function makes no external references).
func assembleObject(machine elfobj.Machine, funcName string, textBytes []byte) ([]byte, error) {
	a := elfobj.NewAssembler(machine)
	textIdx := a.TextIndex()
	a.Append(textIdx, textBytes)
	a.AddSymbol(elfobj.Symbol{
		Name:    funcName,
		Section: textIdx,
		Value:   0,
		Size:    uint64(len(textBytes)),
		Global:  true,
		Func:    true,
	})
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a.Finalize()
}
