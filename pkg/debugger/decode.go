package debugger

import (
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// decoded is what the scanner needs from one machine instruction
type decoded struct {
	mnemonic string
	// ripTarget is the absolute address a RIP-relative operand refers to
	ripTarget uint64
}

// decodeInstruction classifies the instruction at pc. Bytes that do not
// decode as x86-64 fall back to the first word of the host's text, which
// keeps non-amd64 targets usable for call and return detection.
func decodeInstruction(pc uint64, code []byte, text string) decoded {
	inst, err := x86asm.Decode(code, 64)
	if err != nil {
		return decoded{mnemonic: textMnemonic(text)}
	}

	d := decoded{mnemonic: strings.ToLower(inst.Op.String())}
	for _, arg := range inst.Args {
		if arg == nil {
			break
		}
		if m, ok := arg.(x86asm.Mem); ok && m.Base == x86asm.RIP {
			d.ripTarget = uint64(int64(pc) + int64(inst.Len) + m.Disp)
		}
	}
	return d
}

func textMnemonic(text string) string {
	fields := strings.Fields(text)
	for _, f := range fields {
		switch f {
		case "lock", "rep", "repz", "repnz", "bnd", "notrack":
			continue
		}
		return strings.ToLower(f)
	}
	return ""
}
