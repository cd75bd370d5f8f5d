package host

import (
	"bufio"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	// "=> 0x0000000000401136 <+0>:	push   %rbp"
	lineRe = regexp.MustCompile(`^\s*(?:=>\s*)?0x([0-9a-fA-F]+)(?:\s*<[^>]*>)?:\s*(.+)$`)
	// trailing "0x401126 <helper>" of a call operand or a "# 0x4040 <counter>" comment
	targetRe = regexp.MustCompile(`0x([0-9a-fA-F]+)\s+<([^>]+)>\s*$`)
)

var prefixes = map[string]bool{
	"bnd":     true,
	"notrack": true,
	"lock":    true,
	"rep":     true,
	"repz":    true,
	"repnz":   true,
	"data16":  true,
}

// ParseDisassembly parses gdb-style disassembly text. Header, footer and
// blank lines are ignored.
func ParseDisassembly(text string) ([]Instruction, error) {
	var instrs []Instruction
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		inst, ok := ParseLine(scanner.Text())
		if ok {
			instrs = append(instrs, inst)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read disassembly: %w", err)
	}
	return instrs, nil
}

// ParseLine parses a single disassembly line
func ParseLine(line string) (Instruction, bool) {
	m := lineRe.FindStringSubmatch(line)
	if m == nil {
		return Instruction{}, false
	}
	addr, err := strconv.ParseUint(m[1], 16, 64)
	if err != nil {
		return Instruction{}, false
	}

	inst := Instruction{Addr: addr, Text: strings.TrimSpace(m[2])}
	fields := strings.Fields(inst.Text)
	for len(fields) > 0 && prefixes[fields[0]] {
		fields = fields[1:]
	}
	if len(fields) == 0 {
		return Instruction{}, false
	}
	inst.Mnemonic = strings.ToLower(fields[0])

	if IsCall(inst.Mnemonic) || IsLea(inst.Mnemonic) {
		if t := targetRe.FindStringSubmatch(inst.Text); t != nil {
			inst.TargetAddr, _ = strconv.ParseUint(t[1], 16, 64)
			inst.Target = entrySymbol(t[2])
		}
	}
	return inst, true
}

// entrySymbol returns sym when it names a symbol start, "" for "sym+off"
func entrySymbol(sym string) string {
	i := strings.LastIndexByte(sym, '+')
	if i <= 0 {
		return sym
	}
	off := sym[i+1:]
	if n, err := strconv.ParseUint(off, 0, 64); err == nil {
		if n == 0 {
			return sym[:i]
		}
		return ""
	}
	return sym
}

// IsCall reports whether mnemonic is a direct or indirect call
func IsCall(mnemonic string) bool {
	switch strings.ToLower(mnemonic) {
	case "call", "callq", "calll":
		return true
	}
	return false
}

// IsLea reports whether mnemonic loads an effective address
func IsLea(mnemonic string) bool {
	switch strings.ToLower(mnemonic) {
	case "lea", "leaq", "leal":
		return true
	}
	return false
}

// IsReturn reports whether mnemonic is any form of return
func IsReturn(mnemonic string) bool {
	return strings.HasPrefix(strings.ToLower(mnemonic), "ret")
}
