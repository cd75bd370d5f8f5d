package host

import "testing"

const sampleDump = `Dump of assembler code for function main:
   0x0000000000401136 <+0>:	push   %rbp
=> 0x000000000040113a <+4>:	sub    $0x10,%rsp
   0x000000000040114a <+20>:	call   0x401126 <helper>
   0x000000000040114f <+25>:	call   0x401030 <puts@plt>
   0x0000000000401154 <+30>:	lea    0x2ea5(%rip),%rax        # 0x404000 <callback>
   0x000000000040115b <+37>:	lea    0x2ea5(%rip),%rax        # 0x404010 <table+16>
   0x0000000000401162 <+44>:	call   *%rax
   0x0000000000401164 <+46>:	notrack call   0x401200 <_Z6helperi>
   0x000000000040116a <+52>:	leave
   0x000000000040116b <+53>:	ret
End of assembler dump.
`

func TestParseDisassembly(t *testing.T) {
	instrs, err := ParseDisassembly(sampleDump)
	if err != nil {
		t.Fatalf("ParseDisassembly failed: %v", err)
	}
	if len(instrs) != 10 {
		t.Fatalf("Expected 10 instructions, got %d", len(instrs))
	}

	tests := []struct {
		index      int
		addr       uint64
		mnemonic   string
		target     string
		targetAddr uint64
	}{
		{0, 0x401136, "push", "", 0},
		{1, 0x40113a, "sub", "", 0},
		{2, 0x40114a, "call", "helper", 0x401126},
		{3, 0x40114f, "call", "puts@plt", 0x401030},
		{4, 0x401154, "lea", "callback", 0x404000},
		{5, 0x40115b, "lea", "", 0x404010},
		{6, 0x401162, "call", "", 0},
		{7, 0x401164, "call", "_Z6helperi", 0x401200},
		{9, 0x40116b, "ret", "", 0},
	}

	for _, tc := range tests {
		got := instrs[tc.index]
		if got.Addr != tc.addr {
			t.Errorf("[%d] expected addr 0x%x, got 0x%x", tc.index, tc.addr, got.Addr)
		}
		if got.Mnemonic != tc.mnemonic {
			t.Errorf("[%d] expected mnemonic %q, got %q", tc.index, tc.mnemonic, got.Mnemonic)
		}
		if got.Target != tc.target {
			t.Errorf("[%d] expected target %q, got %q", tc.index, tc.target, got.Target)
		}
		if got.TargetAddr != tc.targetAddr {
			t.Errorf("[%d] expected target addr 0x%x, got 0x%x", tc.index, tc.targetAddr, got.TargetAddr)
		}
	}
}

func TestMnemonicClasses(t *testing.T) {
	tests := []struct {
		mnemonic string
		call     bool
		lea      bool
		ret      bool
	}{
		{"call", true, false, false},
		{"CALLQ", true, false, false},
		{"leaq", false, true, false},
		{"ret", false, false, true},
		{"retq", false, false, true},
		{"mov", false, false, false},
		{"leave", false, false, false},
	}

	for _, tc := range tests {
		t.Run(tc.mnemonic, func(t *testing.T) {
			if IsCall(tc.mnemonic) != tc.call || IsLea(tc.mnemonic) != tc.lea || IsReturn(tc.mnemonic) != tc.ret {
				t.Errorf("Unexpected classification for %s", tc.mnemonic)
			}
		})
	}
}

func TestStopString(t *testing.T) {
	if got := (Stop{Exited: true, ExitStatus: 3}).String(); got != "exited with status 3" {
		t.Errorf("Unexpected exit string %q", got)
	}
	if got := (Stop{Addr: 0x10, Function: "main.main", File: "main.go", Line: 4}).String(); got != "0x10 in main.main at main.go:4" {
		t.Errorf("Unexpected stop string %q", got)
	}
}
