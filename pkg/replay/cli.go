package replay

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/willibrandon/calltrace/pkg/inspect"
	"github.com/willibrandon/calltrace/pkg/recorder"
)

// CLI is an interactive browser over a loaded trace
type CLI struct {
	replayer *BasicReplayer
	in       io.Reader
	out      io.Writer
	running  bool
}

// NewCLI creates a new CLI reading commands from in
func NewCLI(replayer *BasicReplayer, in io.Reader, out io.Writer) *CLI {
	return &CLI{
		replayer: replayer,
		in:       in,
		out:      out,
	}
}

// Start runs the command loop until quit or end of input
func (c *CLI) Start() error {
	c.running = true
	scanner := bufio.NewScanner(c.in)

	fmt.Fprintf(c.out, "calltrace replay: %d captures\n", len(c.replayer.Captures()))
	c.printHelp()

	for c.running {
		fmt.Fprint(c.out, "(calltrace) ")
		if !scanner.Scan() {
			break
		}
		c.handleCommand(strings.TrimSpace(scanner.Text()))
	}
	fmt.Fprintln(c.out)
	return scanner.Err()
}

func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, "\nAvailable commands:")
	fmt.Fprintln(c.out, "  continue (c) [filter] - Replay until a capture matching filter")
	fmt.Fprintln(c.out, "  step (s)              - Step forward one capture")
	fmt.Fprintln(c.out, "  backstep (b)          - Step backward one capture")
	fmt.Fprintln(c.out, "  goto (g) <index>      - Jump to a capture")
	fmt.Fprintln(c.out, "  info (i)              - Show the current capture")
	fmt.Fprintln(c.out, "  print (p) <var>       - Print a variable of the current capture")
	fmt.Fprintln(c.out, "  list (l) [filter]     - List captures")
	fmt.Fprintln(c.out, "\nGeneral commands:")
	fmt.Fprintln(c.out, "  help (h)              - Show this help message")
	fmt.Fprintln(c.out, "  quit (q)              - Exit")
}

func (c *CLI) handleCommand(input string) {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return
	}

	cmd := parts[0]
	args := parts[1:]

	switch cmd {
	case "h", "help":
		c.printHelp()
	case "c", "continue":
		c.handleContinue(strings.Join(args, " "))
	case "s", "step":
		c.handleStep()
	case "b", "backstep":
		c.handleBackstep()
	case "g", "goto":
		c.handleGoto(args)
	case "i", "info":
		c.handleInfo()
	case "p", "print":
		c.handlePrint(args)
	case "l", "list":
		c.handleList(strings.Join(args, " "))
	case "q", "quit", "exit":
		c.running = false
	default:
		fmt.Fprintf(c.out, "Unknown command: %s\n", cmd)
		c.printHelp()
	}
}

func (c *CLI) handleContinue(filter string) {
	var match func(recorder.Capture) bool
	if filter != "" {
		match = func(capture recorder.Capture) bool { return capture.Matches(filter) }
	}
	if err := c.replayer.ReplayUntil(match); err != nil {
		fmt.Fprintf(c.out, "Error continuing: %v\n", err)
		return
	}
	c.showCurrent()
}

func (c *CLI) handleStep() {
	next := c.replayer.CurrentIndex() + 1
	if next >= len(c.replayer.Captures()) {
		fmt.Fprintln(c.out, "Already at the last capture")
		return
	}
	c.replayer.ReplayToIndex(next)
	c.showCurrent()
}

func (c *CLI) handleBackstep() {
	if _, err := c.replayer.StepBackward(); err != nil {
		fmt.Fprintf(c.out, "Cannot step backward: %v\n", err)
		return
	}
	c.showCurrent()
}

func (c *CLI) handleGoto(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "Usage: goto <index>")
		return
	}
	idx, err := strconv.Atoi(args[0])
	if err != nil || idx < 0 || idx >= len(c.replayer.Captures()) {
		fmt.Fprintf(c.out, "Invalid capture index: %s\n", args[0])
		return
	}
	c.replayer.ReplayToIndex(idx)
	c.showCurrent()
}

func (c *CLI) handleInfo() {
	capture, ok := c.replayer.Current()
	if !ok {
		fmt.Fprintln(c.out, "No current capture")
		return
	}
	fmt.Fprintln(c.out, Summary(c.replayer.CurrentIndex(), capture))
	if capture.Function != "" {
		fmt.Fprintf(c.out, "  frame:     %s\n", capture.Function)
	}
	c.printSet("locals", capture.LocalVars)
	c.printSet("arguments", capture.Arguments)
	c.printSet("members", capture.MemberVars)
	c.printSet("globals", capture.GlobalVars)
}

func (c *CLI) printSet(label string, set inspect.Node) {
	fmt.Fprintf(c.out, "  %s:\n", label)
	if set.Len() == 0 {
		fmt.Fprintln(c.out, "    (none)")
		return
	}
	for i, name := range set.Keys {
		fmt.Fprintf(c.out, "    %s = %s\n", name, render(set.Vals[i]))
	}
}

// handlePrint looks name up in locals, arguments, members, then globals
func (c *CLI) handlePrint(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.out, "Usage: print <variable>")
		return
	}
	capture, ok := c.replayer.Current()
	if !ok {
		fmt.Fprintln(c.out, "No current capture")
		return
	}
	name := args[0]
	for _, set := range []inspect.Node{capture.LocalVars, capture.Arguments, capture.MemberVars, capture.GlobalVars} {
		if v, ok := set.Get(name); ok {
			fmt.Fprintf(c.out, "%s = %s\n", name, render(v))
			return
		}
	}
	fmt.Fprintf(c.out, "No variable '%s' in capture %d\n", name, c.replayer.CurrentIndex())
}

func (c *CLI) handleList(filter string) {
	for i, capture := range c.replayer.Captures() {
		if !capture.Matches(filter) {
			continue
		}
		marker := " "
		if i == c.replayer.CurrentIndex() {
			marker = "*"
		}
		fmt.Fprintf(c.out, "%s %s\n", marker, Summary(i, capture))
	}
}

func (c *CLI) showCurrent() {
	if capture, ok := c.replayer.Current(); ok {
		fmt.Fprintf(c.out, "Current capture: %s\n", Summary(c.replayer.CurrentIndex(), capture))
	}
}

// render prints a node on one line in its JSON form
func render(n inspect.Node) string {
	if n.Kind == inspect.ScalarNode {
		return n.Text
	}
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return string(data)
}
