package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/willibrandon/calltrace/pkg/host"
	"github.com/willibrandon/calltrace/pkg/instrumentation"
	"github.com/willibrandon/calltrace/pkg/logging"
	"github.com/willibrandon/calltrace/pkg/oracle"
	"github.com/willibrandon/calltrace/pkg/symbols"
	"github.com/willibrandon/calltrace/pkg/trace"
)

func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan <disassembly>",
		Short: "List the breakpoints a function body would receive",
		Long: `scan reads a gdb-style disassembly listing of one function and prints the
call, entry and return sites a trace would instrument in it. Nothing is
executed.`,
		Args: cobra.ExactArgs(1),
		RunE: runScan,
	}
	cmd.Flags().StringP("input", "i", "input.json", "Call-count oracle")
	cmd.Flags().StringP("function", "f", trace.DefaultEntry, "Function the listing belongs to")
	cmd.Flags().String("caller", oracle.DefaultRoot, "Caller the function returns to")
	cmd.Flags().StringSlice("exclude", nil, "Callee patterns never to instrument")
	cmd.Flags().BoolP("verbose", "v", false, "Log skipped oracle callees")
	return cmd
}

func runScan(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	instrs, err := host.ParseDisassembly(string(data))
	if err != nil {
		return err
	}

	input, _ := cmd.Flags().GetString("input")
	orc, err := oracle.Load(input)
	if err != nil {
		return err
	}
	resolver, err := symbols.NewResolver(symbols.DefaultCacheSize)
	if err != nil {
		return err
	}

	opts := instrumentation.DefaultOptions()
	opts.ExcludeFunctions, _ = cmd.Flags().GetStringSlice("exclude")
	function, _ := cmd.Flags().GetString("function")
	caller, _ := cmd.Flags().GetString("caller")

	verbose, _ := cmd.Flags().GetBool("verbose")
	log, err := logging.New(logging.Options{Verbose: verbose, Console: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	defer log.Close()

	sites := trace.NewScanner(orc, resolver, instrumentation.NewFilter(opts), log.Logger).Sites(instrs, function, caller)
	out := cmd.OutOrStdout()
	if len(sites) == 0 {
		fmt.Fprintf(out, "no sites in %s (%d instructions)\n", function, len(instrs))
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tKIND\tFUNCTION\tCALLER")
	for _, s := range sites {
		fmt.Fprintf(w, "%#x\t%s\t%s\t%s\n", s.Addr, s.Kind, s.Function, s.Caller)
	}
	return w.Flush()
}
