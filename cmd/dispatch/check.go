package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/go-logr/logr"
	"github.com/ohowland/cgc_dispatch/internal/pkg/dispatch"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Set the routine up without solving and print the program layout",
	RunE:  checkDispatch,
}

func checkDispatch(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, cfgFile)
	if err != nil {
		return err
	}
	ctx := logr.NewContext(cmd.Context(), newLogger(verbosity).WithName("Main"))

	r, err := buildRoutine(cfg)
	if err != nil {
		return err
	}
	if err := r.Setup(ctx); err != nil {
		return err
	}
	return printLayout(cmd.OutOrStdout(), r)
}

func printLayout(out io.Writer, r *dispatch.Routine) error {
	p := r.Program()
	fmt.Fprintf(out, "%s: %d variables, %d equality rows, %d inequality rows\n",
		r.Name(), p.N, len(p.Beq), len(p.Bub))

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tNAME\tSHAPE\tSTART\tSIZE")
	for _, b := range p.Columns {
		fmt.Fprintf(w, "var\t%s\t%s\t%d\t%d\n", b.Name, b.Shape, b.Offset, b.Size())
	}
	for _, b := range p.EqRows {
		fmt.Fprintf(w, "eq\t%s\t%s\t%d\t%d\n", b.Name, b.Shape, b.Start, b.Count)
	}
	for _, b := range p.UbRows {
		fmt.Fprintf(w, "uq\t%s\t%s\t%d\t%d\n", b.Name, b.Shape, b.Start, b.Count)
	}
	return w.Flush()
}
