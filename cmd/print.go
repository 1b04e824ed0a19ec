package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/sw33tLie/togetter/internal/utils"
	"github.com/sw33tLie/togetter/pkg/record"
)

// printRecord writes the record the way the device would render it.
func printRecord(out io.Writer, rec record.Record, list bool) {
	fmt.Fprintf(out, "Label: %q\n", rec.Label)
	fmt.Fprintf(out, "Items: %s\n\n", utils.HexBytes(rec.Items()))
	if rec.Overflows() {
		fmt.Fprintln(out, "Warning: record exceeds 255 bytes or entries and will wrap on the device")
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if list {
		fmt.Fprintln(w, "#\tOFFSET\tNAME\tAMOUNT\tCOLLECTED")
		for i, e := range rec.Entries {
			fmt.Fprintf(w, "%d\t%d\t%s\t%d\t%t\n", i, e.Offset, rec.Name(i), e.Amount(), e.Collected())
		}
	} else {
		fmt.Fprintln(w, "#\tOFFSET\tNAME")
		for i, e := range rec.Entries {
			fmt.Fprintf(w, "%d\t%d\t%s\n", i, e.Offset, rec.Name(i))
		}
	}
	w.Flush()
}
