package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/sw33tLie/togetter/internal/utils"
	"github.com/sw33tLie/togetter/pkg/record"
	"github.com/sw33tLie/togetter/pkg/storage"
	"github.com/sw33tLie/togetter/pkg/syncer"
	"github.com/sw33tLie/togetter/pkg/togetter"
)

// fetchCmd represents the fetch command
var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch a group or list once and print the encoded record",
	Long: `Fetches the group (or one of its lists with --list), encodes it exactly as the
bridge would and prints the decoded record. Nothing is persisted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		group, _ := cmd.Flags().GetString("group")
		if group == "" {
			group = viper.GetString("togetter.group")
		}
		if group == "" {
			return fmt.Errorf("no group given: use --group or set togetter.group")
		}
		listID, _ := cmd.Flags().GetString("list")
		raw, _ := cmd.Flags().GetBool("raw")

		client, err := newClient(cmd)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		sel := storage.ViewingGroup(group)
		if listID != "" {
			sel = storage.ViewingList(group, listID)
		}
		return runFetch(ctx, os.Stdout, client, sel, raw)
	},
}

func runFetch(ctx context.Context, out io.Writer, client *togetter.Client, sel storage.Selection, raw bool) error {
	var (
		payload string
		err     error
	)
	if sel.IsList() {
		payload, err = client.FetchList(ctx, sel.GroupID, sel.ListID)
	} else {
		payload, err = client.FetchGroup(ctx, sel.GroupID)
	}
	if err != nil {
		return err
	}
	utils.Log.Debugf("Fetched %d bytes for %s", len(payload), sel)

	if raw {
		fmt.Fprintln(out, payload)
		return nil
	}

	rec, err := syncer.EncodeFor(sel, payload)
	if err != nil {
		return err
	}
	// Round-trip through the device parser so what is printed is what the
	// device would see. Wrapped offsets cannot be parsed back, so those
	// records are printed as encoded.
	if !rec.Overflows() {
		if rec, err = record.Decode(rec.Label, rec.Items()); err != nil {
			return err
		}
	}
	printRecord(out, rec, sel.IsList())
	return nil
}

func init() {
	rootCmd.AddCommand(fetchCmd)
	fetchCmd.Flags().StringP("group", "g", "", "Group id (default from config)")
	fetchCmd.Flags().String("list", "", "List id inside the group")
	fetchCmd.Flags().Bool("raw", false, "Print the raw JSON payload instead of the record")
}
