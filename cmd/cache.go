package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/sw33tLie/togetter/internal/utils"
	"github.com/sw33tLie/togetter/pkg/cache"
	"github.com/sw33tLie/togetter/pkg/storage"
	"github.com/sw33tLie/togetter/pkg/syncer"
)

// cacheCmd represents the cache command
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or reset the bridge's persisted state",
}

// cacheShowCmd represents the cache show command
var cacheShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the saved selection and the cached record",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := utils.GetAbsStatePath(viper.GetString("bridge.state"))
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return fmt.Errorf("state file not found: %s", path)
		}

		db, err := storage.Open(path)
		if err != nil {
			return err
		}
		defer db.Close()

		st, found, err := db.LoadState(context.Background())
		if err != nil {
			return err
		}
		if !found {
			fmt.Println("No saved state.")
			return nil
		}

		fmt.Printf("Selection: %s\n", st.Selection)
		if st.Cache.IsEmpty() {
			fmt.Println("Cache: empty")
			return nil
		}
		fmt.Printf("Cached for: %s (%d bytes of payload)\n", st.Cache.Selection, len(st.Cache.Raw))

		showRaw, _ := cmd.Flags().GetBool("raw")
		if showRaw {
			fmt.Println(st.Cache.Raw)
		}
		rec := st.Cache.Record
		if rec.IsZero() {
			// Records whose offsets wrap do not decode from the state file;
			// the raw payload is still there to encode them again.
			if rec, err = syncer.EncodeFor(st.Cache.Selection, st.Cache.Raw); err != nil {
				fmt.Printf("Record: missing, cached payload does not parse: %v\n", err)
				return nil
			}
		}
		printRecord(os.Stdout, rec, st.Cache.Selection.IsList())
		return nil
	},
}

// cacheClearCmd represents the cache clear command
var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop the cached payload; the next fetch will re-deliver",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, unlock, err := openState()
		if err != nil {
			return err
		}
		defer unlock()
		defer db.Close()

		ctx := context.Background()
		st, found, err := db.LoadState(ctx)
		if err != nil {
			return err
		}
		if !found {
			fmt.Println("No saved state.")
			return nil
		}

		if err := cache.New(db, st).Clear(ctx); err != nil {
			return err
		}
		utils.Log.Infof("Cleared cache for %s", st.Selection)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheShowCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheShowCmd.Flags().Bool("raw", false, "Also print the raw cached payload")
}
