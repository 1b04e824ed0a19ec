package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/sw33tLie/togetter/internal/server"
	"github.com/sw33tLie/togetter/internal/utils"
	"github.com/sw33tLie/togetter/pkg/cache"
	"github.com/sw33tLie/togetter/pkg/delivery"
	"github.com/sw33tLie/togetter/pkg/device"
	"github.com/sw33tLie/togetter/pkg/storage"
	"github.com/sw33tLie/togetter/pkg/syncer"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge: device websocket, configuration endpoint and sync loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		db, unlock, err := openState()
		if err != nil {
			return err
		}
		defer unlock()
		defer db.Close()

		st, found, err := db.LoadState(ctx)
		if err != nil {
			return err
		}
		if !found {
			group := viper.GetString("togetter.group")
			if group == "" {
				utils.Log.Warn("No group configured. Set togetter.group in ~/.togetter.yaml or use 'togetter configure'.")
			}
			st = storage.State{Selection: storage.ViewingGroup(group)}
		}

		client, err := newClient(cmd)
		if err != nil {
			return err
		}

		hub := device.NewHub(time.Duration(viper.GetInt("bridge.acktimeout"))*time.Second, utils.Log)
		ctrl := syncer.New(syncer.Config{
			Source:          client,
			Delivery:        delivery.New(hub, utils.Log),
			Store:           cache.New(db, st),
			Log:             utils.Log,
			RefreshInterval: time.Duration(viper.GetInt("bridge.refresh")) * time.Second,
		})
		hub.SetHandler(ctrl)

		runErr := make(chan error, 1)
		go func() { runErr <- ctrl.Run(ctx) }()

		if err := server.New(ctrl, hub).Start(ctx, viper.GetString("bridge.listen")); err != nil {
			stop()
			<-runErr
			return err
		}
		if err := <-runErr; err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("listen", ":8642", "HTTP listen address for the device and configuration endpoints")
	serveCmd.Flags().String("group", "", "Group id to show when no settings are saved yet")
	serveCmd.Flags().Int("refresh", 0, "Seconds between background refreshes (0 to disable)")
	serveCmd.Flags().Int("ack-timeout", 5, "Seconds to wait for the device to acknowledge a record")

	viper.BindPFlag("bridge.listen", serveCmd.Flags().Lookup("listen"))
	viper.BindPFlag("togetter.group", serveCmd.Flags().Lookup("group"))
	viper.BindPFlag("bridge.refresh", serveCmd.Flags().Lookup("refresh"))
	viper.BindPFlag("bridge.acktimeout", serveCmd.Flags().Lookup("ack-timeout"))
}

// openState locks and opens the state database.
func openState() (*storage.DB, func(), error) {
	path, err := utils.GetAbsStatePath(viper.GetString("bridge.state"))
	if err != nil {
		return nil, nil, err
	}
	lock, err := utils.NewStateLock(path)
	if err != nil {
		return nil, nil, err
	}
	if err := lock.TryLock(); err != nil {
		return nil, nil, err
	}
	unlock := func() {
		if err := lock.Unlock(); err != nil {
			utils.Log.Warn(err)
		}
	}
	db, err := storage.Open(path)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	return db, unlock, nil
}
