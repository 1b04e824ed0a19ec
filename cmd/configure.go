package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/sw33tLie/togetter/internal/utils"
	"github.com/sw33tLie/togetter/pkg/storage"
	"github.com/sw33tLie/togetter/pkg/whttp"
)

// configureCmd represents the configure command
var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Point a running bridge at another group",
	Long: `Posts new settings to the configuration endpoint of a running bridge. The bridge
resets to the group view and fetches it. With --save the group is also written
to the config file as the default for the next start.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		group, _ := cmd.Flags().GetString("group")
		if group == "" {
			return fmt.Errorf("--group is required")
		}
		bridge, _ := cmd.Flags().GetString("bridge")
		if bridge == "" {
			bridge = bridgeURL(viper.GetString("bridge.listen"))
		}

		body, err := json.Marshal(storage.ViewingGroup(group))
		if err != nil {
			return err
		}

		client := retryablehttp.NewClient()
		client.Logger = nil
		client.RetryMax = 2

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		res, err := whttp.SendHTTPRequest(ctx, &whttp.WHTTPReq{
			Method: http.MethodPost,
			URL:    strings.TrimRight(bridge, "/") + "/api/settings",
			Body:   string(body),
			Headers: []whttp.WHTTPHeader{
				{Name: "Content-Type", Value: "application/json"},
			},
		}, client)
		if err != nil {
			return fmt.Errorf("contacting bridge at %s: %w", bridge, err)
		}
		if !res.IsOK() && res.StatusCode != http.StatusAccepted {
			return fmt.Errorf("bridge answered %d: %s", res.StatusCode, strings.TrimSpace(res.BodyString))
		}
		utils.Log.Infof("Bridge now showing group %s", group)

		if save, _ := cmd.Flags().GetBool("save"); save {
			viper.Set("togetter.group", group)
			if err := viper.WriteConfig(); err != nil {
				return fmt.Errorf("saving config: %w", err)
			}
		}
		return nil
	},
}

// bridgeURL turns a listen address into a local URL.
func bridgeURL(listen string) string {
	if strings.HasPrefix(listen, ":") {
		listen = "127.0.0.1" + listen
	}
	return "http://" + listen
}

func init() {
	rootCmd.AddCommand(configureCmd)
	configureCmd.Flags().StringP("group", "g", "", "Group id to show")
	configureCmd.Flags().String("bridge", "", "Bridge base URL (default derived from bridge.listen)")
	configureCmd.Flags().Bool("save", false, "Also store the group as togetter.group in the config file")
}
