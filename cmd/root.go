package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/sw33tLie/togetter/internal/utils"
	"github.com/sw33tLie/togetter/pkg/togetter"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "togetter",
	Short: "Bridge between To-Get shopping lists and a watch.",
	Long: `togetter keeps a small display device in sync with a To-Get group: it fetches
the group and its lists, packs the selected one into the compact record the
device understands and delivers it whenever it changes.`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.togetter.yaml)")

	// Global flags
	rootCmd.PersistentFlags().StringP("proxy", "", "", "HTTP Proxy (Useful for debugging. Example: http://127.0.0.1:8080)")
	rootCmd.PersistentFlags().StringP("loglevel", "l", "info", "Set log level. Available: debug, info, warn, error, fatal")
	rootCmd.PersistentFlags().String("endpoint", "", "To-Get API endpoint (default from config)")
	rootCmd.PersistentFlags().String("state", "", "Path to the bridge state database (default $HOME/.config/togetter/state.sqlite)")

	viper.BindPFlag("togetter.endpoint", rootCmd.PersistentFlags().Lookup("endpoint"))
	viper.BindPFlag("bridge.state", rootCmd.PersistentFlags().Lookup("state"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	viper.SetDefault("togetter.endpoint", togetter.DefaultEndpoint)
	viper.SetDefault("togetter.group", "")
	viper.SetDefault("bridge.listen", ":8642")
	viper.SetDefault("bridge.state", "")
	viper.SetDefault("bridge.refresh", 0)
	viper.SetDefault("bridge.acktimeout", 5)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".togetter")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("togetter")
	viper.AutomaticEnv()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; create it with defaults.
			home, _ := homedir.Dir()
			configPath := home + "/.togetter.yaml"
			if err := viper.SafeWriteConfigAs(configPath); err != nil {
				fmt.Printf("Error creating config file: %s", err)
			}
		}
	}

	// Init log library
	levelString, _ := rootCmd.PersistentFlags().GetString("loglevel")
	utils.SetLogLevel(levelString)
}

// newClient builds the API client from config and the global proxy flag.
func newClient(cmd *cobra.Command) (*togetter.Client, error) {
	proxy, _ := cmd.Flags().GetString("proxy")
	return togetter.NewClient(viper.GetString("togetter.endpoint"), proxy)
}
