package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/sw33tLie/emvscope/internal/utils"
	"github.com/sw33tLie/emvscope/pkg/detector"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

var cfgFile string

const (
	LOGO = `
	  ___ _ __ _____   _____  ___ ___  _ __   ___
	 / _ \ '_ ` + "`" + ` _ \ \ / / __|/ __/ _ \| '_ \ / _ \
	|  __/ | | | | \ V /\__ \ (_| (_) | |_) |  __/
	 \___|_| |_| |_|\_/ |___/\___\___/| .__/ \___|
	                                  |_|

`
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "emvscope",
	Short: "Earned media value audits for brand exposure in video.",
	Long: LOGO + `emvscope measures how much on-screen exposure each brand received in a video,
weights every sighting by its visual quality, and prices it against a media benchmark.`,
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
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.emvscope.yaml)")

	// Global flags
	rootCmd.PersistentFlags().StringP("proxy", "", "", "HTTP Proxy for detector calls (Useful for debugging. Example: http://127.0.0.1:8080)")
	rootCmd.PersistentFlags().StringP("loglevel", "l", "info", "Set log level. Available: debug, info, warn, error, fatal")
	rootCmd.PersistentFlags().String("dbpath", "", "Path to SQLite session archive (default: ~/.config/emvscope/emvscope.sqlite)")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".emvscope")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("emvscope")
	viper.AutomaticEnv()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; create it with defaults.
			home, _ := homedir.Dir()
			configPath := home + "/.emvscope.yaml"
			if err := viper.SafeWriteConfigAs(configPath); err != nil {
				fmt.Printf("Error creating config file: %s", err)
			}
		} else {
			fmt.Fprintf(os.Stderr, "Error reading config file: %s\n", err)
			os.Exit(1)
		}
	}

	// Init log library
	levelString, _ := rootCmd.PersistentFlags().GetString("loglevel")
	utils.SetLogLevel(levelString)
}

func setDefaults() {
	viper.SetDefault("detector.api_key", "")
	viper.SetDefault("detector.model_id", "driven-13-aramco-roi/9")
	viper.SetDefault("detector.endpoint", detector.DefaultEndpoint)
	viper.SetDefault("detector.confidence", 0.40)
	viper.SetDefault("detector.min_spacing", "0s")
	viper.SetDefault("detector.min_area", 0)

	// base_rate, slot_seconds and impressions come from the benchmark preset
	// unless set explicitly.
	viper.SetDefault("pricing.benchmark", "tv")

	viper.SetDefault("brands", []map[string]interface{}{
		{"name": "Aramco", "match": "contains", "labels": []string{"aramco"}},
	})

	viper.SetDefault("goal.brand", "")
	viper.SetDefault("goal.target", 0)

	viper.SetDefault("sampling.stride", 1)
	viper.SetDefault("sampling.cooldown", "2s")

	viper.SetDefault("database.lock_timeout", "30s")

	viper.SetDefault("server.username", "")
	viper.SetDefault("server.password", "")
}
