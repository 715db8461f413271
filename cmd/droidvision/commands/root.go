package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "droidvision",
		Short: "droidvision - camera streaming service for an astromech droid",
		Long: `droidvision captures frames from the droid's head camera and broadcasts
them to websocket subscribers as base64 JPEG messages.

Features:
  • V4L2 camera capture with synthetic and replay sources for development
  • Bounded frame buffer that favors fresh frames over completeness
  • WebSocket fan-out with heartbeats and connection status messages
  • MJPEG browser preview and prometheus metrics
  • Frame-log recording and playback`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/droidvision/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "server port (default is 8765)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")

	viper.BindPFlag("server_port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}
