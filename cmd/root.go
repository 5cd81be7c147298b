package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"example.com/depot/services/bagtrack/config"
)

var (
	// Flags
	cfgFile string
	debug   bool

	// Root command
	rootCmd = &cobra.Command{
		Use:   "bagtrack",
		Short: "Bag Tracking Core",
		Long: `Bag Tracking Core for warehouse scanning stations.

Functions:
- Link child bags into parent bags scanned on the floor
- Aggregate parent bags onto bills with derived weight totals
- Maintain warehouse statistics for the dashboard
- Publish a mutation audit trail to the message queue`,
	}
)

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Persistent flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	// Add commands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(republishAuditCmd)
}

// initConfig initializes the configuration
func initConfig() {
	if cfgFile != "" {
		config.SetConfigFile(cfgFile)
	}

	if debug {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}

	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}
