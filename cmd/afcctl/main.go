package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "afcctl",
		Short:   "Operational tooling for the SmartTransit fare lifecycle backend",
		Version: version,
	}

	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(relayCmd())
	rootCmd.AddCommand(fareCmd())
	rootCmd.AddCommand(secretsCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(clearDataCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newLogger writes text logs to stderr so command output stays pipeable
func newLogger(verbose bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetLevel(logrus.WarnLevel)
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}
