// Package app provides the entry point for the dicombridge command-line
// application.
package app

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dicombridge/dicombridge/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:               "dicombridge",
	DisableAutoGenTag: true,
	Short:             "dicombridge is a transparent OAuth2 token broker and proxy for DICOMweb endpoints",
	Long: `dicombridge sits between a DICOM image server and cloud-hosted,
OAuth2-protected DICOMweb endpoints (Azure Health Data Services, Google Cloud
Healthcare, AWS HealthImaging, Keycloak, or any generic OAuth2 provider).

The host DICOM server forwards its outbound store and query requests to
dicombridge over plain HTTP; dicombridge attaches a valid bearer token (or a
SigV4 signature for AWS HealthImaging), forwards the request upstream, and
streams the response back.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// No subcommand: print help.
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
}

// NewRootCmd creates the root command for the dicombridge CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Failed to bind debug flag: %v", err)
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}
