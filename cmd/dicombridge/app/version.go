package app

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dicombridge/dicombridge/pkg/logger"
	"github.com/dicombridge/dicombridge/pkg/versions"
)

func newVersionCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show the version of dicombridge",
		Long:  `Display version information about dicombridge, including version number, git commit, build date and Go version.`,
		Run: func(_ *cobra.Command, _ []string) {
			info := versions.GetVersionInfo()
			if jsonOutput {
				out, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					logger.Errorf("Failed to marshal version info: %v", err)
					return
				}
				fmt.Println(string(out))
				return
			}

			fmt.Printf("dicombridge %s\n", info.Version)
			fmt.Printf("Commit: %s\n", info.Commit)
			fmt.Printf("Built: %s\n", info.BuildDate)
			fmt.Printf("Go version: %s\n", info.GoVersion)
			fmt.Printf("Platform: %s\n", info.Platform)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version information as JSON")
	return cmd
}
