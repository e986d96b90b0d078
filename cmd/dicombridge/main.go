// Package main is the entry point for the dicombridge broker.
package main

import (
	"os"

	"github.com/dicombridge/dicombridge/cmd/dicombridge/app"
	"github.com/dicombridge/dicombridge/pkg/logger"
)

func main() {
	// Initialize the logger; serve re-initializes at the configured level.
	logger.Initialize("INFO")

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
