package main

import (
	"github.com/temirov/ctxserve/internal/cli"
	"github.com/temirov/ctxserve/internal/utils"
)

// main is the entry point for the ctxserve command.
func main() {
	loggerInstance := utils.NewBootstrapLogger()
	defer loggerInstance.Sync()
	if applicationExecutionError := cli.Execute(); applicationExecutionError != nil {
		loggerInstance.Fatal(utils.ApplicationExecutionFailedMessage + ": " + applicationExecutionError.Error())
	}
}
