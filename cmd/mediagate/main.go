package main

import (
	"os"

	"github.com/famgallery/mediagate/gateway"
	"github.com/famgallery/mediagate/log"
	"go.uber.org/automaxprocs/maxprocs"
)

func main() {
	if _, err := maxprocs.Set(maxprocs.Logger(log.GetLogger().Infof)); err != nil {
		log.GetLogger().WithError(err).Warn("failed to set GOMAXPROCS")
	}

	if err := gateway.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
