// Package cmd provides common initialization functions for command-line
// applications.
package cmd

import (
	"log/slog"

	"github.com/adlytics/adflow/pkg/executors/httprequest"
	logexecutor "github.com/adlytics/adflow/pkg/executors/log"
	"github.com/adlytics/adflow/pkg/executors/noop"
	"github.com/adlytics/adflow/pkg/registry"
)

// NewRegistry creates a registry with every built-in step executor
// registered.
func NewRegistry(logger *slog.Logger) *registry.Registry {
	reg := registry.NewRegistry(logger)

	registerNativeExecutors(reg)

	return reg
}

func registerNativeExecutors(reg *registry.Registry) {
	reg.Register(noop.NewFactory())
	reg.Register(logexecutor.NewFactory())
	reg.Register(httprequest.NewFactory())
}
