// Package transport connects the bridge runtime to the transport registry.
package transport

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/meshflow/internal/runtime/config"
	registry "github.com/drblury/meshflow/transport"

	// Import all transport packages to register them.
	_ "github.com/drblury/meshflow/transport/aws"
	_ "github.com/drblury/meshflow/transport/channel"
	_ "github.com/drblury/meshflow/transport/http"
	_ "github.com/drblury/meshflow/transport/io"
	_ "github.com/drblury/meshflow/transport/jetstream"
	_ "github.com/drblury/meshflow/transport/kafka"
	_ "github.com/drblury/meshflow/transport/mqtt"
	_ "github.com/drblury/meshflow/transport/nats"
	_ "github.com/drblury/meshflow/transport/rabbitmq"
)

// Factory abstracts how the bridge initialises message transports.
type Factory interface {
	Build(ctx context.Context, name string, conf *config.Config, logger watermill.LoggerAdapter, mode registry.Mode) (registry.Transport, error)
	Capabilities(name string) registry.Capabilities
}

// DefaultFactory returns the built-in transport factory that uses the
// default transport registry.
func DefaultFactory() Factory {
	return RegistryFactory(registry.DefaultRegistry)
}

// RegistryFactory returns a Factory backed by r.
func RegistryFactory(r *registry.Registry) Factory {
	return registryFactory{registry: r}
}

type registryFactory struct {
	registry *registry.Registry
}

func (f registryFactory) Build(ctx context.Context, name string, conf *config.Config, logger watermill.LoggerAdapter, mode registry.Mode) (registry.Transport, error) {
	if conf == nil {
		return registry.Transport{}, fmt.Errorf("config is required")
	}
	return f.registry.Build(ctx, name, conf, logger, mode)
}

func (f registryFactory) Capabilities(name string) registry.Capabilities {
	return f.registry.GetCapabilities(name)
}
