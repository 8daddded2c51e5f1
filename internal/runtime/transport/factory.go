// Package transport builds the broker publisher the service hands messages to.
// Broker implementations live in github.com/suoke-life/messagebus/transport/*.
package transport

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/suoke-life/messagebus/internal/runtime/config"
	brokers "github.com/suoke-life/messagebus/transport"

	// Register the built-in broker transports.
	_ "github.com/suoke-life/messagebus/transport/transports"
)

// Capabilities describes what the selected broker guarantees.
type Capabilities = brokers.Capabilities

// Transport is a ready broker publisher and what it supports.
type Transport struct {
	Publisher    message.Publisher
	Capabilities Capabilities
}

// Factory abstracts how the service initialises its broker publisher.
type Factory interface {
	Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error)

// Build calls f.
func (f FactoryFunc) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	return f(ctx, conf, logger)
}

// DefaultFactory returns the factory backed by the transport registry.
func DefaultFactory() Factory {
	return defaultFactory{registry: brokers.DefaultRegistry}
}

// RegistryFactory returns a factory that resolves transports from registry.
func RegistryFactory(registry *brokers.Registry) Factory {
	return defaultFactory{registry: registry}
}

type defaultFactory struct {
	registry *brokers.Registry
}

func (f defaultFactory) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	if conf == nil {
		return Transport{}, fmt.Errorf("config is required")
	}

	t, err := f.registry.Build(ctx, conf, logger)
	if err != nil {
		return Transport{}, err
	}

	caps := f.registry.GetCapabilities(conf.GetPubSubSystem())
	if provider, ok := t.Publisher.(brokers.CapabilitiesProvider); ok {
		caps = provider.Capabilities()
	}

	return Transport{
		Publisher:    t.Publisher,
		Capabilities: caps,
	}, nil
}

// Static returns a factory that always yields pub with caps. Useful when the
// publisher is created outside the registry.
func Static(pub message.Publisher, caps Capabilities) Factory {
	return FactoryFunc(func(context.Context, *config.Config, watermill.LoggerAdapter) (Transport, error) {
		if pub == nil {
			return Transport{}, fmt.Errorf("publisher is required")
		}
		return Transport{Publisher: pub, Capabilities: caps}, nil
	})
}
