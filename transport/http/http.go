// Package http provides an HTTP webhook transport for the message bus. Each
// publish is a POST to the configured base URL with the topic appended.
package http

import (
	"context"
	"fmt"
	nethttp "net/http"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/suoke-life/messagebus/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "http"

const clientTimeout = 10 * time.Second

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(config http.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return http.NewPublisher(config, logger)
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.HTTPCapabilities)
}

// Build creates an HTTP publisher. A non-2xx response fails the publish.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	publisherURL := cfg.GetHTTPPublisherURL()
	if publisherURL == "" {
		return transport.Transport{}, fmt.Errorf("http publisher url is required")
	}

	publisher, err := PublisherFactory(
		http.PublisherConfig{
			MarshalMessageFunc: marshalFunc(publisherURL),
			Client:             &nethttp.Client{Timeout: clientTimeout},
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	return transport.Transport{Publisher: publisher}, nil
}

func marshalFunc(baseURL string) http.MarshalMessageFunc {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return func(topic string, msg *message.Message) (*nethttp.Request, error) {
		req, err := http.DefaultMarshalMessageFunc(baseURL+topic, msg)
		if err != nil {
			return nil, err
		}
		return req.WithContext(msg.Context()), nil
	}
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.HTTPCapabilities
}
