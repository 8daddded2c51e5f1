// Package transports imports all built-in transports for auto-registration.
// Import this package to have all transports registered with the default registry.
package transports

import (
	_ "github.com/suoke-life/messagebus/transport/aws"
	_ "github.com/suoke-life/messagebus/transport/channel"
	_ "github.com/suoke-life/messagebus/transport/http"
	_ "github.com/suoke-life/messagebus/transport/kafka"
	_ "github.com/suoke-life/messagebus/transport/kafkago"
	_ "github.com/suoke-life/messagebus/transport/nats"
	_ "github.com/suoke-life/messagebus/transport/rabbitmq"
)
