package messagebus

import (
	"context"

	"github.com/suoke-life/messagebus/internal/app/server"
	runtimepkg "github.com/suoke-life/messagebus/internal/runtime"
	"github.com/suoke-life/messagebus/internal/runtime/breaker"
	configpkg "github.com/suoke-life/messagebus/internal/runtime/config"
	errspkg "github.com/suoke-life/messagebus/internal/runtime/errors"
	idspkg "github.com/suoke-life/messagebus/internal/runtime/ids"
	jsoncodec "github.com/suoke-life/messagebus/internal/runtime/jsoncodec"
	loggingpkg "github.com/suoke-life/messagebus/internal/runtime/logging"
	metadatapkg "github.com/suoke-life/messagebus/internal/runtime/metadata"
	"github.com/suoke-life/messagebus/internal/runtime/repository"
	"github.com/suoke-life/messagebus/internal/runtime/topics"
	transportpkg "github.com/suoke-life/messagebus/internal/runtime/transport"
	newtransport "github.com/suoke-life/messagebus/transport"
)

type (
	Config              = configpkg.Config
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies
	PublishRequest      = runtimepkg.PublishRequest
	CreateTopicRequest  = runtimepkg.CreateTopicRequest
	Clock               = runtimepkg.Clock
	IDGenerator         = runtimepkg.IDGenerator

	Message    = repository.Message
	Topic      = topics.Topic
	TopicPage  = topics.Page
	TopicStore = topics.Store

	Breaker       = breaker.Breaker
	BreakerConfig = breaker.Config

	Transport        = transportpkg.Transport
	TransportFactory = transportpkg.Factory
	Capabilities     = transportpkg.Capabilities

	// Modular transport types
	TransportBuilder  = newtransport.Builder
	TransportConfig   = newtransport.Config
	TransportRegistry = newtransport.Registry

	Metadata = metadatapkg.Metadata

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	Error         = errspkg.Error
	ErrorCode     = errspkg.Code
	ErrorSeverity = errspkg.Severity
	ErrorHandler  = errspkg.Handler

	ServerOptions = server.Options
)

var (
	NewService     = runtimepkg.NewService
	TryNewService  = runtimepkg.TryNewService
	OpenTopicStore = runtimepkg.OpenTopicStore
	LoadConfig     = configpkg.Load
	ValidateConfig = configpkg.ValidateConfig

	NewMemoryTopicStore = topics.NewMemoryStore
	NewBreaker          = breaker.New

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NewNopServiceLogger  = loggingpkg.NewNopServiceLogger
	NewSlogHandler       = loggingpkg.NewSlogHandler

	NewErrorHandler = errspkg.NewHandler
	ErrorToStatus   = errspkg.ToStatus
	AsError         = errspkg.As
	ErrorCodeOf     = errspkg.CodeOf

	DefaultTransportFactory  = transportpkg.DefaultFactory
	RegistryTransportFactory = transportpkg.RegistryFactory
	StaticTransport          = transportpkg.Static
	RegisterTransport        = newtransport.RegisterWithCapabilities
	TransportCapabilitiesOf  = newtransport.GetCapabilities

	CreateULID = idspkg.CreateULID
	ULIDTime   = idspkg.Time

	NewMetadata = metadatapkg.New
)

// Error codes carried by Error.Code and the ErrorInfo reason on the wire.
const (
	CodeValidation           = errspkg.CodeValidation
	CodeTopicNotFound        = errspkg.CodeTopicNotFound
	CodeTopicAlreadyExists   = errspkg.CodeTopicAlreadyExists
	CodeTopicCreationFailed  = errspkg.CodeTopicCreationFailed
	CodeTopicDeletionFailed  = errspkg.CodeTopicDeletionFailed
	CodeMessagePublishFailed = errspkg.CodeMessagePublishFailed
	CodeDatabaseConnection   = errspkg.CodeDatabaseConnection
	CodeNetwork              = errspkg.CodeNetwork
	CodeInternal             = errspkg.CodeInternal
)

// Metadata keys stamped on every published message. They override caller
// attributes with the same name.
const (
	MetadataKeyMessageID   = metadatapkg.KeyMessageID
	MetadataKeyPublisherID = metadatapkg.KeyPublisherID
	MetadataKeyPublishTime = metadatapkg.KeyPublishTime
	MetadataKeyTopic       = metadatapkg.KeyTopic

	AnonymousPublisher = runtimepkg.AnonymousPublisher
)

var (
	ErrConfigRequired    = errspkg.ErrConfigRequired
	ErrLoggerRequired    = errspkg.ErrLoggerRequired
	ErrPublisherRequired = errspkg.ErrPublisherRequired
	ErrStoreRequired     = errspkg.ErrStoreRequired
)

// Serve runs the gRPC server for conf until ctx is cancelled.
func Serve(ctx context.Context, conf *Config, logger ServiceLogger) error {
	return server.Run(ctx, conf, logger)
}

// Marshal encodes v as JSON using the bus codec.
func Marshal(v any) ([]byte, error) { return jsoncodec.Marshal(v) }

// Unmarshal decodes JSON data into v using the bus codec.
func Unmarshal(data []byte, v any) error { return jsoncodec.Unmarshal(data, v) }
