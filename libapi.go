package meshflow

import (
	runtimepkg "github.com/drblury/meshflow/internal/runtime"
	configpkg "github.com/drblury/meshflow/internal/runtime/config"
	"github.com/drblury/meshflow/internal/runtime/envelope"
	errspkg "github.com/drblury/meshflow/internal/runtime/errors"
	idspkg "github.com/drblury/meshflow/internal/runtime/ids"
	jsoncodec "github.com/drblury/meshflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/meshflow/internal/runtime/logging"
	transportpkg "github.com/drblury/meshflow/internal/runtime/transport"
	newtransport "github.com/drblury/meshflow/transport"
)

type (
	Config              = configpkg.Config
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies
	TransportFactory    = transportpkg.Factory
	Stats               = runtimepkg.Stats
	ResourceUsage       = runtimepkg.ResourceUsage
	Mirror              = runtimepkg.Mirror
	Worker              = runtimepkg.Worker
	WorkerState         = runtimepkg.WorkerState

	Document = envelope.Document
	Decoder  = envelope.Decoder

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	ConfigValidationError = errspkg.ConfigValidationError
	DecodeError           = errspkg.DecodeError
	UnsupportedTypeError  = errspkg.UnsupportedTypeError
	TopicMismatchError    = errspkg.TopicMismatchError
	PublishError          = errspkg.PublishError
	ShutdownError         = errspkg.ShutdownError

	// Modular transport types
	Transport             = newtransport.Transport
	TransportMode         = newtransport.Mode
	TransportBuilder      = newtransport.Builder
	TransportConfig       = newtransport.Config
	TransportRegistry     = newtransport.Registry
	TransportCapabilities = newtransport.Capabilities
)

var (
	NewService     = runtimepkg.NewService
	TryNewService  = runtimepkg.TryNewService
	DefaultConfig  = configpkg.Default
	ValidateConfig = configpkg.ValidateConfig

	DefaultTransportFactory = transportpkg.DefaultFactory
	NewTransportFactory     = transportpkg.RegistryFactory

	// Decoding
	Decode        = envelope.Decode
	DecodePayload = envelope.DecodePayload
	PortName      = envelope.PortName
	Ports         = envelope.Ports
	OutputTopic   = runtimepkg.OutputTopic

	// Transport registry
	DefaultTransportRegistry = newtransport.DefaultRegistry
	RegisterTransport        = newtransport.RegisterWithCapabilities
	BuildTransport           = newtransport.Build
	GetCapabilities          = newtransport.GetCapabilities
	MatchTopic               = newtransport.MatchTopic

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode

	ErrDecode            = errspkg.ErrDecode
	ErrUnsupportedType   = errspkg.ErrUnsupportedType
	ErrTopicMismatch     = errspkg.ErrTopicMismatch
	ErrPublish           = errspkg.ErrPublish
	ErrQueueFull         = errspkg.ErrQueueFull
	ErrShutdownRequested = errspkg.ErrShutdownRequested
	ErrPublisherRequired = errspkg.ErrPublisherRequired
	ErrTopicRequired     = errspkg.ErrTopicRequired
	ErrConfigRequired    = errspkg.ErrConfigRequired
	ErrLoggerRequired    = errspkg.ErrLoggerRequired

	NewLogger            = loggingpkg.NewLogger
	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NewWatermillAdapter  = loggingpkg.NewWatermillAdapter

	CreateULID = idspkg.CreateULID
)

// Topic markers and transport modes.
const (
	InputMarker  = runtimepkg.InputMarker
	OutputMarker = runtimepkg.OutputMarker

	PublishSubscribe = newtransport.PublishSubscribe
	PublishOnly      = newtransport.PublishOnly

	MetadataKeyTopic = newtransport.MetadataKeyTopic
)
