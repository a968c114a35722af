package transport

import "time"

// StaticConfig is a plain-value Config, handy for building a single transport
// outside the bridge service and in tests.
type StaticConfig struct {
	MQTTHost           string
	MQTTPort           int
	MQTTKeepAlive      time.Duration
	MQTTClientID       string
	MQTTUsername       string
	MQTTPassword       string
	MQTTQoS            byte
	MQTTConnectTimeout time.Duration
	PublishTimeout     time.Duration

	KafkaBrokers       []string
	KafkaConsumerGroup string
	RabbitMQURL        string
	NATSURL            string
	JetStreamStream    string
	HTTPServerAddress  string
	HTTPPublisherURL   string
	IOFile             string

	AWSRegion          string
	AWSAccountID       string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSEndpoint        string
}

var _ Config = (*StaticConfig)(nil)

func (c *StaticConfig) GetMQTTHost() string                  { return c.MQTTHost }
func (c *StaticConfig) GetMQTTPort() int                     { return c.MQTTPort }
func (c *StaticConfig) GetMQTTKeepAlive() time.Duration      { return c.MQTTKeepAlive }
func (c *StaticConfig) GetMQTTClientID() string              { return c.MQTTClientID }
func (c *StaticConfig) GetMQTTUsername() string              { return c.MQTTUsername }
func (c *StaticConfig) GetMQTTPassword() string              { return c.MQTTPassword }
func (c *StaticConfig) GetMQTTQoS() byte                     { return c.MQTTQoS }
func (c *StaticConfig) GetMQTTConnectTimeout() time.Duration { return c.MQTTConnectTimeout }
func (c *StaticConfig) GetPublishTimeout() time.Duration     { return c.PublishTimeout }
func (c *StaticConfig) GetKafkaBrokers() []string            { return c.KafkaBrokers }
func (c *StaticConfig) GetKafkaConsumerGroup() string        { return c.KafkaConsumerGroup }
func (c *StaticConfig) GetRabbitMQURL() string               { return c.RabbitMQURL }
func (c *StaticConfig) GetNATSURL() string                   { return c.NATSURL }
func (c *StaticConfig) GetJetStreamStream() string           { return c.JetStreamStream }
func (c *StaticConfig) GetHTTPServerAddress() string         { return c.HTTPServerAddress }
func (c *StaticConfig) GetHTTPPublisherURL() string          { return c.HTTPPublisherURL }
func (c *StaticConfig) GetIOFile() string                    { return c.IOFile }
func (c *StaticConfig) GetAWSRegion() string                 { return c.AWSRegion }
func (c *StaticConfig) GetAWSAccountID() string              { return c.AWSAccountID }
func (c *StaticConfig) GetAWSAccessKeyID() string            { return c.AWSAccessKeyID }
func (c *StaticConfig) GetAWSSecretAccessKey() string        { return c.AWSSecretAccessKey }
func (c *StaticConfig) GetAWSEndpoint() string               { return c.AWSEndpoint }
