package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/pflag"

	configpkg "github.com/drblury/meshflow/internal/runtime/config"
	transportpkg "github.com/drblury/meshflow/internal/runtime/transport"
	registry "github.com/drblury/meshflow/transport"
)

// Environment variables holding credentials, kept off the command line.
const (
	envMQTTPassword       = "MESHFLOW_MQTT_PASSWORD"
	envAWSAccessKeyID     = "AWS_ACCESS_KEY_ID"
	envAWSSecretAccessKey = "AWS_SECRET_ACCESS_KEY"
)

var errHelp = pflag.ErrHelp

// normalizeFlagName accepts underscores wherever the canonical name has a
// dash, so --mqtt_host and --mqtt-host are the same flag.
func normalizeFlagName(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

func parseFlags(args []string, getenv func(string) string, output io.Writer) (*configpkg.Config, error) {
	conf := configpkg.Default()
	var keepAliveSeconds int

	flagSet := pflag.NewFlagSet("meshflow", pflag.ContinueOnError)
	flagSet.SetOutput(output)
	flagSet.SetNormalizeFunc(normalizeFlagName)
	flagSet.SortFlags = false
	flagSet.Usage = func() { printUsage(output, flagSet) }

	flagSet.BoolVarP(&conf.Verbose, "verbose", "v", false, "log at debug level")
	flagSet.StringVar(&conf.LogFormat, "log-format", conf.LogFormat, "log output format: text or json")

	flagSet.StringVar(&conf.MQTTHost, "mqtt-host", conf.MQTTHost, "MQTT broker host")
	flagSet.IntVar(&conf.MQTTPort, "mqtt-port", conf.MQTTPort, "MQTT broker port")
	flagSet.IntVar(&keepAliveSeconds, "mqtt-keepalive", int(conf.MQTTKeepAlive/time.Second), "MQTT keepalive in seconds")
	flagSet.StringArrayVarP(&conf.Topics, "mqtt-topic", "t", nil, "topic filter to subscribe to (repeatable, required)")
	flagSet.StringVar(&conf.MQTTClientID, "mqtt-client-id", "", "MQTT client ID (generated when empty)")
	flagSet.StringVar(&conf.MQTTUsername, "mqtt-username", "", "MQTT username; the password is read from "+envMQTTPassword)
	flagSet.Uint8Var(&conf.MQTTQoS, "mqtt-qos", conf.MQTTQoS, "QoS for subscriptions and publishes (0, 1 or 2)")
	flagSet.DurationVar(&conf.MQTTConnectTimeout, "mqtt-connect-timeout", conf.MQTTConnectTimeout, "timeout for a single MQTT connection attempt")
	flagSet.DurationVar(&conf.PublishTimeout, "publish-timeout", conf.PublishTimeout, "how long to wait for a publish acknowledgement (0 waits forever)")

	flagSet.StringVar(&conf.Transport, "transport", conf.Transport, "transport carrying input and output topics")
	flagSet.StringArrayVar(&conf.Mirrors, "mirror", nil, "publish-only transport receiving a copy of every document (repeatable)")
	flagSet.StringSliceVar(&conf.KafkaBrokers, "kafka-brokers", nil, "Kafka broker addresses")
	flagSet.StringVar(&conf.RabbitMQURL, "rabbitmq-url", "", "RabbitMQ AMQP URL")
	flagSet.StringVar(&conf.NATSURL, "nats-url", "", "NATS server URL")
	flagSet.StringVar(&conf.JetStreamStream, "jetstream-stream", conf.JetStreamStream, "JetStream stream archiving documents for the nats-jetstream mirror")
	flagSet.StringVar(&conf.HTTPServerAddress, "http-server-address", "", "listen address for the http transport subscriber")
	flagSet.StringVar(&conf.HTTPPublisherURL, "http-publisher-url", "", "base URL the http transport posts documents to")
	flagSet.StringVar(&conf.IOFile, "io-file", "", "JSON-lines file used by the io transport")
	flagSet.StringVar(&conf.AWSRegion, "aws-region", "", "AWS region for SNS/SQS")
	flagSet.StringVar(&conf.AWSAccountID, "aws-account-id", "", "AWS account ID for SNS topic ARNs")
	flagSet.StringVar(&conf.AWSEndpoint, "aws-endpoint", "", "custom AWS endpoint, e.g. LocalStack")

	flagSet.IntVar(&conf.QueueCapacity, "queue-capacity", 0, "bound the translation queue (0 = unbounded)")
	flagSet.StringVar(&conf.QueueOverflow, "queue-overflow", conf.QueueOverflow, "policy when the bounded queue is full: drop-newest, drop-oldest or block")
	flagSet.BoolVar(&conf.MetricsEnabled, "metrics", false, "serve /metrics and /healthz")
	flagSet.IntVar(&conf.MetricsPort, "metrics-port", conf.MetricsPort, "port for /metrics and /healthz")

	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", rest[0])
	}

	conf.MQTTKeepAlive = time.Duration(keepAliveSeconds) * time.Second
	conf.MQTTPassword = getenv(envMQTTPassword)
	conf.AWSAccessKeyID = getenv(envAWSAccessKeyID)
	conf.AWSSecretAccessKey = getenv(envAWSSecretAccessKey)
	if flagSet.Changed("metrics-port") {
		conf.MetricsEnabled = true
	}

	if err := checkTransports(&conf); err != nil {
		return nil, err
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

func checkTransports(conf *configpkg.Config) error {
	factory := transportpkg.DefaultFactory()

	var errs []error
	for _, name := range append([]string{conf.Transport}, conf.Mirrors...) {
		if !registry.DefaultRegistry.Has(name) {
			errs = append(errs, fmt.Errorf("unknown transport %q (registered: %s)", name, strings.Join(registry.DefaultRegistry.Names(), ", ")))
		}
	}
	if len(errs) == 0 && !factory.Capabilities(conf.Transport).CanCarryInput() {
		errs = append(errs, fmt.Errorf("transport %q cannot carry /e/ topics; use it with --mirror", conf.Transport))
	}
	return errors.Join(errs...)
}

func printUsage(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, `meshflow republishes Meshtastic MQTT envelopes as JSON.

Every message received on a topic containing /e/ is decoded and published
on the same topic with /e/ replaced by /json/.

Usage:
  meshflow -t TOPIC [-t TOPIC ...] [flags]
  meshflow decode [--pretty] [--port N] < envelope.bin

Examples:
  meshflow -t 'msh/US/2/e/#'
  meshflow --mqtt_host broker.local -t 'msh/+/2/e/LongFast/#' --mirror nats --nats-url nats://localhost:4222

Flags:
`)
	fmt.Fprint(w, flagSet.FlagUsages())
}
