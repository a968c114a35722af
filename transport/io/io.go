// Package io provides a file-based transport for meshflow. Each message is
// one JSON line; JSON payloads are embedded as-is and anything else is stored
// base64-encoded, so a file can hold both captured envelopes and translated
// documents.
package io

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/meshflow/internal/runtime/jsoncodec"
	"github.com/drblury/meshflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "io"

// DefaultFilePath is the default file path if none is specified.
const DefaultFilePath = "messages.jsonl"

const pollInterval = 50 * time.Millisecond

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(filePath string, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return &Publisher{filePath: filePath, logger: logger}, nil
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(filePath string, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return &Subscriber{filePath: filePath, logger: logger}, nil
}

func init() {
	Register()
}

// Register registers the I/O transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.IOCapabilities)
}

// Build creates a new I/O transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter, mode transport.Mode) (transport.Transport, error) {
	filePath := cfg.GetIOFile()
	if filePath == "" {
		filePath = DefaultFilePath
	}

	pub, err := PublisherFactory(filePath, logger)
	if err != nil {
		return transport.Transport{}, err
	}
	if mode == transport.PublishOnly {
		return transport.Transport{Publisher: pub}, nil
	}

	sub, err := SubscriberFactory(filePath, logger)
	if err != nil {
		_ = pub.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  pub,
		Subscriber: sub,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.IOCapabilities
}

// record is one line of the message file.
type record struct {
	UUID     string            `json:"uuid"`
	Topic    string            `json:"topic"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Payload  json.RawMessage   `json:"payload,omitempty"`
	Binary   []byte            `json:"binary,omitempty"`
}

func newRecord(topic string, msg *message.Message) record {
	r := record{UUID: msg.UUID, Topic: topic, Metadata: msg.Metadata}
	if len(msg.Payload) > 0 && jsoncodec.Valid(msg.Payload) {
		r.Payload = json.RawMessage(msg.Payload)
	} else {
		r.Binary = msg.Payload
	}
	return r
}

func (r record) payload() []byte {
	if r.Payload != nil {
		return []byte(r.Payload)
	}
	return r.Binary
}

// Publisher appends messages to a file.
type Publisher struct {
	filePath string
	logger   watermill.LoggerAdapter
	mu       sync.Mutex
}

// Publish writes messages to the file. It returns once the lines are written.
func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	f, err := os.OpenFile(p.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	for _, msg := range messages {
		b, err := jsoncodec.Marshal(newRecord(topic, msg))
		if err != nil {
			return err
		}
		b = append(b, '\n')
		if _, err := f.Write(b); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the publisher.
func (p *Publisher) Close() error {
	return nil
}

// Subscriber tails a file from the beginning and delivers records whose
// topic matches the subscription filter.
type Subscriber struct {
	filePath string
	logger   watermill.LoggerAdapter
}

// Subscribe starts tailing the file. The channel closes when ctx ends.
func (s *Subscriber) Subscribe(ctx context.Context, filter string) (<-chan *message.Message, error) {
	f, err := os.OpenFile(s.filePath, os.O_RDONLY|os.O_CREATE, 0600)
	if err != nil {
		return nil, err
	}

	out := make(chan *message.Message)
	go func() {
		defer close(out)
		defer f.Close()

		var lastPos int64
		reader := bufio.NewReader(f)

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			line, err := reader.ReadBytes('\n')
			if err == io.EOF {
				if !s.handleEOF(ctx, f, reader, &lastPos) {
					return
				}
				continue
			}
			if err != nil {
				s.logger.Error("Failed to read file", err, nil)
				return
			}
			lastPos += int64(len(line))

			if !s.deliver(ctx, out, line, filter) {
				return
			}
		}
	}()

	return out, nil
}

// Close closes the subscriber.
func (s *Subscriber) Close() error {
	return nil
}

// handleEOF rewinds to the last complete line and waits for the file to grow.
func (s *Subscriber) handleEOF(ctx context.Context, f *os.File, reader *bufio.Reader, lastPos *int64) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(pollInterval):
	}

	if _, err := f.Seek(*lastPos, io.SeekStart); err != nil {
		s.logger.Error("Failed to seek file", err, nil)
		return false
	}
	reader.Reset(f)
	return true
}

func (s *Subscriber) deliver(ctx context.Context, out chan<- *message.Message, line []byte, filter string) bool {
	var r record
	if err := jsoncodec.Unmarshal(line, &r); err != nil {
		s.logger.Error("Failed to unmarshal message", err, nil)
		return true
	}

	if !transport.MatchTopic(filter, r.Topic) {
		return true
	}

	msg := message.NewMessage(r.UUID, r.payload())
	for k, v := range r.Metadata {
		msg.Metadata.Set(k, v)
	}
	msg.Metadata.Set(transport.MetadataKeyTopic, r.Topic)

	select {
	case out <- msg:
		select {
		case <-msg.Acked():
		case <-msg.Nacked():
			s.logger.Debug("Message nacked", watermill.LogFields{"uuid": msg.UUID})
		case <-ctx.Done():
			return false
		}
	case <-ctx.Done():
		return false
	}
	return true
}
