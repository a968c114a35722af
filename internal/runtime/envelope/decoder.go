// Package envelope decodes Meshtastic service envelopes into JSON-ready
// documents. Dispatch on the packet's port number goes through a closed table;
// structured payloads are converted with proto field names and default values
// omitted.
package envelope

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	errspkg "github.com/drblury/meshflow/internal/runtime/errors"
	"github.com/drblury/meshflow/internal/runtime/jsoncodec"
)

// Document is the decoded envelope as a generic JSON tree.
type Document map[string]any

// Decoder turns raw envelope bytes into a Document.
type Decoder interface {
	Decode(raw []byte) (Document, error)
}

// DefaultDecoder decodes with the embedded schema and port table.
type DefaultDecoder struct{}

// Decode implements Decoder.
func (DefaultDecoder) Decode(raw []byte) (Document, error) {
	return Decode(raw)
}

var errInvalidUTF8 = errors.New("payload is not valid UTF-8")

var (
	envelopeDesc = mustMessage(ServiceEnvelopeName)
	packetField  = mustField(envelopeDesc, "packet")
	decodedField = mustField(mustMessage(MeshPacketName), "decoded")
	portnumField = mustField(mustMessage(DataName), "portnum")
	payloadField = mustField(mustMessage(DataName), "payload")

	jsonOptions = protojson.MarshalOptions{UseProtoNames: true}
)

// Decode parses raw as a ServiceEnvelope, decodes packet.decoded.payload
// according to its port and returns the envelope as a Document with the
// decoded payload in place and packet.decoded.size set to len(raw).
func Decode(raw []byte) (doc Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			doc = nil
			err = &errspkg.DecodeError{Target: ServiceEnvelopeName, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	env := dynamicpb.NewMessage(envelopeDesc)
	if err := proto.Unmarshal(raw, env); err != nil {
		return nil, &errspkg.DecodeError{Target: ServiceEnvelopeName, Err: err}
	}

	packet := env.Get(packetField).Message()
	if !packet.Has(decodedField) {
		return nil, &errspkg.UnsupportedTypeError{MissingDecoded: true}
	}
	data := packet.Get(decodedField).Message()
	port := int32(data.Get(portnumField).Enum())

	payload, err := DecodePayload(port, data.Get(payloadField).Bytes())
	if err != nil {
		return nil, err
	}

	tree, err := toDocument(env)
	if err != nil {
		return nil, &errspkg.DecodeError{Target: ServiceEnvelopeName, Err: err}
	}

	packetDoc, _ := tree["packet"].(map[string]any)
	decodedDoc, _ := packetDoc["decoded"].(map[string]any)
	if decodedDoc == nil {
		return nil, &errspkg.DecodeError{Target: ServiceEnvelopeName, Err: errors.New("packet.decoded missing from converted document")}
	}
	decodedDoc["payload"] = payload
	decodedDoc["size"] = len(raw)

	return Document(tree), nil
}

// DecodePayload decodes a single application payload for port.
func DecodePayload(port int32, payload []byte) (map[string]any, error) {
	d, ok := Lookup(port)
	if !ok {
		unsupported := &errspkg.UnsupportedTypeError{PortNum: port}
		if name, known := portNames[port]; known {
			unsupported.PortName = name
		}
		return nil, unsupported
	}

	switch d.Kind {
	case KindText, KindRangeTest:
		if !utf8.Valid(payload) {
			return nil, &errspkg.DecodeError{Target: PortName(port), Err: errInvalidUTF8}
		}
		return map[string]any{d.textKey(): string(payload)}, nil
	default:
		msg := dynamicpb.NewMessage(d.Message)
		if err := proto.Unmarshal(payload, msg); err != nil {
			return nil, &errspkg.DecodeError{Target: string(d.Message.Name()), Err: err}
		}
		out, err := toDocument(msg)
		if err != nil {
			return nil, &errspkg.DecodeError{Target: string(d.Message.Name()), Err: err}
		}
		return out, nil
	}
}

func toDocument(msg protoreflect.ProtoMessage) (map[string]any, error) {
	encoded, err := jsonOptions.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return jsoncodec.UnmarshalDocument(encoded)
}
