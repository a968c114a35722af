package runtime

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/drblury/meshflow/internal/runtime/envelope"
	loggingpkg "github.com/drblury/meshflow/internal/runtime/logging"
)

type logEntry struct {
	level  string
	msg    string
	err    error
	fields loggingpkg.LogFields
}

// recordingLogger captures log calls so tests can count drops and warnings.
type recordingLogger struct {
	entries *[]logEntry
	base    loggingpkg.LogFields
}

func newRecordingLogger() *recordingLogger {
	return &recordingLogger{entries: &[]logEntry{}}
}

func (l *recordingLogger) With(fields loggingpkg.LogFields) loggingpkg.ServiceLogger {
	merged := loggingpkg.LogFields{}
	for k, v := range l.base {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &recordingLogger{entries: l.entries, base: merged}
}

func (l *recordingLogger) Debug(msg string, fields loggingpkg.LogFields) {
	l.record("debug", msg, nil, fields)
}

func (l *recordingLogger) Info(msg string, fields loggingpkg.LogFields) {
	l.record("info", msg, nil, fields)
}

func (l *recordingLogger) Warn(msg string, err error, fields loggingpkg.LogFields) {
	l.record("warn", msg, err, fields)
}

func (l *recordingLogger) Error(msg string, err error, fields loggingpkg.LogFields) {
	l.record("error", msg, err, fields)
}

func (l *recordingLogger) Trace(msg string, fields loggingpkg.LogFields) {
	l.record("trace", msg, nil, fields)
}

var recordMu sync.Mutex

func (l *recordingLogger) record(level, msg string, err error, fields loggingpkg.LogFields) {
	merged := loggingpkg.LogFields{}
	for k, v := range l.base {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	recordMu.Lock()
	defer recordMu.Unlock()
	*l.entries = append(*l.entries, logEntry{level: level, msg: msg, err: err, fields: merged})
}

func (l *recordingLogger) byLevel(level string) []logEntry {
	recordMu.Lock()
	defer recordMu.Unlock()
	var out []logEntry
	for _, e := range *l.entries {
		if e.level == level {
			out = append(out, e)
		}
	}
	return out
}

func (l *recordingLogger) count(level, msg string) int {
	n := 0
	for _, e := range l.byLevel(level) {
		if e.msg == msg {
			n++
		}
	}
	return n
}

func newProto(t testing.TB, name string) *dynamicpb.Message {
	t.Helper()
	md, ok := envelope.MessageDescriptor(name)
	require.True(t, ok, "message %s", name)
	return dynamicpb.NewMessage(md)
}

func setField(t testing.TB, m *dynamicpb.Message, name string, v protoreflect.Value) {
	t.Helper()
	fd := m.Descriptor().Fields().ByName(protoreflect.Name(name))
	require.NotNil(t, fd, "field %s", name)
	m.Set(fd, v)
}

// envelopeBytes encodes a ServiceEnvelope carrying payload under port.
func envelopeBytes(t testing.TB, port int32, payload []byte) []byte {
	t.Helper()
	data := newProto(t, envelope.DataName)
	setField(t, data, "portnum", protoreflect.ValueOfEnum(protoreflect.EnumNumber(port)))
	setField(t, data, "payload", protoreflect.ValueOfBytes(payload))

	packet := newProto(t, envelope.MeshPacketName)
	setField(t, packet, "from", protoreflect.ValueOfUint32(0xabcd1234))
	setField(t, packet, "id", protoreflect.ValueOfUint32(7))
	setField(t, packet, "decoded", protoreflect.ValueOfMessage(data))

	env := newProto(t, envelope.ServiceEnvelopeName)
	setField(t, env, "packet", protoreflect.ValueOfMessage(packet))
	setField(t, env, "channel_id", protoreflect.ValueOfString("LongFast"))
	setField(t, env, "gateway_id", protoreflect.ValueOfString("!abcd1234"))

	raw, err := proto.Marshal(env)
	require.NoError(t, err)
	return raw
}

func textEnvelope(t testing.TB, text string) []byte {
	return envelopeBytes(t, envelope.PortTextMessage, []byte(text))
}
