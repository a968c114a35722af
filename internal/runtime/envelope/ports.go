package envelope

import (
	"slices"
	"strconv"

	"google.golang.org/protobuf/reflect/protoreflect"
)

// Port numbers the decoder table knows about.
const (
	PortTextMessage int32 = 1
	PortPosition    int32 = 3
	PortNodeInfo    int32 = 4
	PortRangeTest   int32 = 66
	PortTelemetry   int32 = 67
)

var portNames = map[int32]string{
	0:   "UNKNOWN_APP",
	1:   "TEXT_MESSAGE_APP",
	2:   "REMOTE_HARDWARE_APP",
	3:   "POSITION_APP",
	4:   "NODEINFO_APP",
	5:   "ROUTING_APP",
	6:   "ADMIN_APP",
	7:   "TEXT_MESSAGE_COMPRESSED_APP",
	8:   "WAYPOINT_APP",
	9:   "AUDIO_APP",
	10:  "DETECTION_SENSOR_APP",
	11:  "ALERT_APP",
	32:  "REPLY_APP",
	33:  "IP_TUNNEL_APP",
	34:  "PAXCOUNTER_APP",
	64:  "SERIAL_APP",
	65:  "STORE_FORWARD_APP",
	66:  "RANGE_TEST_APP",
	67:  "TELEMETRY_APP",
	68:  "ZPS_APP",
	69:  "SIMULATOR_APP",
	70:  "TRACEROUTE_APP",
	71:  "NEIGHBORINFO_APP",
	72:  "ATAK_PLUGIN",
	73:  "MAP_REPORT_APP",
	74:  "POWERSTRESS_APP",
	76:  "RETICULUM_TUNNEL_APP",
	77:  "CAYENNE_APP",
	256: "PRIVATE_APP",
	257: "ATAK_FORWARDER",
	511: "MAX",
}

// PortName returns the symbolic name of port, or its decimal form when the
// port is not a known application.
func PortName(port int32) string {
	if name, ok := portNames[port]; ok {
		return name
	}
	return strconv.Itoa(int(port))
}

// Kind is the payload shape a port decodes to.
type Kind int

const (
	// KindText payloads are UTF-8 text rendered as {"text": ...}.
	KindText Kind = iota + 1
	// KindRangeTest payloads are UTF-8 text rendered as {"range_test": ...}.
	KindRangeTest
	// KindStructured payloads are protobuf sub-messages rendered as maps.
	KindStructured
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindRangeTest:
		return "range_test"
	case KindStructured:
		return "structured"
	default:
		return "unknown"
	}
}

// PortDecoder is the decode strategy for one port. Message is set only for
// KindStructured.
type PortDecoder struct {
	Port    int32
	Kind    Kind
	Message protoreflect.MessageDescriptor
}

// textKey is the output key for raw-string kinds.
func (d PortDecoder) textKey() string {
	if d.Kind == KindRangeTest {
		return "range_test"
	}
	return "text"
}

var decoders = map[int32]PortDecoder{
	PortTextMessage: {Port: PortTextMessage, Kind: KindText},
	PortRangeTest:   {Port: PortRangeTest, Kind: KindRangeTest},
	PortPosition:    {Port: PortPosition, Kind: KindStructured, Message: mustMessage(PositionName)},
	PortNodeInfo:    {Port: PortNodeInfo, Kind: KindStructured, Message: mustMessage(UserName)},
	PortTelemetry:   {Port: PortTelemetry, Kind: KindStructured, Message: mustMessage(TelemetryName)},
}

// Lookup returns the decoder registered for port.
func Lookup(port int32) (PortDecoder, bool) {
	d, ok := decoders[port]
	return d, ok
}

// Ports lists the supported port numbers in ascending order.
func Ports() []int32 {
	ports := make([]int32, 0, len(decoders))
	for port := range decoders {
		ports = append(ports, port)
	}
	slices.Sort(ports)
	return ports
}
