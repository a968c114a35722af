package envelope

import (
	"cmp"
	"fmt"
	"slices"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
)

// Package is the protobuf package of every message the bridge understands.
const Package = "meshtastic"

// Message names within Package.
const (
	ServiceEnvelopeName    = "ServiceEnvelope"
	MeshPacketName         = "MeshPacket"
	DataName               = "Data"
	UserName               = "User"
	PositionName           = "Position"
	TelemetryName          = "Telemetry"
	DeviceMetricsName      = "DeviceMetrics"
	EnvironmentMetricsName = "EnvironmentMetrics"
	AirQualityMetricsName  = "AirQualityMetrics"
	PowerMetricsName       = "PowerMetrics"
	LocalStatsName         = "LocalStats"
	HealthMetricsName      = "HealthMetrics"
)

type (
	fieldType = descriptorpb.FieldDescriptorProto_Type

	fieldSpec struct {
		name     string
		number   int32
		kind     fieldType
		typeName string
		optional bool
		oneof    string
	}

	enumValue struct {
		name   string
		number int32
	}

	enumSpec struct {
		name   string
		values []enumValue
	}

	messageSpec struct {
		name   string
		oneofs []string
		fields []fieldSpec
		enums  []enumSpec
	}
)

const (
	tBool     = descriptorpb.FieldDescriptorProto_TYPE_BOOL
	tBytes    = descriptorpb.FieldDescriptorProto_TYPE_BYTES
	tEnum     = descriptorpb.FieldDescriptorProto_TYPE_ENUM
	tFixed32  = descriptorpb.FieldDescriptorProto_TYPE_FIXED32
	tFloat    = descriptorpb.FieldDescriptorProto_TYPE_FLOAT
	tInt32    = descriptorpb.FieldDescriptorProto_TYPE_INT32
	tMessage  = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE
	tSfixed32 = descriptorpb.FieldDescriptorProto_TYPE_SFIXED32
	tSint32   = descriptorpb.FieldDescriptorProto_TYPE_SINT32
	tString   = descriptorpb.FieldDescriptorProto_TYPE_STRING
	tUint32   = descriptorpb.FieldDescriptorProto_TYPE_UINT32
)

func scalar(name string, number int32, kind fieldType) fieldSpec {
	return fieldSpec{name: name, number: number, kind: kind}
}

func optional(name string, number int32, kind fieldType) fieldSpec {
	return fieldSpec{name: name, number: number, kind: kind, optional: true}
}

func ref(name string, number int32, kind fieldType, typeName string) fieldSpec {
	return fieldSpec{name: name, number: number, kind: kind, typeName: "." + Package + "." + typeName}
}

func (f fieldSpec) in(oneof string) fieldSpec {
	f.oneof = oneof
	return f
}

func values(names map[int32]string) []enumValue {
	out := make([]enumValue, 0, len(names))
	for number, name := range names {
		out = append(out, enumValue{name: name, number: number})
	}
	slices.SortFunc(out, func(a, b enumValue) int { return cmp.Compare(a.number, b.number) })
	return out
}

func (e enumSpec) descriptor() *descriptorpb.EnumDescriptorProto {
	out := &descriptorpb.EnumDescriptorProto{Name: proto.String(e.name)}
	for _, v := range e.values {
		out.Value = append(out.Value, &descriptorpb.EnumValueDescriptorProto{
			Name:   proto.String(v.name),
			Number: proto.Int32(v.number),
		})
	}
	return out
}

// descriptor lays out real oneofs first; proto3 optional fields get their
// synthetic oneofs appended after them, as protoc does.
func (m messageSpec) descriptor() *descriptorpb.DescriptorProto {
	out := &descriptorpb.DescriptorProto{Name: proto.String(m.name)}

	oneofIndex := make(map[string]int32, len(m.oneofs))
	for _, name := range m.oneofs {
		oneofIndex[name] = int32(len(out.OneofDecl))
		out.OneofDecl = append(out.OneofDecl, &descriptorpb.OneofDescriptorProto{Name: proto.String(name)})
	}

	for _, f := range m.fields {
		fd := &descriptorpb.FieldDescriptorProto{
			Name:   proto.String(f.name),
			Number: proto.Int32(f.number),
			Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
			Type:   f.kind.Enum(),
		}
		if f.typeName != "" {
			fd.TypeName = proto.String(f.typeName)
		}
		if f.oneof != "" {
			fd.OneofIndex = proto.Int32(oneofIndex[f.oneof])
		}
		out.Field = append(out.Field, fd)
	}

	for i, f := range m.fields {
		if !f.optional {
			continue
		}
		out.Field[i].OneofIndex = proto.Int32(int32(len(out.OneofDecl)))
		out.Field[i].Proto3Optional = proto.Bool(true)
		out.OneofDecl = append(out.OneofDecl, &descriptorpb.OneofDescriptorProto{Name: proto.String("_" + f.name)})
	}

	for _, e := range m.enums {
		out.EnumType = append(out.EnumType, e.descriptor())
	}
	return out
}

var portNumEnum = enumSpec{name: "PortNum", values: values(portNames)}

var hardwareModelEnum = enumSpec{name: "HardwareModel", values: values(map[int32]string{
	0: "UNSET", 1: "TLORA_V2", 2: "TLORA_V1", 3: "TLORA_V2_1_1P6", 4: "TBEAM",
	5: "HELTEC_V2_0", 6: "TBEAM_V0P7", 7: "T_ECHO", 8: "TLORA_V1_1P3", 9: "RAK4631",
	10: "HELTEC_V2_1", 11: "HELTEC_V1", 12: "LILYGO_TBEAM_S3_CORE", 13: "RAK11200",
	14: "NANO_G1", 15: "TLORA_V2_1_1P8", 16: "TLORA_T3_S3", 17: "NANO_G1_EXPLORER",
	18: "NANO_G2_ULTRA", 19: "LORA_TYPE", 20: "WIPHONE", 21: "WIO_WM1110", 22: "RAK2560",
	23: "HELTEC_HRU_3601", 24: "HELTEC_WIRELESS_BRIDGE", 25: "STATION_G1", 26: "RAK11310",
	27: "SENSELORA_RP2040", 28: "SENSELORA_S3", 29: "CANARYONE", 30: "RP2040_LORA",
	31: "STATION_G2", 32: "LORA_RELAY_V1", 33: "NRF52840DK", 34: "PPR", 35: "GENIEBLOCKS",
	36: "NRF52_UNKNOWN", 37: "PORTDUINO", 38: "ANDROID_SIM", 39: "DIY_V1",
	40: "NRF52840_PCA10059", 41: "DR_DEV", 42: "M5STACK", 43: "HELTEC_V3", 44: "HELTEC_WSL_V3",
	45: "BETAFPV_2400_TX", 46: "BETAFPV_900_NANO_TX", 47: "RPI_PICO", 48: "HELTEC_WIRELESS_TRACKER",
	49: "HELTEC_WIRELESS_PAPER", 50: "T_DECK", 51: "T_WATCH_S3", 52: "PICOMPUTER_S3",
	53: "HELTEC_HT62", 54: "EBYTE_ESP32_S3", 55: "ESP32_S3_PICO", 56: "CHATTER_2",
	57: "HELTEC_WIRELESS_PAPER_V1_0", 58: "HELTEC_WIRELESS_TRACKER_V1_0", 59: "UNPHONE",
	60: "TD_LORAC", 61: "CDEBYTE_EORA_S3", 62: "TWC_MESH_V4", 63: "NRF52_PROMICRO_DIY",
	64: "RADIOMASTER_900_BANDIT_NANO", 65: "HELTEC_CAPSULE_SENSOR_V3", 66: "HELTEC_VISION_MASTER_T190",
	67: "HELTEC_VISION_MASTER_E213", 68: "HELTEC_VISION_MASTER_E290", 69: "HELTEC_MESH_NODE_T114",
	70: "SENSECAP_INDICATOR", 71: "TRACKER_T1000_E",
	255: "PRIVATE_HW",
})}

var messageSpecs = []messageSpec{
	{
		name: ServiceEnvelopeName,
		fields: []fieldSpec{
			ref("packet", 1, tMessage, MeshPacketName),
			scalar("channel_id", 2, tString),
			scalar("gateway_id", 3, tString),
		},
	},
	{
		name:   MeshPacketName,
		oneofs: []string{"payload_variant"},
		fields: []fieldSpec{
			scalar("from", 1, tFixed32),
			scalar("to", 2, tFixed32),
			scalar("channel", 3, tUint32),
			ref("decoded", 4, tMessage, DataName).in("payload_variant"),
			scalar("encrypted", 5, tBytes).in("payload_variant"),
			scalar("id", 6, tFixed32),
			scalar("rx_time", 7, tFixed32),
			scalar("rx_snr", 8, tFloat),
			scalar("hop_limit", 9, tUint32),
			scalar("want_ack", 10, tBool),
			ref("priority", 11, tEnum, MeshPacketName+".Priority"),
			scalar("rx_rssi", 12, tInt32),
			ref("delayed", 13, tEnum, MeshPacketName+".Delayed"),
			scalar("via_mqtt", 14, tBool),
			scalar("hop_start", 15, tUint32),
			scalar("public_key", 16, tBytes),
			scalar("pki_encrypted", 17, tBool),
			scalar("next_hop", 18, tUint32),
			scalar("relay_node", 19, tUint32),
			scalar("tx_after", 20, tUint32),
			ref("transport_mechanism", 21, tEnum, MeshPacketName+".TransportMechanism"),
		},
		enums: []enumSpec{
			{name: "Priority", values: values(map[int32]string{
				0: "UNSET", 1: "MIN", 10: "BACKGROUND", 64: "DEFAULT", 70: "RELIABLE",
				80: "RESPONSE", 100: "HIGH", 110: "ALERT", 120: "ACK", 127: "MAX",
			})},
			{name: "Delayed", values: values(map[int32]string{
				0: "NO_DELAY", 1: "DELAYED_BROADCAST", 2: "DELAYED_DIRECT",
			})},
			{name: "TransportMechanism", values: values(map[int32]string{
				0: "TRANSPORT_INTERNAL", 1: "TRANSPORT_LORA", 2: "TRANSPORT_LORA_ALT1",
				3: "TRANSPORT_LORA_ALT2", 4: "TRANSPORT_LORA_ALT3", 5: "TRANSPORT_MQTT",
				6: "TRANSPORT_MULTICAST_UDP", 7: "TRANSPORT_API",
			})},
		},
	},
	{
		name: DataName,
		fields: []fieldSpec{
			ref("portnum", 1, tEnum, "PortNum"),
			scalar("payload", 2, tBytes),
			scalar("want_response", 3, tBool),
			scalar("dest", 4, tFixed32),
			scalar("source", 5, tFixed32),
			scalar("request_id", 6, tFixed32),
			scalar("reply_id", 7, tFixed32),
			scalar("emoji", 8, tFixed32),
			optional("bitfield", 9, tUint32),
		},
	},
	{
		name: UserName,
		fields: []fieldSpec{
			scalar("id", 1, tString),
			scalar("long_name", 2, tString),
			scalar("short_name", 3, tString),
			scalar("macaddr", 4, tBytes),
			ref("hw_model", 5, tEnum, "HardwareModel"),
			scalar("is_licensed", 6, tBool),
			ref("role", 7, tEnum, UserName+".Role"),
			scalar("public_key", 8, tBytes),
			optional("is_unmessagable", 9, tBool),
		},
		enums: []enumSpec{
			{name: "Role", values: values(map[int32]string{
				0: "CLIENT", 1: "CLIENT_MUTE", 2: "ROUTER", 3: "ROUTER_CLIENT", 4: "REPEATER",
				5: "TRACKER", 6: "SENSOR", 7: "TAK", 8: "CLIENT_HIDDEN", 9: "LOST_AND_FOUND",
				10: "TAK_TRACKER", 11: "ROUTER_LATE", 12: "CLIENT_BASE",
			})},
		},
	},
	{
		name: PositionName,
		fields: []fieldSpec{
			optional("latitude_i", 1, tSfixed32),
			optional("longitude_i", 2, tSfixed32),
			optional("altitude", 3, tInt32),
			scalar("time", 4, tFixed32),
			ref("location_source", 5, tEnum, PositionName+".LocSource"),
			ref("altitude_source", 6, tEnum, PositionName+".AltSource"),
			scalar("timestamp", 7, tFixed32),
			scalar("timestamp_millis_adjust", 8, tInt32),
			optional("altitude_hae", 9, tSint32),
			optional("altitude_geoidal_separation", 10, tSint32),
			scalar("PDOP", 11, tUint32),
			scalar("HDOP", 12, tUint32),
			scalar("VDOP", 13, tUint32),
			scalar("gps_accuracy", 14, tUint32),
			optional("ground_speed", 15, tUint32),
			optional("ground_track", 16, tUint32),
			scalar("fix_quality", 17, tUint32),
			scalar("fix_type", 18, tUint32),
			scalar("sats_in_view", 19, tUint32),
			scalar("sensor_id", 20, tUint32),
			scalar("next_update", 21, tUint32),
			scalar("seq_number", 22, tUint32),
			scalar("precision_bits", 23, tUint32),
		},
		enums: []enumSpec{
			{name: "LocSource", values: values(map[int32]string{
				0: "LOC_UNSET", 1: "LOC_MANUAL", 2: "LOC_INTERNAL", 3: "LOC_EXTERNAL",
			})},
			{name: "AltSource", values: values(map[int32]string{
				0: "ALT_UNSET", 1: "ALT_MANUAL", 2: "ALT_INTERNAL", 3: "ALT_EXTERNAL", 4: "ALT_BAROMETRIC",
			})},
		},
	},
	{
		name:   TelemetryName,
		oneofs: []string{"variant"},
		fields: []fieldSpec{
			scalar("time", 1, tFixed32),
			ref("device_metrics", 2, tMessage, DeviceMetricsName).in("variant"),
			ref("environment_metrics", 3, tMessage, EnvironmentMetricsName).in("variant"),
			ref("air_quality_metrics", 4, tMessage, AirQualityMetricsName).in("variant"),
			ref("power_metrics", 5, tMessage, PowerMetricsName).in("variant"),
			ref("local_stats", 6, tMessage, LocalStatsName).in("variant"),
			ref("health_metrics", 7, tMessage, HealthMetricsName).in("variant"),
		},
	},
	{
		name: DeviceMetricsName,
		fields: []fieldSpec{
			optional("battery_level", 1, tUint32),
			optional("voltage", 2, tFloat),
			optional("channel_utilization", 3, tFloat),
			optional("air_util_tx", 4, tFloat),
			optional("uptime_seconds", 5, tUint32),
		},
	},
	{
		name: EnvironmentMetricsName,
		fields: []fieldSpec{
			optional("temperature", 1, tFloat),
			optional("relative_humidity", 2, tFloat),
			optional("barometric_pressure", 3, tFloat),
			optional("gas_resistance", 4, tFloat),
			optional("voltage", 5, tFloat),
			optional("current", 6, tFloat),
			optional("iaq", 7, tUint32),
			optional("distance", 8, tFloat),
			optional("lux", 9, tFloat),
			optional("white_lux", 10, tFloat),
			optional("ir_lux", 11, tFloat),
			optional("uv_lux", 12, tFloat),
			optional("wind_direction", 13, tUint32),
			optional("wind_speed", 14, tFloat),
			optional("weight", 15, tFloat),
			optional("wind_gust", 16, tFloat),
			optional("wind_lull", 17, tFloat),
			optional("radiation", 18, tFloat),
			optional("rainfall_1h", 19, tFloat),
			optional("rainfall_24h", 20, tFloat),
			optional("soil_moisture", 21, tUint32),
			optional("soil_temperature", 22, tFloat),
		},
	},
	{
		name: AirQualityMetricsName,
		fields: []fieldSpec{
			optional("pm10_standard", 1, tUint32),
			optional("pm25_standard", 2, tUint32),
			optional("pm100_standard", 3, tUint32),
			optional("pm10_environmental", 4, tUint32),
			optional("pm25_environmental", 5, tUint32),
			optional("pm100_environmental", 6, tUint32),
			optional("particles_03um", 7, tUint32),
			optional("particles_05um", 8, tUint32),
			optional("particles_10um", 9, tUint32),
			optional("particles_25um", 10, tUint32),
			optional("particles_50um", 11, tUint32),
			optional("particles_100um", 12, tUint32),
			optional("co2", 13, tUint32),
		},
	},
	{
		name: PowerMetricsName,
		fields: []fieldSpec{
			optional("ch1_voltage", 1, tFloat),
			optional("ch1_current", 2, tFloat),
			optional("ch2_voltage", 3, tFloat),
			optional("ch2_current", 4, tFloat),
			optional("ch3_voltage", 5, tFloat),
			optional("ch3_current", 6, tFloat),
		},
	},
	{
		name: LocalStatsName,
		fields: []fieldSpec{
			scalar("uptime_seconds", 1, tUint32),
			scalar("channel_utilization", 2, tFloat),
			scalar("air_util_tx", 3, tFloat),
			scalar("num_packets_tx", 4, tUint32),
			scalar("num_packets_rx", 5, tUint32),
			scalar("num_packets_rx_bad", 6, tUint32),
			scalar("num_online_nodes", 7, tUint32),
			scalar("num_total_nodes", 8, tUint32),
			scalar("num_rx_dupe", 9, tUint32),
			scalar("num_tx_relay", 10, tUint32),
			scalar("num_tx_relay_canceled", 11, tUint32),
		},
	},
	{
		name: HealthMetricsName,
		fields: []fieldSpec{
			optional("heart_bpm", 1, tUint32),
			optional("spO2", 2, tUint32),
			optional("temperature", 3, tFloat),
		},
	},
}

func buildFile() (protoreflect.FileDescriptor, error) {
	file := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("meshtastic/meshflow.proto"),
		Package: proto.String(Package),
		Syntax:  proto.String("proto3"),
		EnumType: []*descriptorpb.EnumDescriptorProto{
			portNumEnum.descriptor(),
			hardwareModelEnum.descriptor(),
		},
	}
	for _, m := range messageSpecs {
		file.MessageType = append(file.MessageType, m.descriptor())
	}
	fd, err := protodesc.NewFile(file, nil)
	if err != nil {
		return nil, fmt.Errorf("build %s schema: %w", Package, err)
	}
	return fd, nil
}

var schema = mustBuildFile()

func mustBuildFile() protoreflect.FileDescriptor {
	fd, err := buildFile()
	if err != nil {
		panic(err)
	}
	return fd
}

// File returns the descriptor of the embedded schema.
func File() protoreflect.FileDescriptor {
	return schema
}

// MessageDescriptor looks up a top-level message of the embedded schema.
func MessageDescriptor(name string) (protoreflect.MessageDescriptor, bool) {
	md := schema.Messages().ByName(protoreflect.Name(name))
	return md, md != nil
}

func mustMessage(name string) protoreflect.MessageDescriptor {
	md, ok := MessageDescriptor(name)
	if !ok {
		panic(fmt.Sprintf("meshflow: message %s.%s missing from schema", Package, name))
	}
	return md
}

func mustField(md protoreflect.MessageDescriptor, name string) protoreflect.FieldDescriptor {
	fd := md.Fields().ByName(protoreflect.Name(name))
	if fd == nil {
		panic(fmt.Sprintf("meshflow: field %s.%s missing from schema", md.FullName(), name))
	}
	return fd
}
