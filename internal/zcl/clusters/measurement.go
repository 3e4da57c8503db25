package clusters

import "znp-host/internal/zcl"

// measured builds the common MeasuredValue/Min/Max/Tolerance layout shared
// by the 0x04xx measurement clusters.
func measured(id uint16, name string, t zcl.DataType, extra ...zcl.AttributeDef) zcl.ClusterDef {
	attrs := []zcl.AttributeDef{
		{ID: 0x0000, Name: "MeasuredValue", Type: t, Access: rp},
		{ID: 0x0001, Name: "MinMeasuredValue", Type: t, Access: r},
		{ID: 0x0002, Name: "MaxMeasuredValue", Type: t, Access: r},
		{ID: 0x0003, Name: "Tolerance", Type: zcl.TypeUint16, Access: r},
	}
	return zcl.ClusterDef{ID: id, Name: name, Attributes: append(attrs, extra...)}
}

var (
	IlluminanceMeasurement = measured(0x0400, "Illuminance Measurement", zcl.TypeUint16,
		zcl.AttributeDef{ID: 0x0004, Name: "LightSensorType", Type: zcl.TypeEnum8, Access: r})

	TemperatureMeasurement = measured(0x0402, "Temperature Measurement", zcl.TypeInt16)

	PressureMeasurement = measured(0x0403, "Pressure Measurement", zcl.TypeInt16,
		zcl.AttributeDef{ID: 0x0010, Name: "ScaledValue", Type: zcl.TypeInt16, Access: rp},
		zcl.AttributeDef{ID: 0x0014, Name: "Scale", Type: zcl.TypeInt8, Access: r})

	FlowMeasurement = measured(0x0404, "Flow Measurement", zcl.TypeUint16)

	RelativeHumidity = measured(0x0405, "Relative Humidity", zcl.TypeUint16)
)

var OccupancySensing = zcl.ClusterDef{
	ID:   0x0406,
	Name: "Occupancy Sensing",
	Attributes: []zcl.AttributeDef{
		{ID: 0x0000, Name: "Occupancy", Type: zcl.TypeBitmap8, Access: rp},
		{ID: 0x0001, Name: "OccupancySensorType", Type: zcl.TypeEnum8, Access: r},
		{ID: 0x0010, Name: "PIROccupiedToUnoccupiedDelay", Type: zcl.TypeUint16, Access: rw},
		{ID: 0x0011, Name: "PIRUnoccupiedToOccupiedDelay", Type: zcl.TypeUint16, Access: rw},
	},
}
