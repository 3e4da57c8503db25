package clusters

import "znp-host/internal/zcl"

var DoorLock = zcl.ClusterDef{
	ID:   0x0101,
	Name: "Door Lock",
	Attributes: []zcl.AttributeDef{
		{ID: 0x0000, Name: "LockState", Type: zcl.TypeEnum8, Access: rp},
		{ID: 0x0001, Name: "LockType", Type: zcl.TypeEnum8, Access: r},
		{ID: 0x0002, Name: "ActuatorEnabled", Type: zcl.TypeBool, Access: r},
		{ID: 0x0003, Name: "DoorState", Type: zcl.TypeEnum8, Access: rp},
	},
	Commands: []zcl.CommandDef{
		toServer(0x00, "LockDoor", p("pincode", zcl.TypeOctetStr)),
		toServer(0x01, "UnlockDoor", p("pincode", zcl.TypeOctetStr)),
		toServer(0x02, "Toggle", p("pincode", zcl.TypeOctetStr)),
		toClient(0x00, "LockDoorResponse", p("status", zcl.TypeEnum8)),
		toClient(0x01, "UnlockDoorResponse", p("status", zcl.TypeEnum8)),
	},
}

var WindowCovering = zcl.ClusterDef{
	ID:   0x0102,
	Name: "Window Covering",
	Attributes: []zcl.AttributeDef{
		{ID: 0x0000, Name: "WindowCoveringType", Type: zcl.TypeEnum8, Access: r},
		{ID: 0x0007, Name: "ConfigStatus", Type: zcl.TypeBitmap8, Access: r},
		{ID: 0x0008, Name: "CurrentPositionLiftPercentage", Type: zcl.TypeUint8, Access: rp},
		{ID: 0x0009, Name: "CurrentPositionTiltPercentage", Type: zcl.TypeUint8, Access: rp},
		{ID: 0x0017, Name: "Mode", Type: zcl.TypeBitmap8, Access: rw},
	},
	Commands: []zcl.CommandDef{
		toServer(0x00, "UpOpen"),
		toServer(0x01, "DownClose"),
		toServer(0x02, "Stop"),
		toServer(0x05, "GoToLiftPercentage", p("percentageliftvalue", zcl.TypeUint8)),
		toServer(0x08, "GoToTiltPercentage", p("percentagetiltvalue", zcl.TypeUint8)),
	},
}

var Thermostat = zcl.ClusterDef{
	ID:   0x0201,
	Name: "Thermostat",
	Attributes: []zcl.AttributeDef{
		{ID: 0x0000, Name: "LocalTemperature", Type: zcl.TypeInt16, Access: rp},
		{ID: 0x0003, Name: "AbsMinHeatSetpointLimit", Type: zcl.TypeInt16, Access: r},
		{ID: 0x0004, Name: "AbsMaxHeatSetpointLimit", Type: zcl.TypeInt16, Access: r},
		{ID: 0x0011, Name: "OccupiedCoolingSetpoint", Type: zcl.TypeInt16, Access: rwp},
		{ID: 0x0012, Name: "OccupiedHeatingSetpoint", Type: zcl.TypeInt16, Access: rwp},
		{ID: 0x001B, Name: "ControlSequenceOfOperation", Type: zcl.TypeEnum8, Access: rw},
		{ID: 0x001C, Name: "SystemMode", Type: zcl.TypeEnum8, Access: rwp},
		{ID: 0x0029, Name: "RunningState", Type: zcl.TypeBitmap16, Access: rp},
	},
	Commands: []zcl.CommandDef{
		toServer(0x00, "SetpointRaiseLower", p("mode", zcl.TypeEnum8), p("amount", zcl.TypeInt8)),
	},
}

var ColorControl = zcl.ClusterDef{
	ID:   0x0300,
	Name: "Color Control",
	Attributes: []zcl.AttributeDef{
		{ID: 0x0000, Name: "CurrentHue", Type: zcl.TypeUint8, Access: rp},
		{ID: 0x0001, Name: "CurrentSaturation", Type: zcl.TypeUint8, Access: rp},
		{ID: 0x0002, Name: "RemainingTime", Type: zcl.TypeUint16, Access: r},
		{ID: 0x0003, Name: "CurrentX", Type: zcl.TypeUint16, Access: rp},
		{ID: 0x0004, Name: "CurrentY", Type: zcl.TypeUint16, Access: rp},
		{ID: 0x0007, Name: "ColorTemperatureMireds", Type: zcl.TypeUint16, Access: rp},
		{ID: 0x0008, Name: "ColorMode", Type: zcl.TypeEnum8, Access: r},
		{ID: 0x000F, Name: "Options", Type: zcl.TypeBitmap8, Access: rw},
		{ID: 0x400A, Name: "ColorCapabilities", Type: zcl.TypeBitmap16, Access: r},
		{ID: 0x400B, Name: "ColorTempPhysicalMinMireds", Type: zcl.TypeUint16, Access: r},
		{ID: 0x400C, Name: "ColorTempPhysicalMaxMireds", Type: zcl.TypeUint16, Access: r},
	},
	Commands: []zcl.CommandDef{
		toServer(0x00, "MoveToHue", p("hue", zcl.TypeUint8), p("direction", zcl.TypeEnum8), p("transtime", zcl.TypeUint16)),
		toServer(0x03, "MoveToSaturation", p("saturation", zcl.TypeUint8), p("transtime", zcl.TypeUint16)),
		toServer(0x06, "MoveToHueAndSaturation", p("hue", zcl.TypeUint8), p("saturation", zcl.TypeUint8), p("transtime", zcl.TypeUint16)),
		toServer(0x07, "MoveToColor", p("colorx", zcl.TypeUint16), p("colory", zcl.TypeUint16), p("transtime", zcl.TypeUint16)),
		toServer(0x0A, "MoveToColorTemperature", p("colortemp", zcl.TypeUint16), p("transtime", zcl.TypeUint16)),
		toServer(0x47, "StopMoveStep"),
	},
}

var IASZone = zcl.ClusterDef{
	ID:   0x0500,
	Name: "IAS Zone",
	Attributes: []zcl.AttributeDef{
		{ID: 0x0000, Name: "ZoneState", Type: zcl.TypeEnum8, Access: r},
		{ID: 0x0001, Name: "ZoneType", Type: zcl.TypeEnum16, Access: r},
		{ID: 0x0002, Name: "ZoneStatus", Type: zcl.TypeBitmap16, Access: rp},
		{ID: 0x0010, Name: "IASCIEAddress", Type: zcl.TypeEUI64, Access: rw},
		{ID: 0x0011, Name: "ZoneID", Type: zcl.TypeUint8, Access: r},
	},
	Commands: []zcl.CommandDef{
		toServer(0x00, "ZoneEnrollResponse", p("enrollresponsecode", zcl.TypeEnum8), p("zoneid", zcl.TypeUint8)),
		toClient(0x00, "ZoneStatusChangeNotification",
			p("zonestatus", zcl.TypeBitmap16), p("extendedstatus", zcl.TypeBitmap8),
			p("zoneid", zcl.TypeUint8), p("delay", zcl.TypeUint16)),
		toClient(0x01, "ZoneEnrollRequest", p("zonetype", zcl.TypeEnum16), p("manufacturercode", zcl.TypeUint16)),
	},
}

// Metering keeps the reading, formatting and instantaneous demand sets.
var Metering = zcl.ClusterDef{
	ID:   0x0702,
	Name: "Metering",
	Attributes: []zcl.AttributeDef{
		{ID: 0x0000, Name: "CurrentSummationDelivered", Type: zcl.TypeUint48, Access: rp},
		{ID: 0x0001, Name: "CurrentSummationReceived", Type: zcl.TypeUint48, Access: r},
		{ID: 0x0200, Name: "Status", Type: zcl.TypeBitmap8, Access: r},
		{ID: 0x0300, Name: "UnitOfMeasure", Type: zcl.TypeEnum8, Access: r},
		{ID: 0x0301, Name: "Multiplier", Type: zcl.TypeUint24, Access: r},
		{ID: 0x0302, Name: "Divisor", Type: zcl.TypeUint24, Access: r},
		{ID: 0x0400, Name: "InstantaneousDemand", Type: zcl.TypeInt24, Access: rp},
	},
}

var ElectricalMeasurement = zcl.ClusterDef{
	ID:   0x0B04,
	Name: "Electrical Measurement",
	Attributes: []zcl.AttributeDef{
		{ID: 0x0000, Name: "MeasurementType", Type: zcl.TypeBitmap32, Access: r},
		{ID: 0x0505, Name: "RMSVoltage", Type: zcl.TypeUint16, Access: rp},
		{ID: 0x0508, Name: "RMSCurrent", Type: zcl.TypeUint16, Access: rp},
		{ID: 0x050B, Name: "ActivePower", Type: zcl.TypeInt16, Access: rp},
		{ID: 0x0600, Name: "ACVoltageMultiplier", Type: zcl.TypeUint16, Access: r},
		{ID: 0x0601, Name: "ACVoltageDivisor", Type: zcl.TypeUint16, Access: r},
		{ID: 0x0602, Name: "ACCurrentMultiplier", Type: zcl.TypeUint16, Access: r},
		{ID: 0x0603, Name: "ACCurrentDivisor", Type: zcl.TypeUint16, Access: r},
		{ID: 0x0604, Name: "ACPowerMultiplier", Type: zcl.TypeUint16, Access: r},
		{ID: 0x0605, Name: "ACPowerDivisor", Type: zcl.TypeUint16, Access: r},
	},
}
