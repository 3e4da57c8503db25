package clusters

import "znp-host/internal/zcl"

const (
	r   = zcl.AccessRead
	rw  = zcl.AccessRead | zcl.AccessWrite
	rp  = zcl.AccessRead | zcl.AccessReport
	rwp = zcl.AccessRead | zcl.AccessWrite | zcl.AccessReport
)

func toServer(id uint8, name string, params ...zcl.ParamDef) zcl.CommandDef {
	return zcl.CommandDef{ID: id, Name: name, Direction: zcl.ClientToServer, Params: params}
}

func toClient(id uint8, name string, params ...zcl.ParamDef) zcl.CommandDef {
	return zcl.CommandDef{ID: id, Name: name, Direction: zcl.ServerToClient, Params: params}
}

func p(name string, t zcl.DataType) zcl.ParamDef { return zcl.ParamDef{Name: name, Type: t} }

var Basic = zcl.ClusterDef{
	ID:   0x0000,
	Name: "Basic",
	Attributes: []zcl.AttributeDef{
		{ID: 0x0000, Name: "ZCLVersion", Type: zcl.TypeUint8, Access: r},
		{ID: 0x0001, Name: "ApplicationVersion", Type: zcl.TypeUint8, Access: r},
		{ID: 0x0002, Name: "StackVersion", Type: zcl.TypeUint8, Access: r},
		{ID: 0x0003, Name: "HWVersion", Type: zcl.TypeUint8, Access: r},
		{ID: 0x0004, Name: "ManufacturerName", Type: zcl.TypeCharStr, Access: r},
		{ID: 0x0005, Name: "ModelIdentifier", Type: zcl.TypeCharStr, Access: r},
		{ID: 0x0006, Name: "DateCode", Type: zcl.TypeCharStr, Access: r},
		{ID: 0x0007, Name: "PowerSource", Type: zcl.TypeEnum8, Access: r},
		{ID: 0x0010, Name: "LocationDescription", Type: zcl.TypeCharStr, Access: rw},
		{ID: 0x4000, Name: "SWBuildID", Type: zcl.TypeCharStr, Access: r},
	},
	Commands: []zcl.CommandDef{
		toServer(0x00, "ResetToFactoryDefaults"),
	},
}

var PowerConfiguration = zcl.ClusterDef{
	ID:   0x0001,
	Name: "Power Configuration",
	Attributes: []zcl.AttributeDef{
		{ID: 0x0000, Name: "MainsVoltage", Type: zcl.TypeUint16, Access: r},
		{ID: 0x0001, Name: "MainsFrequency", Type: zcl.TypeUint8, Access: r},
		{ID: 0x0020, Name: "BatteryVoltage", Type: zcl.TypeUint8, Access: rp},
		{ID: 0x0021, Name: "BatteryPercentageRemaining", Type: zcl.TypeUint8, Access: rp},
		{ID: 0x0031, Name: "BatterySize", Type: zcl.TypeEnum8, Access: rw},
		{ID: 0x0033, Name: "BatteryQuantity", Type: zcl.TypeUint8, Access: rw},
		{ID: 0x0035, Name: "BatteryAlarmMask", Type: zcl.TypeBitmap8, Access: rw},
		{ID: 0x003E, Name: "BatteryAlarmState", Type: zcl.TypeBitmap32, Access: rp},
	},
}

var Identify = zcl.ClusterDef{
	ID:   0x0003,
	Name: "Identify",
	Attributes: []zcl.AttributeDef{
		{ID: 0x0000, Name: "IdentifyTime", Type: zcl.TypeUint16, Access: rw},
	},
	Commands: []zcl.CommandDef{
		toServer(0x00, "Identify", p("identifytime", zcl.TypeUint16)),
		toServer(0x01, "IdentifyQuery"),
		toServer(0x40, "TriggerEffect", p("effectid", zcl.TypeEnum8), p("effectvariant", zcl.TypeEnum8)),
		toClient(0x00, "IdentifyQueryResponse", p("timeout", zcl.TypeUint16)),
	},
}

var Groups = zcl.ClusterDef{
	ID:   0x0004,
	Name: "Groups",
	Attributes: []zcl.AttributeDef{
		{ID: 0x0000, Name: "NameSupport", Type: zcl.TypeBitmap8, Access: r},
	},
	Commands: []zcl.CommandDef{
		toServer(0x00, "AddGroup", p("groupid", zcl.TypeUint16), p("groupname", zcl.TypeCharStr)),
		toServer(0x01, "ViewGroup", p("groupid", zcl.TypeUint16)),
		toServer(0x03, "RemoveGroup", p("groupid", zcl.TypeUint16)),
		toServer(0x04, "RemoveAllGroups"),
		toClient(0x00, "AddGroupResponse", p("status", zcl.TypeEnum8), p("groupid", zcl.TypeUint16)),
		toClient(0x01, "ViewGroupResponse", p("status", zcl.TypeEnum8), p("groupid", zcl.TypeUint16), p("groupname", zcl.TypeCharStr)),
		toClient(0x03, "RemoveGroupResponse", p("status", zcl.TypeEnum8), p("groupid", zcl.TypeUint16)),
	},
}

var Scenes = zcl.ClusterDef{
	ID:   0x0005,
	Name: "Scenes",
	Attributes: []zcl.AttributeDef{
		{ID: 0x0000, Name: "SceneCount", Type: zcl.TypeUint8, Access: r},
		{ID: 0x0001, Name: "CurrentScene", Type: zcl.TypeUint8, Access: r},
		{ID: 0x0002, Name: "CurrentGroup", Type: zcl.TypeUint16, Access: r},
		{ID: 0x0003, Name: "SceneValid", Type: zcl.TypeBool, Access: r},
		{ID: 0x0004, Name: "NameSupport", Type: zcl.TypeBitmap8, Access: r},
	},
	Commands: []zcl.CommandDef{
		toServer(0x02, "RemoveScene", p("groupid", zcl.TypeUint16), p("sceneid", zcl.TypeUint8)),
		toServer(0x03, "RemoveAllScenes", p("groupid", zcl.TypeUint16)),
		toServer(0x04, "StoreScene", p("groupid", zcl.TypeUint16), p("sceneid", zcl.TypeUint8)),
		toServer(0x05, "RecallScene", p("groupid", zcl.TypeUint16), p("sceneid", zcl.TypeUint8)),
	},
}

var OnOff = zcl.ClusterDef{
	ID:   0x0006,
	Name: "On/Off",
	Attributes: []zcl.AttributeDef{
		{ID: 0x0000, Name: "OnOff", Type: zcl.TypeBool, Access: rp},
		{ID: 0x4000, Name: "GlobalSceneControl", Type: zcl.TypeBool, Access: r},
		{ID: 0x4001, Name: "OnTime", Type: zcl.TypeUint16, Access: rw},
		{ID: 0x4002, Name: "OffWaitTime", Type: zcl.TypeUint16, Access: rw},
		{ID: 0x4003, Name: "StartUpOnOff", Type: zcl.TypeEnum8, Access: rw},
	},
	Commands: []zcl.CommandDef{
		toServer(0x00, "Off"),
		toServer(0x01, "On"),
		toServer(0x02, "Toggle"),
		toServer(0x40, "OffWithEffect", p("effectid", zcl.TypeUint8), p("effectvariant", zcl.TypeUint8)),
		toServer(0x41, "OnWithRecallGlobalScene"),
		toServer(0x42, "OnWithTimedOff", p("ontimeoff", zcl.TypeBitmap8), p("ontime", zcl.TypeUint16), p("offwaittime", zcl.TypeUint16)),
	},
}

var LevelControl = zcl.ClusterDef{
	ID:   0x0008,
	Name: "Level Control",
	Attributes: []zcl.AttributeDef{
		{ID: 0x0000, Name: "CurrentLevel", Type: zcl.TypeUint8, Access: rp},
		{ID: 0x0001, Name: "RemainingTime", Type: zcl.TypeUint16, Access: r},
		{ID: 0x000F, Name: "Options", Type: zcl.TypeBitmap8, Access: rw},
		{ID: 0x0010, Name: "OnOffTransitionTime", Type: zcl.TypeUint16, Access: rw},
		{ID: 0x0011, Name: "OnLevel", Type: zcl.TypeUint8, Access: rw},
		{ID: 0x4000, Name: "StartUpCurrentLevel", Type: zcl.TypeUint8, Access: rw},
	},
	Commands: []zcl.CommandDef{
		toServer(0x00, "MoveToLevel", p("level", zcl.TypeUint8), p("transtime", zcl.TypeUint16)),
		toServer(0x01, "Move", p("movemode", zcl.TypeEnum8), p("rate", zcl.TypeUint8)),
		toServer(0x02, "Step", p("stepmode", zcl.TypeEnum8), p("stepsize", zcl.TypeUint8), p("transtime", zcl.TypeUint16)),
		toServer(0x03, "Stop"),
		toServer(0x04, "MoveToLevelWithOnOff", p("level", zcl.TypeUint8), p("transtime", zcl.TypeUint16)),
		toServer(0x05, "MoveWithOnOff", p("movemode", zcl.TypeEnum8), p("rate", zcl.TypeUint8)),
		toServer(0x06, "StepWithOnOff", p("stepmode", zcl.TypeEnum8), p("stepsize", zcl.TypeUint8), p("transtime", zcl.TypeUint16)),
		toServer(0x07, "StopWithOnOff"),
	},
}

var Time = zcl.ClusterDef{
	ID:   0x000A,
	Name: "Time",
	Attributes: []zcl.AttributeDef{
		{ID: 0x0000, Name: "Time", Type: zcl.TypeUTC, Access: rw},
		{ID: 0x0001, Name: "TimeStatus", Type: zcl.TypeBitmap8, Access: rw},
		{ID: 0x0002, Name: "TimeZone", Type: zcl.TypeInt32, Access: rw},
		{ID: 0x0007, Name: "LocalTime", Type: zcl.TypeUint32, Access: r},
	},
}

var PollControl = zcl.ClusterDef{
	ID:   0x0020,
	Name: "Poll Control",
	Attributes: []zcl.AttributeDef{
		{ID: 0x0000, Name: "CheckInInterval", Type: zcl.TypeUint32, Access: rw},
		{ID: 0x0001, Name: "LongPollInterval", Type: zcl.TypeUint32, Access: r},
		{ID: 0x0002, Name: "ShortPollInterval", Type: zcl.TypeUint16, Access: r},
		{ID: 0x0003, Name: "FastPollTimeout", Type: zcl.TypeUint16, Access: rw},
	},
	Commands: []zcl.CommandDef{
		toServer(0x00, "CheckInResponse", p("startfastpolling", zcl.TypeBool), p("fastpolltimeout", zcl.TypeUint16)),
		toServer(0x01, "FastPollStop"),
		toServer(0x02, "SetLongPollInterval", p("newlongpollinterval", zcl.TypeUint32)),
		toServer(0x03, "SetShortPollInterval", p("newshortpollinterval", zcl.TypeUint16)),
		toClient(0x00, "CheckIn"),
	},
}
