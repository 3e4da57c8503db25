package znp

import "znp-host/internal/unpi"

func p(name string, t ParamType) ParamDef { return ParamDef{Name: name, Type: t} }

func params(ps ...ParamDef) []ParamDef { return ps }

var statusOnly = params(p("status", Uint8))

func sreq(sub unpi.Subsystem, name string, id uint8, req, rsp []ParamDef) CommandDef {
	return CommandDef{Subsystem: sub, Name: name, ID: id, Type: unpi.SREQ, Request: req, Response: rsp}
}

func slow(d CommandDef) CommandDef {
	d.Slow = true
	return d
}

func indication(sub unpi.Subsystem, name string, id uint8, ps []ParamDef) CommandDef {
	return CommandDef{Subsystem: sub, Name: name, ID: id, Type: unpi.AREQ, Request: ps}
}

// Builtin returns the MT command definitions known to the driver.
func Builtin() []CommandDef {
	var out []CommandDef
	out = append(out, sysDefs()...)
	out = append(out, macDefs()...)
	out = append(out, afDefs()...)
	out = append(out, zdoDefs()...)
	out = append(out, sapiDefs()...)
	out = append(out, utilDefs()...)
	out = append(out, appCnfDefs()...)
	return out
}

func sysDefs() []CommandDef {
	s := unpi.SYS
	return []CommandDef{
		indication(s, "resetReq", 0x00, params(p("type", Uint8))),
		sreq(s, "ping", 0x01, nil, params(p("capabilities", Uint16))),
		sreq(s, "version", 0x02, nil, params(
			p("transportrev", Uint8), p("product", Uint8), p("majorrel", Uint8),
			p("minorrel", Uint8), p("maintrel", Uint8), p("revision", Uint32))),
		sreq(s, "setExtAddr", 0x03, params(p("extaddress", LongAddr)), statusOnly),
		sreq(s, "getExtAddr", 0x04, nil, params(p("extaddress", LongAddr))),
		sreq(s, "ramRead", 0x05, params(p("address", Uint16), p("len", Uint8)),
			params(p("status", Uint8), p("len", Uint8), p("value", Buffer))),
		sreq(s, "ramWrite", 0x06, params(p("address", Uint16), p("len", Uint8), p("value", Buffer)), statusOnly),
		sreq(s, "osalNvItemInit", 0x07, params(p("id", Uint16), p("len", Uint16), p("initlen", Uint8), p("initvalue", Buffer)), statusOnly),
		sreq(s, "osalNvRead", 0x08, params(p("id", Uint16), p("offset", Uint8)),
			params(p("status", Uint8), p("len", Uint8), p("value", Buffer))),
		sreq(s, "osalNvWrite", 0x09, params(p("id", Uint16), p("offset", Uint8), p("len", Uint8), p("value", Buffer)), statusOnly),
		sreq(s, "osalStartTimer", 0x0A, params(p("id", Uint8), p("timeout", Uint16)), statusOnly),
		sreq(s, "osalStopTimer", 0x0B, params(p("id", Uint8)), statusOnly),
		sreq(s, "random", 0x0C, nil, params(p("value", Uint16))),
		sreq(s, "adcRead", 0x0D, params(p("channel", Uint8), p("resolution", Uint8)), params(p("value", Uint16))),
		sreq(s, "gpio", 0x0E, params(p("operation", Uint8), p("value", Uint8)), params(p("value", Uint8))),
		sreq(s, "stackTune", 0x0F, params(p("operation", Uint8), p("value", Uint8)), params(p("value", Uint8))),
		sreq(s, "setTime", 0x10, params(p("utc", Uint32), p("hour", Uint8), p("minute", Uint8), p("second", Uint8),
			p("month", Uint8), p("day", Uint8), p("year", Uint16)), statusOnly),
		sreq(s, "getTime", 0x11, nil, params(p("utc", Uint32), p("hour", Uint8), p("minute", Uint8), p("second", Uint8),
			p("month", Uint8), p("day", Uint8), p("year", Uint16))),
		sreq(s, "osalNvDelete", 0x12, params(p("id", Uint16), p("len", Uint16)), statusOnly),
		sreq(s, "osalNvLength", 0x13, params(p("id", Uint16)), params(p("length", Uint16))),
		sreq(s, "setTxPower", 0x14, params(p("level", Uint8)), params(p("txpower", Uint8))),
		sreq(s, "zdiagsClearStats", 0x18, params(p("clearnv", Uint8)), params(p("sysclock", Uint32))),
		sreq(s, "zdiagsGetStats", 0x19, params(p("attributeid", Uint16)), params(p("attributevalue", Uint32))),
		sreq(s, "nvLength", 0x32, params(p("sysid", Uint8), p("itemid", Uint16), p("subid", Uint16)), params(p("len", Uint8))),
		indication(s, "resetInd", 0x80, params(p("reason", Uint8), p("transportrev", Uint8), p("productid", Uint8),
			p("majorrel", Uint8), p("minorrel", Uint8), p("hwrev", Uint8))),
		indication(s, "osalTimerExpired", 0x81, params(p("id", Uint8))),
	}
}

func macDefs() []CommandDef {
	m := unpi.MAC
	return []CommandDef{
		sreq(m, "resetReq", 0x01, params(p("setdefault", Uint8)), statusOnly),
		sreq(m, "init", 0x02, nil, statusOnly),
		sreq(m, "startReq", 0x03, params(p("starttime", Uint32), p("panid", Uint16), p("logicalchannel", Uint8),
			p("channelpage", Uint8), p("beaconorder", Uint8), p("superframeorder", Uint8), p("pancoordinator", Uint8),
			p("batterylifeext", Uint8), p("coordrealignment", Uint8), p("realignkeysource", Buffer8),
			p("realignsecuritylevel", Uint8), p("realignkeyidmode", Uint8), p("realignkeyindex", Uint8),
			p("beaconkeysource", Buffer8), p("beaconsecuritylevel", Uint8), p("beaconkeyidmode", Uint8),
			p("beaconkeyindex", Uint8)), statusOnly),
		sreq(m, "scanReq", 0x0C, params(p("scanchannels", Uint32), p("scantype", Uint8), p("scanduration", Uint8),
			p("channelpage", Uint8), p("maxresults", Uint8), p("keysource", Buffer8), p("securitylevel", Uint8),
			p("keyidmode", Uint8), p("keyindex", Uint8)), statusOnly),
		sreq(m, "getReq", 0x08, params(p("attribute", Uint8)), params(p("status", Uint8), p("data", Buffer16))),
		indication(m, "scanCnf", 0x8C, params(p("status", Uint8), p("ed", Uint8), p("scantype", Uint8), p("channelpage", Uint8),
			p("unscannedchannellist", Uint32), p("resultlistcount", Uint8), p("resultlistmaxlength", Uint8),
			p("resultlist", Buffer))),
	}
}

func afDefs() []CommandDef {
	a := unpi.AF
	return []CommandDef{
		sreq(a, "register", 0x00, params(p("endpoint", Uint8), p("appprofid", Uint16), p("appdeviceid", Uint16),
			p("appdevver", Uint8), p("latencyreq", Uint8), p("appnuminclusters", Uint8), p("appinclusterlist", ListUint16),
			p("appnumoutclusters", Uint8), p("appoutclusterlist", ListUint16)), statusOnly),
		sreq(a, "dataRequest", 0x01, params(p("dstaddr", Uint16), p("destendpoint", Uint8), p("srcendpoint", Uint8),
			p("clusterid", Uint16), p("transid", Uint8), p("options", Uint8), p("radius", Uint8),
			p("len", Uint8), p("data", Buffer)), statusOnly),
		sreq(a, "dataRequestExt", 0x02, params(p("dstaddrmode", Uint8), p("dstaddr", LongAddr), p("destendpoint", Uint8),
			p("dstpanid", Uint16), p("srcendpoint", Uint8), p("clusterid", Uint16), p("transid", Uint8),
			p("options", Uint8), p("radius", Uint8), p("len", Uint16), p("data", Buffer)), statusOnly),
		sreq(a, "dataRequestSrcRtg", 0x03, params(p("dstaddr", Uint16), p("destendpoint", Uint8), p("srcendpoint", Uint8),
			p("clusterid", Uint16), p("transid", Uint8), p("options", Uint8), p("radius", Uint8),
			p("relaycount", Uint8), p("relaylist", ListUint16), p("len", Uint8), p("data", Buffer)), statusOnly),
		sreq(a, "delete", 0x04, params(p("endpoint", Uint8)), statusOnly),
		sreq(a, "interPanCtl", 0x10, params(p("cmd", Uint8), p("data", DynBuffer)), statusOnly),
		sreq(a, "dataStore", 0x11, params(p("index", Uint16), p("length", Uint8), p("data", Buffer)), statusOnly),
		sreq(a, "dataRetrieve", 0x12, params(p("timestamp", Uint32), p("index", Uint16), p("length", Uint8)),
			params(p("status", Uint8), p("length", Uint8), p("data", Buffer))),
		sreq(a, "apsfConfigSet", 0x13, params(p("endpoint", Uint8), p("framedelay", Uint8), p("windowsize", Uint8)), statusOnly),
		indication(a, "dataConfirm", 0x80, params(p("status", Uint8), p("endpoint", Uint8), p("transid", Uint8))),
		indication(a, "incomingMsg", 0x81, params(p("groupid", Uint16), p("clusterid", Uint16), p("srcaddr", Uint16),
			p("srcendpoint", Uint8), p("dstendpoint", Uint8), p("wasbroadcast", Uint8), p("linkquality", Uint8),
			p("securityuse", Uint8), p("timestamp", Uint32), p("transseqnumber", Uint8), p("len", Uint8), p("data", Buffer))),
		indication(a, "incomingMsgExt", 0x82, params(p("groupid", Uint16), p("clusterid", Uint16), p("srcaddrmode", Uint8),
			p("srcaddr", LongAddr), p("srcendpoint", Uint8), p("srcpanid", Uint16), p("dstendpoint", Uint8),
			p("wasbroadcast", Uint8), p("linkquality", Uint8), p("securityuse", Uint8), p("timestamp", Uint32),
			p("transseqnumber", Uint8), p("len", Uint16), p("data", Buffer))),
		indication(a, "reflectError", 0x83, params(p("status", Uint8), p("endpoint", Uint8), p("transid", Uint8),
			p("dstaddrmode", Uint8), p("dstaddr", Uint16))),
	}
}

func zdoDefs() []CommandDef {
	z := unpi.ZDO
	addrReq := params(p("dstaddr", Uint16), p("nwkaddrofinterest", Uint16))
	bindReq := params(p("dstaddr", Uint16), p("srcaddr", LongAddr), p("srcendpoint", Uint8), p("clusterid", Uint16),
		p("dstaddrmode", Uint8), p("dstaddress", LongAddr), p("dstendpoint", Uint8))
	addrRsp := params(p("status", Uint8), p("ieeeaddr", LongAddr), p("nwkaddr", Uint16), p("startindex", Uint8),
		p("numassocdev", Uint8), p("assocdevlist", ListUint16))
	srcStatus := params(p("srcaddr", Uint16), p("status", Uint8))
	return []CommandDef{
		sreq(z, "nwkAddrReq", 0x00, params(p("ieeeaddr", LongAddr), p("reqtype", Uint8), p("startindex", Uint8)), statusOnly),
		sreq(z, "ieeeAddrReq", 0x01, params(p("shortaddr", Uint16), p("reqtype", Uint8), p("startindex", Uint8)), statusOnly),
		sreq(z, "nodeDescReq", 0x02, addrReq, statusOnly),
		sreq(z, "powerDescReq", 0x03, addrReq, statusOnly),
		sreq(z, "simpleDescReq", 0x04, params(p("dstaddr", Uint16), p("nwkaddrofinterest", Uint16), p("endpoint", Uint8)), statusOnly),
		sreq(z, "activeEpReq", 0x05, addrReq, statusOnly),
		sreq(z, "matchDescReq", 0x06, params(p("dstaddr", Uint16), p("nwkaddrofinterest", Uint16), p("profileid", Uint16),
			p("numinclusters", Uint8), p("inclusterlist", ListUint16), p("numoutclusters", Uint8),
			p("outclusterlist", ListUint16)), statusOnly),
		sreq(z, "complexDescReq", 0x07, addrReq, statusOnly),
		sreq(z, "userDescReq", 0x08, addrReq, statusOnly),
		sreq(z, "endDeviceAnnce", 0x0A, params(p("nwkaddr", Uint16), p("ieeeaddr", LongAddr), p("capability", Uint8)), statusOnly),
		sreq(z, "bindReq", 0x21, bindReq, statusOnly),
		sreq(z, "unbindReq", 0x22, bindReq, statusOnly),
		sreq(z, "mgmtNwkDiscReq", 0x30, params(p("dstaddr", Uint16), p("scanchannels", Uint32), p("scanduration", Uint8),
			p("startindex", Uint8)), statusOnly),
		sreq(z, "mgmtLqiReq", 0x31, params(p("dstaddr", Uint16), p("startindex", Uint8)), statusOnly),
		sreq(z, "mgmtRtgReq", 0x32, params(p("dstaddr", Uint16), p("startindex", Uint8)), statusOnly),
		sreq(z, "mgmtBindReq", 0x33, params(p("dstaddr", Uint16), p("startindex", Uint8)), statusOnly),
		sreq(z, "mgmtLeaveReq", 0x34, params(p("dstaddr", Uint16), p("deviceaddress", LongAddr), p("removechildrenRejoin", Uint8)), statusOnly),
		sreq(z, "mgmtPermitJoinReq", 0x36, params(p("addrmode", Uint8), p("dstaddr", Uint16), p("duration", Uint8),
			p("tcsignificance", Uint8)), statusOnly),
		sreq(z, "msgCbRegister", 0x3E, params(p("clusterid", Uint16)), statusOnly),
		sreq(z, "msgCbRemove", 0x3F, params(p("clusterid", Uint16)), statusOnly),
		slow(sreq(z, "startupFromApp", 0x40, params(p("startdelay", Uint16)), statusOnly)),
		indication(z, "autoFindDestination", 0x41, params(p("endpoint", Uint8))),
		sreq(z, "extNwkInfo", 0x50, nil, params(p("shortaddress", Uint16), p("devstate", Uint8), p("panid", Uint16),
			p("parentaddress", Uint16), p("extendedpanid", LongAddr), p("parentextaddr", LongAddr), p("channel", Uint8))),
		sreq(z, "extRemoveGroup", 0x47, params(p("endpoint", Uint8), p("groupid", Uint16)), statusOnly),
		sreq(z, "extAddGroup", 0x4B, params(p("endpoint", Uint8), p("groupid", Uint16), p("namelen", Uint8), p("groupname", Buffer)), statusOnly),

		indication(z, "nwkAddrRsp", 0x80, addrRsp),
		indication(z, "ieeeAddrRsp", 0x81, addrRsp),
		indication(z, "nodeDescRsp", 0x82, params(p("srcaddr", Uint16), p("status", Uint8), p("nwkaddr", Uint16),
			p("logicaltype_cmplxdescavai_userdescavai", Uint8), p("apsflags_freqband", Uint8), p("maccapflags", Uint8),
			p("manufacturercode", Uint16), p("maxbuffersize", Uint8), p("maxintransfersize", Uint16),
			p("servermask", Uint16), p("maxouttransfersize", Uint16), p("descriptorcap", Uint8))),
		indication(z, "powerDescRsp", 0x83, params(p("srcaddr", Uint16), p("status", Uint8), p("nwkaddr", Uint16),
			p("currentpowermode_avaipowersrc", Uint8), p("currentpowersrc_currentpowersrclevel", Uint8))),
		indication(z, "simpleDescRsp", 0x84, params(p("srcaddr", Uint16), p("status", Uint8), p("nwkaddr", Uint16), p("len", Uint8),
			p("endpoint", Uint8), p("profileid", Uint16), p("deviceid", Uint16), p("deviceversion", Uint8),
			p("numinclusters", Uint8), p("inclusterlist", ListUint16), p("numoutclusters", Uint8),
			p("outclusterlist", ListUint16))),
		indication(z, "activeEpRsp", 0x85, params(p("srcaddr", Uint16), p("status", Uint8), p("nwkaddr", Uint16),
			p("activeepcount", Uint8), p("activeeplist", ListUint8))),
		indication(z, "matchDescRsp", 0x86, params(p("srcaddr", Uint16), p("status", Uint8), p("nwkaddr", Uint16),
			p("matchlength", Uint8), p("matchlist", ListUint8))),
		indication(z, "bindRsp", 0xA1, srcStatus),
		indication(z, "unbindRsp", 0xA2, srcStatus),
		indication(z, "mgmtNwkDiscRsp", 0xB0, params(p("srcaddr", Uint16), p("status", Uint8), p("networkcount", Uint8),
			p("startindex", Uint8), p("networklistcount", Uint8), p("networklist", NetworkList))),
		indication(z, "mgmtLqiRsp", 0xB1, params(p("srcaddr", Uint16), p("status", Uint8), p("neighbortableentries", Uint8),
			p("startindex", Uint8), p("neighborlqilistcount", Uint8), p("neighborlqilist", NeighborLqiList))),
		indication(z, "mgmtRtgRsp", 0xB2, params(p("srcaddr", Uint16), p("status", Uint8), p("routingtableentries", Uint8),
			p("startindex", Uint8), p("routingtablelistcount", Uint8), p("routingtablelist", RoutingTableList))),
		indication(z, "mgmtBindRsp", 0xB3, params(p("srcaddr", Uint16), p("status", Uint8), p("bindingtableentries", Uint8),
			p("startindex", Uint8), p("bindingtablelistcount", Uint8), p("bindingtablelist", BindTableList))),
		indication(z, "mgmtLeaveRsp", 0xB4, srcStatus),
		indication(z, "mgmtPermitJoinRsp", 0xB6, srcStatus),
		indication(z, "stateChangeInd", 0xC0, params(p("state", Uint8))),
		indication(z, "endDeviceAnnceInd", 0xC1, params(p("srcaddr", Uint16), p("nwkaddr", Uint16), p("ieeeaddr", LongAddr),
			p("capabilities", Uint8))),
		indication(z, "srcRtgInd", 0xC4, params(p("dstaddr", Uint16), p("relaycount", Uint8), p("relaylist", ListUint16))),
		indication(z, "concentratorIndCb", 0xC8, params(p("srcaddr", Uint16), p("extaddr", LongAddr), p("pkt_cost", Uint8))),
		indication(z, "leaveInd", 0xC9, params(p("srcaddr", Uint16), p("extaddr", LongAddr), p("request", Uint8),
			p("removechildren", Uint8), p("rejoin", Uint8))),
		indication(z, "tcDeviceInd", 0xCA, params(p("nwkaddr", Uint16), p("extaddr", LongAddr), p("parentaddr", Uint16))),
		indication(z, "permitJoinInd", 0xCB, params(p("duration", Uint8))),
		indication(z, "msgCbIncoming", 0xFF, params(p("srcaddr", Uint16), p("wasbroadcast", Uint8), p("clusterid", Uint16),
			p("securityuse", Uint8), p("seqnum", Uint8), p("macdstaddr", Uint16), p("msgdata", DynBuffer))),
	}
}

func sapiDefs() []CommandDef {
	s := unpi.SAPI
	return []CommandDef{
		sreq(s, "startRequest", 0x00, nil, nil),
		sreq(s, "bindDevice", 0x01, params(p("action", Uint8), p("commandid", Uint16), p("destination", LongAddr)), nil),
		sreq(s, "allowBind", 0x02, params(p("timeout", Uint8)), nil),
		sreq(s, "sendDataRequest", 0x03, params(p("destination", Uint16), p("commandid", Uint16), p("handle", Uint8),
			p("txoptions", Uint8), p("radius", Uint8), p("payloadlen", Uint8), p("payloadvalue", Buffer)), nil),
		sreq(s, "readConfiguration", 0x04, params(p("configid", Uint8)),
			params(p("status", Uint8), p("configid", Uint8), p("len", Uint8), p("value", Buffer))),
		sreq(s, "writeConfiguration", 0x05, params(p("configid", Uint8), p("len", Uint8), p("value", Buffer)), statusOnly),
		sreq(s, "getDeviceInfo", 0x06, params(p("param", Uint8)), params(p("param", Uint8), p("value", Buffer8))),
		sreq(s, "findDeviceRequest", 0x07, params(p("searchKey", LongAddr)), nil),
		sreq(s, "permitJoiningRequest", 0x08, params(p("destination", Uint16), p("timeout", Uint8)), statusOnly),
		sreq(s, "systemReset", 0x09, nil, nil),
		indication(s, "startConfirm", 0x80, params(p("status", Uint8))),
		indication(s, "bindConfirm", 0x81, params(p("commandid", Uint16), p("status", Uint8))),
		indication(s, "allowBindConfirm", 0x82, params(p("source", Uint16))),
		indication(s, "sendDataConfirm", 0x83, params(p("handle", Uint8), p("status", Uint8))),
		indication(s, "findDeviceConfirm", 0x85, params(p("searchtype", Uint8), p("searchkey", Uint16), p("result", LongAddr))),
		indication(s, "receiveDataIndication", 0x87, params(p("source", Uint16), p("command", Uint16), p("len", Uint16), p("data", Buffer))),
	}
}

func utilDefs() []CommandDef {
	u := unpi.UTIL
	return []CommandDef{
		sreq(u, "getDeviceInfo", 0x00, nil, params(p("status", Uint8), p("ieeeaddr", LongAddr), p("shortaddr", Uint16),
			p("devicetype", Uint8), p("devicestate", Uint8), p("numassocdevices", Uint8), p("assocdeviceslist", AssocDevList))),
		sreq(u, "getNvInfo", 0x01, nil, params(p("status", Uint8), p("ieeeaddr", LongAddr), p("scanchannels", Uint32),
			p("panid", Uint16), p("securitylevel", Uint8), p("preconfigkey", Buffer16))),
		sreq(u, "setPanid", 0x02, params(p("panid", Uint16)), statusOnly),
		sreq(u, "setChannels", 0x03, params(p("channels", Uint32)), statusOnly),
		sreq(u, "setSeclevel", 0x04, params(p("securitylevel", Uint8)), statusOnly),
		sreq(u, "setPrecfgkey", 0x05, params(p("preconfigkey", Buffer16)), statusOnly),
		sreq(u, "callbackSubCmd", 0x06, params(p("subsystemid", Uint16), p("action", Uint8)), statusOnly),
		sreq(u, "keyEvent", 0x07, params(p("keys", Uint8), p("shift", Uint8)), statusOnly),
		sreq(u, "timeAlive", 0x09, nil, params(p("seconds", Uint32))),
		sreq(u, "ledControl", 0x0A, params(p("ledid", Uint8), p("mode", Uint8)), statusOnly),
		sreq(u, "testLoopback", 0x10, params(p("data", DynBuffer)), params(p("data", DynBuffer))),
		sreq(u, "dataReq", 0x11, params(p("securityuse", Uint8)), statusOnly),
		sreq(u, "addrmgrExtAddrLookup", 0x40, params(p("extaddr", LongAddr)), params(p("nwkaddr", Uint16))),
		sreq(u, "addrmgrNwkAddrLookup", 0x41, params(p("nwkaddr", Uint16)), params(p("extaddr", LongAddr))),
		sreq(u, "apsmeLinkKeyDataGet", 0x44, params(p("extaddr", LongAddr)),
			params(p("status", Uint8), p("seckey", Buffer16), p("txfrmcntr", Uint32), p("rxfrmcntr", Uint32))),
		sreq(u, "apsmeLinkKeyNvIdGet", 0x45, params(p("extaddr", LongAddr)), params(p("status", Uint8), p("linkkeynvid", Uint16))),
		sreq(u, "assocCount", 0x48, params(p("startrelation", Uint8), p("endrelation", Uint8)), params(p("count", Uint16))),
		sreq(u, "assocFindDevice", 0x49, params(p("number", Uint8)), params(p("device", Buffer18))),
		sreq(u, "assocGetWithAddress", 0x4A, params(p("extaddr", LongAddr), p("nwkaddr", Uint16)), params(p("device", Buffer18))),
		sreq(u, "bindAddEntry", 0x4D, params(p("addrmode", Uint8), p("dstaddr", LongAddr), p("dstendpoint", Uint8),
			p("numclusterids", Uint8), p("clusterids", ListUint16)), params(p("srcep", Uint8), p("dstgroupmode", Uint8),
			p("dstidx", Uint16), p("dstep", Uint8), p("numclusterids", Uint8), p("clusterids", Buffer8))),
		sreq(u, "zclKeyEstInitEst", 0x80, params(p("taskid", Uint8), p("seqnum", Uint8), p("endpoint", Uint8),
			p("addrmode", Uint8), p("extaddr", LongAddr)), statusOnly),
		sreq(u, "srngGen", 0x4C, nil, params(p("outrng", Buffer100))),
		indication(u, "syncReq", 0xE0, nil),
		indication(u, "zclKeyEstablishInd", 0xE1, params(p("taskid", Uint8), p("event", Uint8), p("status", Uint8),
			p("waittime", Uint8), p("suite", Uint16))),
	}
}

func appCnfDefs() []CommandDef {
	a := unpi.APPCNF
	return []CommandDef{
		sreq(a, "setNwkFrameCounter", 0xFF, params(p("framecounter", Uint32)), statusOnly),
		sreq(a, "setDefaultRemoteEnddeviceTimeout", 0x01, params(p("timeout", Uint8)), statusOnly),
		sreq(a, "setEndDeviceTimeout", 0x02, params(p("timeout", Uint8)), statusOnly),
		sreq(a, "setAllowRejoinTcPolicy", 0x03, params(p("allowrejoin", Uint8)), statusOnly),
		slow(sreq(a, "bdbStartCommissioning", 0x05, params(p("mode", Uint8)), statusOnly)),
		sreq(a, "bdbSetChannel", 0x08, params(p("isPrimary", Uint8), p("channel", Uint32)), statusOnly),
		sreq(a, "bdbAddInstallCode", 0x04, params(p("installCodeFormat", Uint8), p("ieeeaddr", LongAddr),
			p("installCode", Buffer18)), statusOnly),
		sreq(a, "bdbSetTcRequireKeyExchange", 0x09, params(p("bdbTrustCenterRequireKeyExchange", Uint8)), statusOnly),
		sreq(a, "bdbSetJoinUsesInstallCodeKey", 0x06, params(p("bdbJoinUsesInstallCodeKey", Uint8)), statusOnly),
		sreq(a, "bdbSetActiveDefaultCentralizedKey", 0x07, params(p("useglobal", Uint8), p("installCode", Buffer18)), statusOnly),
		sreq(a, "bdbZedAttemptRecoverNwk", 0x0A, nil, statusOnly),
		indication(a, "bdbCommissioningNotification", 0x80, params(p("status", Uint8), p("commissioningmode", Uint8),
			p("remainingcommissioningmodes", Uint8))),
	}
}
