// Package clusters holds the built-in ZCL cluster definitions.
package clusters

import "znp-host/internal/zcl"

// Standard returns every built-in cluster, ordered by cluster ID.
func Standard() []zcl.ClusterDef {
	return []zcl.ClusterDef{
		Basic,
		PowerConfiguration,
		Identify,
		Groups,
		Scenes,
		OnOff,
		LevelControl,
		Time,
		PollControl,
		DoorLock,
		WindowCovering,
		Thermostat,
		ColorControl,
		IlluminanceMeasurement,
		TemperatureMeasurement,
		PressureMeasurement,
		FlowMeasurement,
		RelativeHumidity,
		OccupancySensing,
		IASZone,
		Metering,
		ElectricalMeasurement,
	}
}

// Register adds the built-in clusters to r.
func Register(r *zcl.Registry) {
	for _, c := range Standard() {
		r.Register(c)
	}
}
