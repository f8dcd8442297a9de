// Package clusters holds the ZCL cluster definitions the converters need.
package clusters

import "zigbee-go-converters/internal/zcl"

// All returns every built-in cluster definition.
func All() []zcl.ClusterDef {
	return []zcl.ClusterDef{
		Basic,
		PowerConfiguration,
		Thermostat,
		ManuSpecificLumi,
		ZosungIRTransmit,
		ZosungIRControl,
	}
}

// RegisterAll registers every built-in cluster with r.
func RegisterAll(r *zcl.Registry) {
	for _, c := range All() {
		r.Register(c)
	}
}
