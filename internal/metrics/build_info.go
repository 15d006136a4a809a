package metrics

import "github.com/prometheus/client_golang/prometheus"

// RegisterBuildInfo публикует farm_build_info с метаданными сборки в метках.
// Значение всегда 1.
func RegisterBuildInfo(registerer prometheus.Registerer, version, commit string) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	registerGauge(registerer, prometheus.GaugeOpts{
		Name:        "farm_build_info",
		Help:        "Build metadata of the running farm service",
		ConstLabels: prometheus.Labels{"version": version, "commit": commit},
	}).Set(1)
}
