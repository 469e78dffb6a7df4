package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kampus_build_info",
			Help: "Build information of the running kampus binary.",
		},
		[]string{"binary", "version", "commit"},
	)
)

// InitBuildInfo registers build_info once and sets it to 1 for the binary.
func InitBuildInfo(binary, version, commit string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	buildInfo.WithLabelValues(binary, version, commit).Set(1)
}
