package identity

import "github.com/prometheus/client_golang/prometheus"

// cacheLookups counts cache lookups by table ("identities" or "self") and
// result ("hit" or "miss").
var cacheLookups = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "doppel_identity_cache_lookups_total",
		Help: "Identity cache lookups by table and result.",
	},
	[]string{"table", "result"},
)

func init() {
	prometheus.MustRegister(cacheLookups)
}
