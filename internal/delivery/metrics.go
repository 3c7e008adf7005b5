package delivery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deeplinker_delivery_cache_hits_total",
		Help: "Descriptor lookups served from the delivery cache.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deeplinker_delivery_cache_misses_total",
		Help: "Descriptor lookups that went to the registry.",
	})
	resolvesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deeplinker_delivery_resolves_total",
		Help: "Link resolutions by served stage (raw, preview, collage, watermark, not_found).",
	}, []string{"stage"})
)
