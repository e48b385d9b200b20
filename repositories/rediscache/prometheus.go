package rediscache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var userCacheHits = promauto.NewCounter(prometheus.CounterOpts{
	Name: "filevault_user_cache_hits_total",
	Help: "Number of user lookups served from Redis",
})

var userCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
	Name: "filevault_user_cache_misses_total",
	Help: "Number of user lookups that fell through to the database",
})

var userCacheErrors = promauto.NewCounter(prometheus.CounterOpts{
	Name: "filevault_user_cache_errors_total",
	Help: "Number of failed Redis reads or writes",
})
