package compose

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var generations = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "xpost_generations_total",
	Help: "Number of post generation requests, by the source of the candidates",
}, []string{"source", "reason"})
