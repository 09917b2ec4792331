package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var logins = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "xpost_logins_total",
	Help: "Number of login attempts, by flow, stage and outcome",
}, []string{"flow", "stage", "result"})
