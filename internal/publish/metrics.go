package publish

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var postsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "xpost_posts_published_total",
	Help: "Number of posts submitted to X, by outcome",
}, []string{"mode", "result"})

var tokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "xpost_token_refreshes_total",
	Help: "Number of access token refresh attempts after an auth failure",
}, []string{"result"})

var partialThreads = promauto.NewCounter(prometheus.CounterOpts{
	Name: "xpost_partial_threads_total",
	Help: "Number of threads that stopped after publishing at least one post",
})
