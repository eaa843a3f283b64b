package session

import (
	"github.com/dreamware/sharedorigin/internal/metrics"
)

const namespace = "session"

var (
	joins = metrics.NewCounter(
		"joins",
		namespace,
		"client joins accepted by the host",
		[]string{"kind"},
	)
	firstJoin = joins.WithLabelValues("new")
	rejoin    = joins.WithLabelValues("rejoin")

	firstSyncs = metrics.NewCounter(
		"first_syncs",
		namespace,
		"first sync reports received by the host",
		[]string{},
	).WithLabelValues()

	dispatched = metrics.NewCounter(
		"dispatched",
		namespace,
		"channel messages dispatched to the coordinator by kind",
		[]string{"kind"},
	)

	unhealthyPeers = metrics.NewCounter(
		"unhealthy_peers",
		namespace,
		"clients dropped after failing health checks",
		[]string{},
	).WithLabelValues()

	registeredPeers = metrics.NewGauge(
		"registered_peers",
		namespace,
		"clients currently registered with the host",
		[]string{},
	).WithLabelValues()
)
