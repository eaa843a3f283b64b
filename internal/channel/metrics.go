package channel

import (
	"github.com/dreamware/sharedorigin/internal/metrics"
)

const namespace = "channel"

var (
	delivered = metrics.NewCounter(
		"delivered",
		namespace,
		"messages delivered to peers by kind",
		[]string{"kind"},
	)

	deliveryFailures = metrics.NewCounter(
		"delivery_failures",
		namespace,
		"messages that could not be delivered to a peer",
		[]string{},
	).WithLabelValues()

	queueDropped = metrics.NewCounter(
		"queue_dropped",
		namespace,
		"messages dropped because a peer queue was full",
		[]string{},
	).WithLabelValues()

	received = metrics.NewCounter(
		"received",
		namespace,
		"messages accepted by the receiver by kind",
		[]string{"kind"},
	)

	duplicates = metrics.NewCounter(
		"duplicates",
		namespace,
		"messages dropped by the receiver as already seen",
		[]string{},
	).WithLabelValues()

	peerCount = metrics.NewGauge(
		"peers",
		namespace,
		"remote peers the host broadcasts to",
		[]string{},
	).WithLabelValues()
)
