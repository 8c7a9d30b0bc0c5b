package metrics

import "github.com/prometheus/client_golang/prometheus"

type EventSubMetrics struct {
	NotificationsTotal *prometheus.CounterVec
	SubscriptionOps    *prometheus.CounterVec
}

func NewEventSubMetrics(reg prometheus.Registerer) *EventSubMetrics {
	m := &EventSubMetrics{
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventsub",
			Name:      "notifications_total",
			Help:      "EventSub notifications received, by subscription type and result.",
		}, []string{"type", "result"}),
		SubscriptionOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventsub",
			Name:      "subscription_operations_total",
			Help:      "EventSub subscribe/unsubscribe calls, by operation and result.",
		}, []string{"operation", "result"}),
	}
	reg.MustRegister(m.NotificationsTotal, m.SubscriptionOps)
	return m
}
