package metrics

import (
    "sync"

    "github.com/prometheus/client_golang/prometheus"
)

var (
    once sync.Once

    HealthyConnections = prometheus.NewGaugeVec(prometheus.GaugeOpts{
        Namespace: "kvcluster",
        Name:      "healthy_connections",
        Help:      "Number of connections currently eligible for routing",
    }, []string{"cluster"})

    UnhealthyConnections = prometheus.NewGaugeVec(prometheus.GaugeOpts{
        Namespace: "kvcluster",
        Name:      "unhealthy_connections",
        Help:      "Number of connections excluded pending recovery",
    }, []string{"cluster"})

    Demotions = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "kvcluster",
        Name:      "demotions_total",
        Help:      "Total connections moved from healthy to unhealthy",
    }, []string{"node"})

    Promotions = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "kvcluster",
        Name:      "promotions_total",
        Help:      "Total connections moved from unhealthy back to healthy",
    }, []string{"node"})

    DemotionsAvoided = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "kvcluster",
        Name:      "demotions_avoided_total",
        Help:      "Connectivity failures where the liveness probe still succeeded",
    })

    RecoveryRuns = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "kvcluster",
        Subsystem: "recovery",
        Name:      "runs_total",
        Help:      "Total recovery cycles executed",
    })

    RecoveryFailures = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "kvcluster",
        Subsystem: "recovery",
        Name:      "failures_total",
        Help:      "Recovery cycles aborted by an unexpected error",
    })

    Tasks = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "kvcluster",
        Name:      "tasks_total",
        Help:      "Tasks executed through the cluster by outcome",
    }, []string{"outcome"})

    TaskDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
        Namespace: "kvcluster",
        Name:      "task_duration_seconds",
        Help:      "Task execution latency per node",
        Buckets:   prometheus.DefBuckets,
    }, []string{"node"})
)

// Register registers metrics into the default Prometheus registry (idempotent).
func Register() {
    once.Do(func() {
        prometheus.MustRegister(HealthyConnections)
        prometheus.MustRegister(UnhealthyConnections)
        prometheus.MustRegister(Demotions)
        prometheus.MustRegister(Promotions)
        prometheus.MustRegister(DemotionsAvoided)
        prometheus.MustRegister(RecoveryRuns)
        prometheus.MustRegister(RecoveryFailures)
        prometheus.MustRegister(Tasks)
        prometheus.MustRegister(TaskDuration)
    })
}

// DefaultCluster labels the gauges of a cluster created without a name.
const DefaultCluster = "default"

// Observer keeps the connection gauges of one named cluster in sync with
// health notifications. It satisfies health.Observer without importing it.
type Observer struct {
    Cluster string
}

func (o Observer) OnHealthChange(healthy, unhealthy []string) {
    name := o.label()
    HealthyConnections.WithLabelValues(name).Set(float64(len(healthy)))
    UnhealthyConnections.WithLabelValues(name).Set(float64(len(unhealthy)))
}

// Forget drops the gauge series of a cluster that has shut down.
func (o Observer) Forget() {
    HealthyConnections.DeleteLabelValues(o.label())
    UnhealthyConnections.DeleteLabelValues(o.label())
}

func (o Observer) label() string {
    if o.Cluster == "" { return DefaultCluster }
    return o.Cluster
}
