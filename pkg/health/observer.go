package health

// Observer is notified after every partition change, and once with the
// initial partition when the registry is built. Calls are synchronous and
// ordered. An observer must not demote or promote from inside the callback.
type Observer interface {
    OnHealthChange(healthy, unhealthy []string)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(healthy, unhealthy []string)

func (f ObserverFunc) OnHealthChange(healthy, unhealthy []string) { f(healthy, unhealthy) }

var _ Observer = ObserverFunc(nil)
