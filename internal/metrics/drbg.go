package metrics

import (
	"errors"

	"drbgd/internal/drbg"
)

// DRBGObserver records instance events in a registry. It implements
// drbg.Observer.
type DRBGObserver struct {
	registry *Registry
}

// NewDRBGObserver returns an observer over registry, or over Default if
// registry is nil.
func NewDRBGObserver(registry *Registry) *DRBGObserver {
	if registry == nil {
		registry = Default()
	}
	return &DRBGObserver{registry: registry}
}

// Observe implements drbg.Observer.
func (o *DRBGObserver) Observe(e drbg.Event) {
	inst := Labels{"instance": e.Instance}
	switch e.Kind {
	case drbg.EventInstantiate:
		o.registry.Counter("instantiations_total", "Successful instantiations.", inst).Inc()
		o.registry.Gauge("ready", "1 if the instance is ready.", inst).Set(1)
	case drbg.EventUninstantiate:
		o.registry.Gauge("ready", "1 if the instance is ready.", inst).Set(0)
	case drbg.EventReseed:
		o.registry.Counter("reseeds_total", "Reseeds by trigger.",
			Labels{"instance": e.Instance, "reason": e.Reason.String()}).Inc()
	case drbg.EventGenerate:
		o.registry.Counter("generate_requests_total", "Generate requests served.", inst).Inc()
		o.registry.Counter("generated_bytes_total", "Bytes of output produced.", inst).Add(uint64(e.Bytes))
		o.registry.Histogram("generate_request_bytes", "Size of generate requests.", inst, SizeBuckets).Observe(float64(e.Bytes))
	case drbg.EventError:
		kind := errorKind(e.Err)
		o.registry.Counter("errors_total", "Failed operations by error kind.",
			Labels{"instance": e.Instance, "kind": kind}).Inc()
		switch kind {
		case "reseed", "reseed_required", "generate":
			// these leave the instance in its error state
			o.registry.Gauge("ready", "1 if the instance is ready.", inst).Set(0)
		}
	}
}

func errorKind(err error) string {
	var de *drbg.Error
	if !errors.As(err, &de) {
		return "other"
	}
	switch de.Kind {
	case drbg.ErrEntropySource:
		return "entropy_source"
	case drbg.ErrNonceSource:
		return "nonce_source"
	case drbg.ErrInstantiate:
		return "instantiate"
	case drbg.ErrReseed:
		return "reseed"
	case drbg.ErrReseedRequired:
		return "reseed_required"
	case drbg.ErrGenerate:
		return "generate"
	default:
		return "other"
	}
}
