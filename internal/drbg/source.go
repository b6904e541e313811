package drbg

import (
	"drbgd/internal/pool"
)

// EntropySource fills a pool created with the entropy and length bounds of
// the requesting instance. Any bytes the source leaves in the pool are wiped
// by the instance once consumed.
type EntropySource interface {
	GetEntropy(p *pool.Pool) error
}

// NonceSource returns a nonce of minLen to maxLen bytes. The instance wipes
// the returned slice after use.
type NonceSource interface {
	GetNonce(minLen, maxLen int) ([]byte, error)
}

// EntropyFunc adapts a function to EntropySource.
type EntropyFunc func(p *pool.Pool) error

func (f EntropyFunc) GetEntropy(p *pool.Pool) error { return f(p) }

// NonceFunc adapts a function to NonceSource.
type NonceFunc func(minLen, maxLen int) ([]byte, error)

func (f NonceFunc) GetNonce(minLen, maxLen int) ([]byte, error) { return f(minLen, maxLen) }

// EventKind classifies an Observer event.
type EventKind int

const (
	EventInstantiate EventKind = iota
	EventReseed
	EventGenerate
	EventUninstantiate
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventInstantiate:
		return "instantiate"
	case EventReseed:
		return "reseed"
	case EventGenerate:
		return "generate"
	case EventUninstantiate:
		return "uninstantiate"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// ReseedReason says why an instance reseeded.
type ReseedReason int

const (
	ReasonExplicit ReseedReason = iota
	ReasonCounter
	ReasonTime
	ReasonFork
	ReasonPropagation
	ReasonAdd
)

func (r ReseedReason) String() string {
	switch r {
	case ReasonExplicit:
		return "explicit"
	case ReasonCounter:
		return "counter"
	case ReasonTime:
		return "time"
	case ReasonFork:
		return "fork"
	case ReasonPropagation:
		return "propagation"
	case ReasonAdd:
		return "add"
	default:
		return "unknown"
	}
}

// Event is reported to an Observer after every state-changing operation.
// Reason is set for EventReseed, Bytes for EventGenerate and Err for
// EventError.
type Event struct {
	Instance string
	Kind     EventKind
	Reason   ReseedReason
	Bytes    int
	Err      error
}

// Observer receives events synchronously while the instance lock is held.
// It must not call back into the instance.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

// Observers fans each event out to every non-nil observer in order.
type Observers []Observer

func (o Observers) Observe(e Event) {
	for _, obs := range o {
		if obs != nil {
			obs.Observe(e)
		}
	}
}
