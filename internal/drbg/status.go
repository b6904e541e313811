package drbg

import (
	"time"

	"drbgd/internal/mechanism"
)

// Status is a point-in-time view of an instance.
type Status struct {
	Name               string         `json:"name"`
	Type               mechanism.Type `json:"type"`
	Mechanism          string         `json:"mechanism"`
	State              string         `json:"state"`
	Strength           int            `json:"strength"`
	Parent             string         `json:"parent,omitempty"`
	Locking            bool           `json:"locking"`
	Counter            uint64         `json:"counter"`
	ReseedInterval     uint32         `json:"reseed_interval"`
	ReseedTimeInterval time.Duration  `json:"reseed_time_interval"`
	LastReseed         time.Time      `json:"last_reseed"`
	PropagationCounter uint32         `json:"propagation_counter"`
}

// State returns the lifecycle state.
func (d *DRBG) State() State {
	d.rlock()
	defer d.runlock()
	return d.state
}

// Strength returns the security strength in bits.
func (d *DRBG) Strength() int { return d.strength }

// Type returns the mechanism type.
func (d *DRBG) Type() mechanism.Type { return d.typ }

// Name returns the instance name.
func (d *DRBG) Name() string { return d.name }

// MaxRequest returns the largest request Generate accepts, in bytes.
func (d *DRBG) MaxRequest() int { return d.maxRequest }

// Params returns the mechanism limits.
func (d *DRBG) Params() mechanism.Params { return d.params }

// Counter returns the generate counter. It is 1 right after a (re)seed
// and 0 while uninstantiated.
func (d *DRBG) Counter() uint64 {
	d.rlock()
	defer d.runlock()
	return d.genCounter
}

// LastReseed returns the time of the last successful (re)seed.
func (d *DRBG) LastReseed() time.Time {
	d.rlock()
	defer d.runlock()
	return d.reseedTime
}

// PropagationCounter returns the value children compare against. It can be
// read without holding the instance lock.
func (d *DRBG) PropagationCounter() uint32 {
	return d.propCounter.Load()
}

// Stats returns a snapshot of the instance.
func (d *DRBG) Stats() Status {
	d.rlock()
	defer d.runlock()

	s := Status{
		Name:               d.name,
		Type:               d.typ,
		Mechanism:          d.params.Kind.String(),
		State:              d.state.String(),
		Strength:           d.strength,
		Locking:            d.mu != nil,
		Counter:            d.genCounter,
		ReseedInterval:     d.reseedInterval,
		ReseedTimeInterval: d.reseedTimeInterval,
		LastReseed:         d.reseedTime,
		PropagationCounter: d.propCounter.Load(),
	}
	if d.parent != nil {
		s.Parent = d.parent.name
	}
	return s
}
