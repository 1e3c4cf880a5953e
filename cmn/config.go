// Package cmn provides common constants, types, and utilities shared across
// the call core, its transport, and its surrounding ambient stack.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

import (
	"sync/atomic"
	"time"
)

// Config carries the process-wide tunables the call package reads. It
// deliberately does not carry a combiner-queue-depth knob: the combiner
// queue is unbounded by design, so there is nothing to configure there.
type Config struct {
	ArenaSizeHint      int           // memsys.Arena chunk size hint for new calls
	DefaultCompression int           // call.CompositeAlgorithm, as an int to avoid an import cycle
	IdleTeardown       time.Duration // how long after Create a call may go without receiving its final op before it is cancelled
}

// configOwner is the global config owner: one atomic pointer, swapped
// wholesale on every config change, read without ever blocking a writer -
// the same load-once-then-atomic-swap idiom the teacher's GCO uses for its
// much larger ClusterConfig (compare with Rom's simpler read-mostly cache
// over the same owner).
type configOwner struct {
	p atomic.Pointer[Config]
}

// GCO is the single global config owner every package in this module reads
// through; nothing holds a *Config across a config change.
var GCO = &configOwner{}

func init() {
	GCO.Put(&Config{
		ArenaSizeHint: 16 * 1024,
		IdleTeardown:  5 * time.Minute,
	})
}

// Get returns the current config. Never nil after package init.
func (o *configOwner) Get() *Config { return o.p.Load() }

// Put installs cfg as the current config, replacing whatever was there.
func (o *configOwner) Put(cfg *Config) { o.p.Store(cfg) }

// Update applies fn to a copy of the current config and installs the
// result, so callers don't have to reload-modify-store by hand.
func (o *configOwner) Update(fn func(clone *Config)) {
	cur := *o.Get()
	fn(&cur)
	o.Put(&cur)
}
