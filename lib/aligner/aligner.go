//
// Copyright (C) 2024 Charles E. Vejnar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://www.mozilla.org/MPL/2.0/.
//

// Package aligner defines aligner plug-ins that fill alignments into the reads of a batch.
package aligner

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"git.sr.ht/~vejnar/Rapi/lib/batch"
	"git.sr.ht/~vejnar/Rapi/lib/errs"
	"git.sr.ht/~vejnar/Rapi/lib/reference"
)

// PluginVersion is the version of the plug-in interface.
const PluginVersion = "0.1"

// Aligner aligns the reads of a batch on a reference.
// AlignReads replaces the alignments of every read of the complete fragments of b.
type Aligner interface {
	Name() string
	Version() string
	AlignReads(ctx context.Context, ref *reference.Reference, b *batch.Batch) error
}

// Options configures an aligner.
type Options struct {
	NThreads int
	// MapqMin drops the alignments of reads with a lower mapping quality.
	MapqMin uint8
	// Inclusive range of insert sizes for a proper pair.
	IsizeMin int
	IsizeMax int
	// IgnoreUnsupported skips parameters unknown to the aligner instead of failing.
	IgnoreUnsupported bool
	// Parameters specific to an aligner.
	Parameters map[string]string
}

func DefaultOptions() Options {
	return Options{NThreads: 1, IsizeMin: 0, IsizeMax: 1000, Parameters: map[string]string{}}
}

// Int returns the integer parameter key or def if not set.
func (o Options) Int(key string, def int) (int, error) {
	v, ok := o.Parameters[key]
	if !ok {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parameter %s=%q: %w", key, v, errs.ErrInvalidParam)
	}
	return i, nil
}

// Check reports the parameters not in known, unless IgnoreUnsupported is set.
func (o Options) Check(known ...string) error {
	if o.IgnoreUnsupported {
		return nil
	}
	for k := range o.Parameters {
		var found bool
		for _, n := range known {
			if k == n {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("unsupported parameter %s: %w", k, errs.ErrInvalidParam)
		}
	}
	return nil
}

// Factory returns a new aligner configured by opts.
type Factory func(opts Options) (Aligner, error)

var (
	mu       sync.RWMutex
	registry = make(map[string]Factory)
)

// Register makes an aligner available by name. Registering a name twice replaces it.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = f
}

// Open returns a new instance of the aligner name.
func Open(name string, opts Options) (Aligner, error) {
	mu.RLock()
	f, ok := registry[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown aligner %q (available: %v): %w", name, Names(), errs.ErrInvalidParam)
	}
	if opts.NThreads < 1 {
		opts.NThreads = 1
	}
	if opts.IsizeMin > opts.IsizeMax {
		return nil, fmt.Errorf("insert size range [%d,%d]: %w", opts.IsizeMin, opts.IsizeMax, errs.ErrInvalidParam)
	}
	return f(opts)
}

// Names returns the registered aligner names.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func init() {
	Register(ExactName, NewExact)
}
