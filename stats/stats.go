// Copyright 2017 Pilosa Corp.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package stats decouples the concurrency manager's telemetry (queue depth,
// arrival rate, service time, lock counts) from any particular metrics
// backend, per spec.md section 4.E and section 6's "Stats client: decoupled
// telemetry sink."
package stats

import (
	"expvar"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

func init() {
	NopStatsClient = &nopStatsClient{}
}

// Expvar is the global expvar map stats gauges fall back to when no other
// backend is configured.
var Expvar = expvar.NewMap("ccmanager")

// StatsClient represents a client to a stats server.
type StatsClient interface {
	// Tags returns a sorted list of tags on the client.
	Tags() []string

	// WithTags returns a new client with additional tags appended.
	WithTags(tags ...string) StatsClient

	// Count tracks the number of times something occurs per second.
	Count(name string, value int64, rate float64)

	// CountWithCustomTags tracks the number of times something occurs per
	// second with custom tags.
	CountWithCustomTags(name string, value int64, rate float64, tags []string)

	// Gauge sets the value of a metric.
	Gauge(name string, value float64, rate float64)

	// Histogram tracks statistical distribution of a metric.
	Histogram(name string, value float64, rate float64)

	// Set tracks number of unique elements.
	Set(name string, value string, rate float64)

	// Timing tracks timing information for a metric.
	Timing(name string, value time.Duration, rate float64)

	// SetLogger sets the logger output type.
	SetLogger(logger io.Writer)

	// Open starts the service.
	Open()

	// Close closes the client.
	Close() error
}

// NopStatsClient represents a client that doesn't do anything.
var NopStatsClient StatsClient

type nopStatsClient struct{}

func (c *nopStatsClient) Tags() []string                                                            { return nil }
func (c *nopStatsClient) WithTags(tags ...string) StatsClient                                       { return c }
func (c *nopStatsClient) Count(name string, value int64, rate float64)                              {}
func (c *nopStatsClient) CountWithCustomTags(name string, value int64, rate float64, tags []string) {}
func (c *nopStatsClient) Gauge(name string, value float64, rate float64)                            {}
func (c *nopStatsClient) Histogram(name string, value float64, rate float64)                        {}
func (c *nopStatsClient) Set(name string, value string, rate float64)                               {}
func (c *nopStatsClient) Timing(name string, value time.Duration, rate float64)                     {}
func (c *nopStatsClient) SetLogger(logger io.Writer)                                                {}
func (c *nopStatsClient) Open()                                                                     {}
func (c *nopStatsClient) Close() error                                                              { return nil }

// ExpvarStatsClient writes stats out to expvars, useful for a dependency-
// free demo or for debugging without a statsd agent running.
type ExpvarStatsClient struct {
	mu   sync.Mutex
	m    *expvar.Map
	tags []string
}

// NewExpvarStatsClient returns a new instance of ExpvarStatsClient pointed
// at the root of the package's expvar map.
func NewExpvarStatsClient() *ExpvarStatsClient {
	return &ExpvarStatsClient{m: Expvar}
}

func (c *ExpvarStatsClient) Tags() []string { return c.tags }

func (c *ExpvarStatsClient) WithTags(tags ...string) StatsClient {
	m := &expvar.Map{}
	m.Init()
	c.m.Set(strings.Join(tags, ","), m)
	return &ExpvarStatsClient{
		m:    m,
		tags: UnionStringSlice(c.tags, tags),
	}
}

func (c *ExpvarStatsClient) Count(name string, value int64, rate float64) {
	c.m.Add(name, value)
}

func (c *ExpvarStatsClient) CountWithCustomTags(name string, value int64, rate float64, tags []string) {
	c.m.Add(name, value)
}

func (c *ExpvarStatsClient) Gauge(name string, value float64, rate float64) {
	var f expvar.Float
	f.Set(value)
	c.m.Set(name, &f)
}

// Histogram works the same as Gauge for this client: expvar has no native
// distribution type.
func (c *ExpvarStatsClient) Histogram(name string, value float64, rate float64) {
	c.Gauge(name, value, rate)
}

func (c *ExpvarStatsClient) Set(name string, value string, rate float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var s expvar.String
	s.Set(value)
	c.m.Set(name, &s)
}

func (c *ExpvarStatsClient) Timing(name string, value time.Duration, rate float64) {
	c.Gauge(name, float64(value)/float64(time.Millisecond), rate)
}

func (c *ExpvarStatsClient) SetLogger(logger io.Writer) {}

func (c *ExpvarStatsClient) Open() {}

func (c *ExpvarStatsClient) Close() error { return nil }

// UnionStringSlice returns a sorted set of tags combining a and b, used by
// WithTags implementations to merge a client's base tags with call-site
// tags without duplicating entries.
func UnionStringSlice(a, b []string) []string {
	sort.Strings(a)
	sort.Strings(b)

	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	if n == 0 {
		return nil
	}

	out := make([]string, 0, n)
	for len(a) > 0 || len(b) > 0 {
		switch {
		case len(a) == 0:
			out, b = append(out, b[0]), b[1:]
		case len(b) == 0:
			out, a = append(out, a[0]), a[1:]
		case a[0] < b[0]:
			out, a = append(out, a[0]), a[1:]
		case b[0] < a[0]:
			out, b = append(out, b[0]), b[1:]
		default:
			out, a, b = append(out, a[0]), a[1:], b[1:]
		}
	}
	return out
}
