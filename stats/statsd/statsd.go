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

// Package statsd wraps the DataDog StatsD client to implement stats.StatsClient,
// a backend the manager's sampler EWMA gauges can be published through (the
// manager's task counters are read through Manager.Counters, not published).
package statsd

import (
	"io"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"

	"github.com/concurrentstore/ccmanager/logger"
	"github.com/concurrentstore/ccmanager/stats"
)

const (
	// prefix is prepended to each metric event name.
	prefix = "ccmanager."
)

// Ensure client implements interface.
var _ stats.StatsClient = &statsClient{}

// statsClient is a StatsD implementation of stats.StatsClient.
type statsClient struct {
	client *statsd.Client
	tags   []string
	logger logger.Logger
}

// NewStatsClient returns a new instance of StatsClient talking to the
// StatsD/DogStatsD agent at host (e.g. "127.0.0.1:8125").
func NewStatsClient(host string) (*statsClient, error) {
	c, err := statsd.New(host, statsd.WithNamespace(prefix))
	if err != nil {
		return nil, err
	}
	return &statsClient{
		client: c,
		logger: logger.NopLogger,
	}, nil
}

// Open is a no-op; the underlying client connects lazily.
func (c *statsClient) Open() {}

// Close closes the connection to the agent.
func (c *statsClient) Close() error {
	return c.client.Close()
}

// Tags returns a sorted list of tags on the client.
func (c *statsClient) Tags() []string {
	return c.tags
}

// WithTags returns a new client with additional tags appended.
func (c *statsClient) WithTags(tags ...string) stats.StatsClient {
	return &statsClient{
		client: c.client,
		tags:   stats.UnionStringSlice(c.tags, tags),
		logger: c.logger,
	}
}

func (c *statsClient) Count(name string, value int64, rate float64) {
	if err := c.client.Count(name, value, c.tags, rate); err != nil {
		c.logger.Printf("statsd.StatsClient.Count error: %s", err)
	}
}

func (c *statsClient) CountWithCustomTags(name string, value int64, rate float64, t []string) {
	tags := append(append([]string{}, c.tags...), t...)
	if err := c.client.Count(name, value, tags, rate); err != nil {
		c.logger.Printf("statsd.StatsClient.Count error: %s", err)
	}
}

func (c *statsClient) Gauge(name string, value float64, rate float64) {
	if err := c.client.Gauge(name, value, c.tags, rate); err != nil {
		c.logger.Printf("statsd.StatsClient.Gauge error: %s", err)
	}
}

func (c *statsClient) Histogram(name string, value float64, rate float64) {
	if err := c.client.Histogram(name, value, c.tags, rate); err != nil {
		c.logger.Printf("statsd.StatsClient.Histogram error: %s", err)
	}
}

func (c *statsClient) Set(name string, value string, rate float64) {
	if err := c.client.Set(name, value, c.tags, rate); err != nil {
		c.logger.Printf("statsd.StatsClient.Set error: %s", err)
	}
}

func (c *statsClient) Timing(name string, value time.Duration, rate float64) {
	if err := c.client.Timing(name, value, c.tags, rate); err != nil {
		c.logger.Printf("statsd.StatsClient.Timing error: %s", err)
	}
}

// SetLogger sets the logger used to report transport errors, wrapping w as
// a standard logger to satisfy stats.StatsClient's io.Writer-shaped method;
// SetLoggerImpl accepts the package's own Logger type directly for callers
// that already have one.
func (c *statsClient) SetLogger(w io.Writer) {
	c.logger = logger.NewStandardLogger(w)
}

// SetLoggerImpl sets the logger for the client directly, bypassing the
// io.Writer adaptation SetLogger performs to satisfy stats.StatsClient.
func (c *statsClient) SetLoggerImpl(l logger.Logger) {
	c.logger = l
}
