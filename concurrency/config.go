package concurrency

import (
	"time"

	"github.com/pkg/errors"

	"github.com/concurrentstore/ccmanager/toml"
)

// Duration is the manager's config-file duration type: the teacher's own
// toml.Duration, which already round-trips through TOML and JSON as plain
// strings like "100ms" or "1m" rather than raw integers with an implicit
// unit.
type Duration = toml.Duration

// QueueShape describes a pool's task queue. It generalizes the Java
// source's cached/fixed/bounded ThreadPoolExecutor distinctions into one
// abstraction, per the design notes' re-architecture guidance.
type QueueShape int

const (
	// Handoff means the pool has no queue at all: a submit must find an
	// idle worker or spawn a new one (core-pool-size == 0 in the source).
	// Backpressure never applies to a Handoff queue.
	Handoff QueueShape = iota
	// Bounded means the queue holds at most N tasks before callers are
	// subject to backpressure or rejection.
	Bounded
	// Unbounded means the queue grows without limit (used when
	// queueCapacity is 0 or exceeds the footgun threshold of 5000, per the
	// source, preserved here as documented behavior rather than rejected).
	Unbounded
)

// PoolConfig configures one of the three executor pools (read, tx, write).
type PoolConfig struct {
	// CorePoolSize is the minimum number of resident workers. Zero means
	// an unbounded handoff pool that spawns a worker per task and retires
	// idle workers; the read and tx executors default to this.
	CorePoolSize int

	// MaximumPoolSize bounds worker growth above CorePoolSize. Only
	// meaningful when CorePoolSize > 0; must be >= CorePoolSize.
	MaximumPoolSize int

	// KeepAlive is how long an idle worker above CorePoolSize lives
	// before being retired.
	KeepAlive Duration

	// PrestartAllCoreThreads eagerly creates CorePoolSize workers at
	// construction instead of lazily on first use.
	PrestartAllCoreThreads bool

	// QueueCapacity is the bounded array queue's capacity. Zero or a
	// value greater than UnboundedQueueThreshold switches to an unbounded
	// linked queue, per the source's documented (if surprising) behavior.
	QueueCapacity int
}

// UnboundedQueueThreshold is the capacity above which QueueCapacity is
// treated as "unbounded" rather than rejected. The Open Question in the
// design notes about whether to preserve this footgun is resolved in favor
// of preserving it: no testable property depends on rejecting it, and
// spec.md documents it as the default semantics.
const UnboundedQueueThreshold = 5000

// Shape derives the effective QueueShape for this pool configuration.
func (c PoolConfig) Shape() QueueShape {
	if c.CorePoolSize == 0 {
		return Handoff
	}
	if c.QueueCapacity == 0 || c.QueueCapacity > UnboundedQueueThreshold {
		return Unbounded
	}
	return Bounded
}

// BackpressureConfig makes the admission-time caller delay a first-class,
// configurable policy rather than the dead `backoff = false` compile-time
// constant the Java source carried. See design notes Open Question #1.
type BackpressureConfig struct {
	// Enabled turns on caller-side delay as a bounded queue approaches
	// capacity. Disabled by default to match the source's as-shipped
	// behavior (backoff = false), but fully wired and testable, unlike
	// the source's dead code.
	Enabled bool

	// Threshold is the queue fill fraction (0,1] at or above which
	// Submit applies delay before enqueuing. The source hardcoded 0.91.
	Threshold float64

	// Delay is how long Submit sleeps before retrying admission once the
	// threshold is crossed. The source hardcoded 50ms.
	Delay Duration
}

// DefaultBackpressureConfig mirrors the literal thresholds named in the
// Java source (0.91 fill, 50ms sleep), just exposed as configuration
// instead of dead code.
func DefaultBackpressureConfig() BackpressureConfig {
	return BackpressureConfig{
		Enabled:   false,
		Threshold: 0.91,
		Delay:     Duration(50 * time.Millisecond),
	}
}

// Config is the complete set of tunables for a Manager, corresponding to
// spec.md section 6's configuration option table.
type Config struct {
	Read  PoolConfig `toml:"read-service"`
	Tx    PoolConfig `toml:"tx-service"`
	Write PoolConfig `toml:"write-service"`

	// GroupCommitTimeout is the maximum time the first-finished task of a
	// forming commit group waits for others to join. Zero disables
	// grouping: every group has exactly one member.
	GroupCommitTimeout Duration `toml:"group-commit-timeout"`

	// ShutdownTimeout bounds Shutdown's overall wait across all three
	// pools. Zero means wait forever.
	ShutdownTimeout Duration `toml:"shutdown-timeout"`

	// CollectQueueStatistics enables the once-per-second EWMA sampler.
	CollectQueueStatistics bool `toml:"collect-queue-statistics"`

	// ResourceReadyTimeout bounds how long Submit waits for the resource
	// manager's readiness gate before failing with Rejected.
	ResourceReadyTimeout Duration `toml:"resource-ready-timeout"`

	// Backpressure configures admission-time caller delay on bounded
	// queues nearing capacity.
	Backpressure BackpressureConfig `toml:"backpressure"`
}

// DefaultConfig returns the configuration with the defaults named in
// spec.md section 6, matching DEFAULT_* constants in the Java source.
func DefaultConfig() Config {
	return Config{
		Read: PoolConfig{
			CorePoolSize: 0,
		},
		Tx: PoolConfig{
			CorePoolSize: 0,
		},
		Write: PoolConfig{
			CorePoolSize:    10,
			MaximumPoolSize: 50,
			KeepAlive:       Duration(60 * time.Second),
			QueueCapacity:   1000,
		},
		GroupCommitTimeout:     Duration(100 * time.Millisecond),
		ShutdownTimeout:        Duration(0),
		CollectQueueStatistics: false,
		ResourceReadyTimeout:   Duration(30 * time.Second),
		Backpressure:           DefaultBackpressureConfig(),
	}
}

// Validate checks invariants the Java source enforced with
// IllegalArgumentException/RuntimeException at construction time.
func (c Config) Validate() error {
	if c.Read.CorePoolSize < 0 {
		return errors.New("read-service core-pool-size must be non-negative")
	}
	if c.Tx.CorePoolSize < 0 {
		return errors.New("tx-service core-pool-size must be non-negative")
	}
	if c.Write.CorePoolSize < 0 {
		return errors.New("write-service core-pool-size must be non-negative")
	}
	if c.Write.MaximumPoolSize < c.Write.CorePoolSize {
		return errors.New("write-service maximum-pool-size must be >= core-pool-size")
	}
	if c.Write.QueueCapacity < 0 {
		return errors.New("write-service queue-capacity must be non-negative")
	}
	if c.Backpressure.Threshold <= 0 || c.Backpressure.Threshold > 1 {
		return errors.New("backpressure threshold must be in (0,1]")
	}
	return nil
}
