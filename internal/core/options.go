package core

import (
	"time"

	"github.com/google/uuid"

	"agriyield/internal/platform/logger"
	"agriyield/pkg/domain"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function into a Clock. A nil ClockFunc reads the system
// clock. Times are always returned in UTC.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time {
	if f == nil {
		return time.Now().UTC()
	}
	return f().UTC()
}

// IDGenerator returns a fresh identity token for farmers and land plots.
type IDGenerator func() (string, error)

// NewUUIDv7 returns a time-ordered UUID string.
func NewUUIDv7() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Option configures a Store or Service.
type Option func(*options)

type options struct {
	engine   *domain.RulesEngine
	log      *logger.Logger
	clock    Clock
	location *time.Location
	ids      IDGenerator
	metrics  MetricsRecorder
	tracer   Tracer
	seed     *Seed
}

func defaultOptions() options {
	return options{
		engine:   NewDefaultRulesEngine(),
		log:      logger.Nop(),
		clock:    ClockFunc(nil),
		location: time.Local,
		ids:      NewUUIDv7,
		metrics:  noopMetricsRecorder{},
		tracer:   NewOTelTracer(nil),
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// WithRulesEngine replaces the default rule set.
func WithRulesEngine(engine *domain.RulesEngine) Option {
	return func(o *options) {
		if engine != nil {
			o.engine = engine
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(log *logger.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithClock overrides the time source used for history ids and timestamps.
func WithClock(clock Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLocation sets the zone display timestamps are rendered in.
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		if loc != nil {
			o.location = loc
		}
	}
}

// WithIDGenerator overrides farmer and land plot id generation.
func WithIDGenerator(gen IDGenerator) Option {
	return func(o *options) {
		if gen != nil {
			o.ids = gen
		}
	}
}

// WithMetricsRecorder sets the per-operation metrics sink.
func WithMetricsRecorder(rec MetricsRecorder) Option {
	return func(o *options) {
		if rec != nil {
			o.metrics = rec
		}
	}
}

// WithTracer sets the span factory used for service operations.
func WithTracer(tracer Tracer) Option {
	return func(o *options) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithSeed replaces the embedded default dataset written by Initialize.
func WithSeed(seed Seed) Option {
	return func(o *options) {
		o.seed = &seed
	}
}
