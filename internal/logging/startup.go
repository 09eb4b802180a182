package logging

import (
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// StartupLogger collects a binary's identity, resources, and feature flags
// and emits them as one structured event at cold start.
type StartupLogger struct {
	name         string
	commitHash   string
	buildTime    string
	initDuration time.Duration

	s3Buckets    map[string]string
	dynamoTables map[string]string
	ssmParams    map[string]string
	eventBuses   map[string]string
	features     map[string]bool
	config       map[string]string
	pool         []string
}

// NewStartupLogger creates a StartupLogger for the named binary
// (e.g. "console-lambda", "upload-lambda").
func NewStartupLogger(name string) *StartupLogger {
	return &StartupLogger{
		name:         name,
		s3Buckets:    make(map[string]string),
		dynamoTables: make(map[string]string),
		ssmParams:    make(map[string]string),
		eventBuses:   make(map[string]string),
		features:     make(map[string]bool),
		config:       make(map[string]string),
	}
}

// CommitHash sets the git commit baked into the binary at build time.
func (s *StartupLogger) CommitHash(hash string) *StartupLogger {
	s.commitHash = hash
	return s
}

// BuildTime sets the build timestamp baked into the binary.
func (s *StartupLogger) BuildTime(t string) *StartupLogger {
	s.buildTime = t
	return s
}

// S3Bucket registers a bucket. Empty names are skipped.
func (s *StartupLogger) S3Bucket(label, name string) *StartupLogger {
	if name != "" {
		s.s3Buckets[label] = name
	}
	return s
}

// DynamoTable registers a table. Empty names are skipped.
func (s *StartupLogger) DynamoTable(label, name string) *StartupLogger {
	if name != "" {
		s.dynamoTables[label] = name
	}
	return s
}

// SSMParam registers a parameter path. Only the path is logged, never the value.
func (s *StartupLogger) SSMParam(label, path string) *StartupLogger {
	if path != "" {
		s.ssmParams[label] = path
	}
	return s
}

// EventBus registers an EventBridge bus.
func (s *StartupLogger) EventBus(label, name string) *StartupLogger {
	if name != "" {
		s.eventBuses[label] = name
	}
	return s
}

// InstancePool records the processing instance types, cheapest first.
func (s *StartupLogger) InstancePool(types []string) *StartupLogger {
	s.pool = types
	return s
}

// Feature registers a boolean feature flag.
func (s *StartupLogger) Feature(name string, enabled bool) *StartupLogger {
	s.features[name] = enabled
	return s
}

// Config registers a non-sensitive configuration value.
func (s *StartupLogger) Config(key, value string) *StartupLogger {
	s.config[key] = value
	return s
}

// InitDuration records how long initialization took.
func (s *StartupLogger) InitDuration(d time.Duration) *StartupLogger {
	s.initDuration = d
	return s
}

// Log emits the collected state as a single INFO event.
func (s *StartupLogger) Log() {
	s.event(log.Info()).Msg("Cold start complete")
}

func (s *StartupLogger) event(evt *zerolog.Event) *zerolog.Event {
	identity := zerolog.Dict().
		Str("name", s.name).
		Str("functionName", os.Getenv("AWS_LAMBDA_FUNCTION_NAME")).
		Str("version", os.Getenv("AWS_LAMBDA_FUNCTION_VERSION")).
		Str("region", os.Getenv("AWS_REGION")).
		Str("goVersion", runtime.Version()).
		Str("arch", runtime.GOARCH).
		Str("logLevel", zerolog.GlobalLevel().String())
	if s.commitHash != "" {
		identity = identity.Str("commitHash", s.commitHash)
	}
	if s.buildTime != "" {
		identity = identity.Str("buildTime", s.buildTime)
	}
	evt = evt.Dict("binary", identity)

	resources := zerolog.Dict()
	hasResources := false
	for label, m := range map[string]map[string]string{
		"s3Buckets":    s.s3Buckets,
		"dynamoTables": s.dynamoTables,
		"ssmParams":    s.ssmParams,
		"eventBuses":   s.eventBuses,
	} {
		if len(m) > 0 {
			resources = resources.Dict(label, dictFromMap(m))
			hasResources = true
		}
	}
	if hasResources {
		evt = evt.Dict("resources", resources)
	}

	if len(s.pool) > 0 {
		evt = evt.Str("instancePool", strings.Join(s.pool, ","))
	}
	if len(s.features) > 0 {
		d := zerolog.Dict()
		for k, v := range s.features {
			d = d.Bool(k, v)
		}
		evt = evt.Dict("features", d)
	}
	if len(s.config) > 0 {
		evt = evt.Dict("config", dictFromMap(s.config))
	}
	if s.initDuration > 0 {
		evt = evt.Dur("initDuration", s.initDuration)
	}
	return evt
}

func dictFromMap(m map[string]string) *zerolog.Event {
	d := zerolog.Dict()
	for k, v := range m {
		d = d.Str(k, v)
	}
	return d
}
