// Package config loads console configuration from the environment once at
// cold start.
package config

import (
	"context"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/sethvargo/go-envconfig"

	"github.com/fpang/traffic-console/internal/launcher"
	"github.com/fpang/traffic-console/internal/reconcile"
)

// Config holds runtime configuration shared by the Lambdas and the CLI.
type Config struct {
	Region string `env:"AWS_REGION,default=us-east-2"`

	UnprocessedBucket string `env:"UNPROCESSED_BUCKET"`
	ProcessedBucket   string `env:"PROCESSED_BUCKET"`
	AssetsBucket      string `env:"ASSETS_BUCKET"`
	TableName         string `env:"TABLE_NAME"`

	ProcessingImage   string        `env:"PROCESSING_IMAGE"`
	ProcessingRoleARN string        `env:"PROCESSING_ROLE_ARN"`
	ProcessingVersion string        `env:"PROCESSING_VERSION,default=1.0.58"`
	InstanceTypes     []string      `env:"INSTANCE_TYPES,default=ml.c5.xlarge,ml.c5.2xlarge,ml.c5.4xlarge,ml.c5.9xlarge,ml.c5.18xlarge"`
	VolumeGB          int32         `env:"PROCESSING_VOLUME_GB,default=1"`
	MaxRuntime        time.Duration `env:"PROCESSING_MAX_RUNTIME,default=4h"`
	SampleEvery       int           `env:"SAMPLE_EVERY,default=3"`

	JoinTolerance   time.Duration `env:"JOIN_TOLERANCE,default=5m"`
	UnmatchedPolicy string        `env:"UNMATCHED_POLICY,default=drop"`
	DisplayTimezone string        `env:"DISPLAY_TIMEZONE,default=America/New_York"`
	DownloadURLTTL  time.Duration `env:"DOWNLOAD_URL_TTL,default=1h"`
	UploadURLTTL    time.Duration `env:"UPLOAD_URL_TTL,default=15m"`
	MaxJobPages     int           `env:"MAX_JOB_PAGES,default=20"`
	MaxObjectPages  int           `env:"MAX_OBJECT_PAGES,default=50"`

	EventBusName            string `env:"EVENT_BUS_NAME"`
	DiscordWebhookURL       string `env:"DISCORD_WEBHOOK_URL"`
	DiscordWebhookParam     string `env:"SSM_DISCORD_WEBHOOK_PARAM"`
	OriginVerifySecret      string `env:"ORIGIN_VERIFY_SECRET"`
	OriginVerifySecretParam string `env:"SSM_ORIGIN_VERIFY_PARAM"`
	DefaultClient           string `env:"DEFAULT_CLIENT"`
	LocalAddr               string `env:"LOCAL_ADDR"`
}

// Load returns a Config populated from environment variables.
func Load(ctx context.Context) (Config, error) {
	return LoadWith(ctx, envconfig.OsLookuper())
}

// LoadWith reads configuration through l, which lets tests supply a map.
func LoadWith(ctx context.Context, l envconfig.Lookuper) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: l}); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if _, err := reconcile.ParsePolicy(cfg.UnmatchedPolicy); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if _, err := time.LoadLocation(cfg.DisplayTimezone); err != nil {
		return Config{}, fmt.Errorf("load config: DISPLAY_TIMEZONE: %w", err)
	}
	for i, it := range cfg.InstanceTypes {
		cfg.InstanceTypes[i] = strings.TrimSpace(it)
	}
	return cfg, nil
}

// RequireBuckets reports missing bucket settings for components that touch
// the object store.
func (c Config) RequireBuckets() error {
	var missing []string
	if c.UnprocessedBucket == "" {
		missing = append(missing, "UNPROCESSED_BUCKET")
	}
	if c.ProcessedBucket == "" {
		missing = append(missing, "PROCESSED_BUCKET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment: %s", strings.Join(missing, ", "))
	}
	return nil
}

// RequireProcessing reports missing settings needed to launch jobs.
func (c Config) RequireProcessing() error {
	var missing []string
	if c.ProcessingImage == "" {
		missing = append(missing, "PROCESSING_IMAGE")
	}
	if c.ProcessingRoleARN == "" {
		missing = append(missing, "PROCESSING_ROLE_ARN")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Location returns the display time zone. Load has already validated it.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.DisplayTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Launcher returns the launcher configuration.
func (c Config) Launcher() launcher.Config {
	return launcher.Config{
		Image:             c.ProcessingImage,
		RoleARN:           c.ProcessingRoleARN,
		Version:           c.ProcessingVersion,
		InstanceTypes:     c.InstanceTypes,
		VolumeGB:          c.VolumeGB,
		MaxRuntime:        c.MaxRuntime,
		SampleEvery:       c.SampleEvery,
		UnprocessedBucket: c.UnprocessedBucket,
		ProcessedBucket:   c.ProcessedBucket,
		AssetsBucket:      c.AssetsBucket,
	}
}

// Reconciler returns the status join configuration.
func (c Config) Reconciler() reconcile.Config {
	policy, _ := reconcile.ParsePolicy(c.UnmatchedPolicy)
	return reconcile.Config{
		UnprocessedBucket: c.UnprocessedBucket,
		ProcessedBucket:   c.ProcessedBucket,
		Tolerance:         c.JoinTolerance,
		Policy:            policy,
		Location:          c.Location(),
		LinkTTL:           c.DownloadURLTTL,
		MaxJobPages:       c.MaxJobPages,
	}
}
