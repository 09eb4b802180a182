// Package lambdaboot provides shared cold-start bootstrap for the console
// binaries.
//
// Every binary needs some subset of: AWS config, S3, SageMaker, DynamoDB,
// SSM parameter fetch, notifications, and startup logging. This package
// keeps each main's init a short composition of helpers.
package lambdaboot

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/traffic-console/internal/config"
	"github.com/fpang/traffic-console/internal/console"
	"github.com/fpang/traffic-console/internal/launcher"
	"github.com/fpang/traffic-console/internal/logging"
	"github.com/fpang/traffic-console/internal/notify"
	"github.com/fpang/traffic-console/internal/objectstore"
	"github.com/fpang/traffic-console/internal/reconcile"
	"github.com/fpang/traffic-console/internal/store"
)

// AWSClients holds the core AWS SDK config and the SSM client.
type AWSClients struct {
	Config aws.Config
	SSM    *ssm.Client
}

// InitAWS loads the default AWS config for region.
func InitAWS(ctx context.Context, region string) (AWSClients, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return AWSClients{}, fmt.Errorf("load AWS config: %w", err)
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return AWSClients{
		Config: cfg,
		SSM:    ssm.NewFromConfig(cfg),
	}, nil
}

// ParameterAPI is the subset of *ssm.Client used for secrets.
type ParameterAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// LoadSecret returns value when set, otherwise the decrypted SSM parameter
// named param. Both empty yields "" with no error.
func LoadSecret(ctx context.Context, api ParameterAPI, value, param string) (string, error) {
	if value != "" || param == "" {
		return value, nil
	}
	start := time.Now()
	out, err := api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(param),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("read SSM parameter %s: %w", param, err)
	}
	if out.Parameter == nil {
		return "", fmt.Errorf("SSM parameter %s has no value", param)
	}
	log.Debug().Str("param", param).Dur("elapsed", time.Since(start)).Msg("Secret loaded from SSM")
	return aws.ToString(out.Parameter.Value), nil
}

// Components are the wired collaborators shared by the binaries.
type Components struct {
	Objects  *objectstore.Client
	Launcher *launcher.Launcher
	Status   *reconcile.Reconciler
	// Store is nil when TABLE_NAME is unset.
	Store    *store.DynamoStore
	Notifier *notify.Notifier
	Console  *console.Service
}

// Build wires every component from cfg. Secrets are resolved through SSM.
func Build(ctx context.Context, clients AWSClients, cfg config.Config) (*Components, error) {
	objects := objectstore.New(s3.NewFromConfig(clients.Config), cfg.MaxObjectPages)
	sm := sagemaker.NewFromConfig(clients.Config)

	var ddb *store.DynamoStore
	if cfg.TableName != "" {
		ddb = store.NewDynamoStore(dynamodb.NewFromConfig(clients.Config), cfg.TableName)
	} else {
		log.Warn().Msg("TABLE_NAME not set: sessions, ledger, and client filtering disabled")
	}

	notifier, err := BuildNotifier(ctx, clients, cfg)
	if err != nil {
		return nil, err
	}

	c := &Components{
		Objects:  objects,
		Launcher: launcher.New(sm, cfg.Launcher()),
		Store:    ddb,
		Notifier: notifier,
	}

	// Keep nil interfaces nil: a typed nil *DynamoStore would look configured.
	deps := console.Deps{
		Objects:  objects,
		Launcher: c.Launcher,
		Notifier: notifier,
	}
	var index reconcile.ClientIndex
	if ddb != nil {
		index = ddb
		deps.Sessions = ddb
		deps.Ledger = ddb
	}
	c.Status = reconcile.New(objects, objects, sm, index, cfg.Reconciler())
	deps.Status = c.Status

	c.Console = console.New(deps, console.Options{
		UnprocessedBucket: cfg.UnprocessedBucket,
		UploadURLTTL:      cfg.UploadURLTTL,
		DefaultClient:     cfg.DefaultClient,
	})
	return c, nil
}

// BuildNotifier creates the EventBridge and Discord senders that are
// configured. With neither, the notifier drops every event.
func BuildNotifier(ctx context.Context, clients AWSClients, cfg config.Config) (*notify.Notifier, error) {
	var senders []notify.Sender
	if cfg.EventBusName != "" {
		senders = append(senders, &notify.EventBridgeSender{
			API:     eventbridge.NewFromConfig(clients.Config),
			BusName: cfg.EventBusName,
		})
	}

	webhook, err := LoadSecret(ctx, clients.SSM, cfg.DiscordWebhookURL, cfg.DiscordWebhookParam)
	if err != nil {
		return nil, fmt.Errorf("discord webhook: %w", err)
	}
	if webhook != "" {
		senders = append(senders, &notify.DiscordSender{URL: webhook, Client: &http.Client{}})
	}

	if len(senders) == 0 {
		log.Warn().Msg("No notification sinks configured")
	}
	return notify.New(senders...), nil
}

// StartupLog returns a startup logger preloaded with the resources in cfg.
func StartupLog(name string, initStart time.Time, cfg config.Config) *logging.StartupLogger {
	return logging.NewStartupLogger(name).
		S3Bucket("unprocessed", cfg.UnprocessedBucket).
		S3Bucket("processed", cfg.ProcessedBucket).
		S3Bucket("assets", cfg.AssetsBucket).
		DynamoTable("console", cfg.TableName).
		SSMParam("discordWebhook", cfg.DiscordWebhookParam).
		SSMParam("originVerify", cfg.OriginVerifySecretParam).
		EventBus("notifications", cfg.EventBusName).
		InstancePool(cfg.InstanceTypes).
		Feature("sessions", cfg.TableName != "").
		Feature("discord", cfg.DiscordWebhookURL != "" || cfg.DiscordWebhookParam != "").
		Config("processingVersion", cfg.ProcessingVersion).
		Config("unmatchedPolicy", cfg.UnmatchedPolicy).
		Config("displayTimezone", cfg.DisplayTimezone).
		InitDuration(time.Since(initStart))
}
