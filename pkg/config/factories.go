package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awsS3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/imapfs/internal/logger"
	"github.com/marmos91/imapfs/internal/ratelimiter"
	"github.com/marmos91/imapfs/pkg/filestore"
	"github.com/marmos91/imapfs/pkg/locator"
	"github.com/marmos91/imapfs/pkg/mailbox"
	"github.com/marmos91/imapfs/pkg/mailbox/badger"
	"github.com/marmos91/imapfs/pkg/mailbox/imap"
	"github.com/marmos91/imapfs/pkg/mailbox/memory"
	"github.com/marmos91/imapfs/pkg/mailbox/s3"
	"github.com/marmos91/imapfs/pkg/metrics"
	"github.com/mitchellh/mapstructure"
)

// CreateStore builds the file store for the configured locator and owner.
func CreateStore(ctx context.Context, cfg *Config, prompt PasswordPrompt) (*filestore.Store, error) {
	dialer, err := CreateDialer(ctx, cfg, prompt)
	if err != nil {
		return nil, err
	}
	return filestore.New(dialer, filestore.Options{Owner: cfg.Identifier}), nil
}

// CreateDialer creates a mailbox dialer based on configuration.
//
// The locator scheme selects the backend; the matching options section is
// decoded into the backend's configuration type. When a metrics textfile is
// configured the dialer is instrumented, and a rate limit throttles it.
//
// Supported schemes:
//   - "imap", "imaps": pkg/mailbox/imap (IMAP server)
//   - "memory": pkg/mailbox/memory (process-local, shared by name)
//   - "badger": pkg/mailbox/badger (BadgerDB directory)
//   - "s3": pkg/mailbox/s3 (Amazon S3 or compatible storage)
//
// A missing or malformed locator wraps mailbox.ErrAccessDenied.
func CreateDialer(ctx context.Context, cfg *Config, prompt PasswordPrompt) (mailbox.Dialer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cfg.Locator == "" {
		return nil, fmt.Errorf("no mailbox locator configured (set %s_LOCATOR or --mailbox): %w",
			EnvPrefix, mailbox.ErrAccessDenied)
	}

	loc, err := locator.Parse(cfg.Locator)
	if err != nil {
		return nil, err
	}

	var dialer mailbox.Dialer
	switch loc.Scheme {
	case locator.SchemeIMAP, locator.SchemeIMAPS:
		dialer, err = createIMAPDialer(cfg, loc, prompt)
	case locator.SchemeMemory:
		dialer = memory.Shared(loc.Name)
	case locator.SchemeBadger:
		dialer, err = createBadgerDialer(loc, cfg.Badger)
	case locator.SchemeS3:
		dialer, err = createS3Dialer(ctx, loc, cfg.S3)
	default:
		err = fmt.Errorf("unsupported scheme %q: %w", loc.Scheme, mailbox.ErrAccessDenied)
	}
	if err != nil {
		return nil, err
	}

	logger.Debug("Mailbox: %s", loc)

	if cfg.Metrics.Textfile != "" {
		metrics.InitRegistry()
		dialer = metrics.Instrument(dialer, string(loc.Scheme))
	}

	// Throttle outside the instrumentation so waits are not counted as
	// backend latency
	if rl := cfg.RateLimit; rl.RequestsPerSecond > 0 {
		logger.Debug("Rate limit: %d commands/s, burst %d", rl.RequestsPerSecond, rl.Burst)
		dialer = ratelimiter.Throttle(dialer, ratelimiter.New(rl.RequestsPerSecond, rl.Burst))
	}

	return dialer, nil
}

// createIMAPDialer creates an IMAP dialer, filling missing credentials from
// the configuration and, as a last resort, the password prompt.
func createIMAPDialer(cfg *Config, loc *locator.Locator, prompt PasswordPrompt) (mailbox.Dialer, error) {
	loc.WithCredentials(cfg.Username, cfg.Password)

	if !loc.HasPassword && prompt != nil {
		password, err := prompt(loc.Username, loc.Host)
		switch {
		case errors.Is(err, ErrNoTerminal):
			logger.Debug("No password for %s and no terminal to ask on", loc.Username)
		case err != nil:
			return nil, err
		default:
			loc.Password = password
			loc.HasPassword = true
		}
	}

	return imap.NewIMAPDialer(imap.IMAPDialerConfig{
		Address:            loc.Address(),
		TLS:                loc.TLS(),
		StartTLS:           cfg.IMAP.StartTLS,
		InsecureSkipVerify: cfg.IMAP.InsecureSkipVerify,
		Username:           loc.Username,
		Password:           loc.Password,
		Folder:             loc.Folder,
	}), nil
}

// createBadgerDialer creates a BadgerDB-backed mailbox for the locator's
// directory.
func createBadgerDialer(loc *locator.Locator, options map[string]any) (mailbox.Dialer, error) {
	var storeCfg badger.BadgerMailboxConfig
	if err := mapstructure.WeakDecode(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode badger options: %w", err)
	}

	// The locator always names the directory
	storeCfg.Dir = loc.Dir

	if err := validate.Struct(&storeCfg); err != nil {
		return nil, formatValidationError(err)
	}

	return badger.NewBadgerMailbox(storeCfg), nil
}

// S3Options are the s3 section options.
type S3Options struct {
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	MaxRetries      int    `mapstructure:"max_retries" validate:"gte=0"`
}

// createS3Dialer creates an S3-backed mailbox for the locator's bucket and
// prefix.
func createS3Dialer(ctx context.Context, loc *locator.Locator, options map[string]any) (mailbox.Dialer, error) {
	var storeCfg S3Options
	if err := mapstructure.WeakDecode(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode s3 options: %w", err)
	}
	if err := validate.Struct(&storeCfg); err != nil {
		return nil, formatValidationError(err)
	}

	client, err := newS3Client(ctx, storeCfg)
	if err != nil {
		return nil, err
	}

	store, err := s3.NewS3Mailbox(s3.S3MailboxConfig{
		Client:    client,
		Bucket:    loc.Bucket,
		KeyPrefix: loc.Prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 mailbox: %w", err)
	}

	logger.Debug("S3 mailbox: bucket=%s, region=%s, prefix=%s", loc.Bucket, storeCfg.Region, loc.Prefix)
	return store, nil
}

// newS3Client builds an S3 client from the default AWS configuration chain
// and the explicit options.
func newS3Client(ctx context.Context, opts S3Options) (*awsS3.Client, error) {
	var configOptions []func(*awsConfig.LoadOptions) error

	if opts.Region != "" {
		configOptions = append(configOptions, awsConfig.WithRegion(opts.Region))
	}

	// Otherwise use the default credential chain
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		credProvider := credentials.NewStaticCredentialsProvider(
			opts.AccessKeyID,
			opts.SecretAccessKey,
			"",
		)
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	cfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return awsS3.NewFromConfig(cfg, func(o *awsS3.Options) {
		// MinIO and Localstack need a custom endpoint with path-style addressing
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}
