package config

import (
	"context"
	"fmt"
	"log/slog"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
)

// NewSESClient loads the default AWS credential chain for the configured
// region.
func NewSESClient(ctx context.Context, cfg EmailConfig) (*ses.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS SDK config: %w", err)
	}

	slog.Info("Initialized AWS SES client", "region", cfg.Region)
	return ses.NewFromConfig(awsCfg), nil
}
