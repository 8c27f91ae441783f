package config

// Environment variables read by parseEnv. Secrets are usually injected this
// way rather than through files or flags.
const (
	EnvDatabaseDSN         = "DATABASE_DSN"
	EnvSecretKey           = "RECORD_TOKEN_SECRET"
	EnvStripeSecretKey     = "STRIPE_SECRET_KEY"
	EnvStripeWebhookSecret = "STRIPE_WEBHOOK_SECRET"
	EnvStripePriceID       = "STRIPE_PRICE_ID"
	EnvS3RootPassword      = "S3_ROOT_PASSWORD"
	EnvSMTPPassword        = "SMTP_PASSWORD"
	EnvTransformAPIKey     = "TRANSFORM_API_KEY"
)

// parseEnv overlays non-empty environment values onto config. lookup is
// os.LookupEnv in production.
func parseEnv(config *Config, lookup func(string) (string, bool)) {
	targets := map[string]*string{
		EnvDatabaseDSN:         &config.DatabaseDSN,
		EnvSecretKey:           &config.SecretKey,
		EnvStripeSecretKey:     &config.StripeSecretKey,
		EnvStripeWebhookSecret: &config.StripeWebhookSecret,
		EnvStripePriceID:       &config.StripePriceID,
		EnvS3RootPassword:      &config.S3RootPassword,
		EnvSMTPPassword:        &config.SMTPPassword,
		EnvTransformAPIKey:     &config.TransformAPIKey,
	}
	for name, dst := range targets {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
}
