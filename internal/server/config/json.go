package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/shashinpass/internal/flagx"
	"github.com/dmitrijs2005/shashinpass/internal/timex"
)

// JsonConfig mirrors Config for JSON unmarshalling. Durations use
// timex.Duration so both "24h" and integer nanoseconds are accepted.
type JsonConfig struct {
	HTTPAddr                    string         `json:"http_addr"`
	DatabaseDSN                 string         `json:"database_dsn"`
	TokenStore                  string         `json:"token_store"`
	SecretKey                   string         `json:"secret_key"`
	RecordTokenValidityDuration timex.Duration `json:"record_token_validity_duration"`
	S3RootUser                  string         `json:"s3_root_user"`
	S3RootPassword              string         `json:"s3_root_password"`
	S3Bucket                    string         `json:"s3_bucket"`
	S3Region                    string         `json:"s3_region"`
	S3BaseEndpoint              string         `json:"s3_base_endpoint"`
	StripeSecretKey             string         `json:"stripe_secret_key"`
	StripeWebhookSecret         string         `json:"stripe_webhook_secret"`
	StripePriceID               string         `json:"stripe_price_id"`
	PublicBaseURL               string         `json:"public_base_url"`
	TransformEndpoint           string         `json:"transform_endpoint"`
	TransformAPIKey             string         `json:"transform_api_key"`
	TransformTimeout            timex.Duration `json:"transform_timeout"`
	SMTPHost                    string         `json:"smtp_host"`
	SMTPPort                    int            `json:"smtp_port"`
	SMTPUser                    string         `json:"smtp_user"`
	SMTPPassword                string         `json:"smtp_password"`
	MailFrom                    string         `json:"mail_from"`
	PreviewTokenTTL             timex.Duration `json:"preview_token_ttl"`
	DownloadTokenTTL            timex.Duration `json:"download_token_ttl"`
	EmailLinkTTL                timex.Duration `json:"email_link_ttl"`
	CallTimeout                 timex.Duration `json:"call_timeout"`
	RetryAttempts               int            `json:"retry_attempts"`
	RetryDelay                  timex.Duration `json:"retry_delay"`
	RetryDeferredDelay          timex.Duration `json:"retry_deferred_delay"`
}

// parseJson loads the JSON file named by -c/-config (or $SHASHINPASS_CONFIG)
// and overlays every non-zero field onto config, so a partial file keeps
// the defaults for what it omits. Unreadable or invalid files panic.
func parseJson(config *Config, args []string) {
	jsonConfigFile := flagx.ConfigPath(args)

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	setString(&config.HTTPAddr, c.HTTPAddr)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.TokenStore, c.TokenStore)
	setString(&config.SecretKey, c.SecretKey)
	setDuration(&config.RecordTokenValidityDuration, c.RecordTokenValidityDuration)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.StripeSecretKey, c.StripeSecretKey)
	setString(&config.StripeWebhookSecret, c.StripeWebhookSecret)
	setString(&config.StripePriceID, c.StripePriceID)
	setString(&config.PublicBaseURL, c.PublicBaseURL)
	setString(&config.TransformEndpoint, c.TransformEndpoint)
	setString(&config.TransformAPIKey, c.TransformAPIKey)
	setDuration(&config.TransformTimeout, c.TransformTimeout)
	setString(&config.SMTPHost, c.SMTPHost)
	if c.SMTPPort != 0 {
		config.SMTPPort = c.SMTPPort
	}
	setString(&config.SMTPUser, c.SMTPUser)
	setString(&config.SMTPPassword, c.SMTPPassword)
	setString(&config.MailFrom, c.MailFrom)
	setDuration(&config.PreviewTokenTTL, c.PreviewTokenTTL)
	setDuration(&config.DownloadTokenTTL, c.DownloadTokenTTL)
	setDuration(&config.EmailLinkTTL, c.EmailLinkTTL)
	setDuration(&config.CallTimeout, c.CallTimeout)
	if c.RetryAttempts != 0 {
		config.RetryAttempts = c.RetryAttempts
	}
	setDuration(&config.RetryDelay, c.RetryDelay)
	setDuration(&config.RetryDeferredDelay, c.RetryDeferredDelay)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
