package config

import (
	"flag"
	"time"

	"github.com/dmitrijs2005/shashinpass/internal/flagx"
)

var knownFlags = []string{"-a", "-d", "-m", "-s", "-t", "-u", "-p", "-b", "-g", "-e", "-k", "-w", "-price", "-url", "-x", "-smtp"}

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags:
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-d string   PostgreSQL DSN
//	-m string   download token store: postgres | memory
//	-s string   record token HMAC secret
//	-t int      record token validity, hours
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-k string   Stripe secret key
//	-w string   Stripe webhook signing secret
//	-price      Stripe price id
//	-url        public base URL
//	-x string   AI transform endpoint
//	-smtp       SMTP host (empty disables mail)
//
// args is filtered with flagx.FilterArgs first so flags owned by other
// parsers (-c/-config) do not cause errors. Invalid values panic.
func parseFlags(config *Config, args []string) {
	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.TokenStore, "m", config.TokenStore, "download token store (postgres|memory)")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "record token secret key")

	recordTokenValidity := fs.Int("t", int(config.RecordTokenValidityDuration.Hours()), "record_token_validity_duration (in hours)")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	fs.StringVar(&config.StripeSecretKey, "k", config.StripeSecretKey, "Stripe secret key")
	fs.StringVar(&config.StripeWebhookSecret, "w", config.StripeWebhookSecret, "Stripe webhook secret")
	fs.StringVar(&config.StripePriceID, "price", config.StripePriceID, "Stripe price id")
	fs.StringVar(&config.PublicBaseURL, "url", config.PublicBaseURL, "public base URL")
	fs.StringVar(&config.TransformEndpoint, "x", config.TransformEndpoint, "AI transform endpoint")
	fs.StringVar(&config.SMTPHost, "smtp", config.SMTPHost, "SMTP host")

	if err := fs.Parse(flagx.FilterArgs(args, knownFlags)); err != nil {
		panic(err)
	}

	config.RecordTokenValidityDuration = time.Duration(*recordTokenValidity) * time.Hour
}
