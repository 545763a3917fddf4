package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/kbsync/internal/timex"
)

// JsonConfig is the on-disk shape of the JSON config file. Durations accept
// both "30s" strings and integer nanoseconds. Only fields present in the file
// override the current values.
type JsonConfig struct {
	EndpointAddrHTTP            *string         `json:"endpoint_addr_http"`
	DatabaseDSN                 *string         `json:"database_dsn"`
	SecretKey                   *string         `json:"secret_key"`
	AccessTokenValidityDuration *timex.Duration `json:"access_token_validity_duration"`
	S3RootUser                  *string         `json:"s3_root_user"`
	S3RootPassword              *string         `json:"s3_root_password"`
	S3Bucket                    *string         `json:"s3_bucket"`
	S3Region                    *string         `json:"s3_region"`
	S3BaseEndpoint              *string         `json:"s3_base_endpoint"`
	WebhookURL                  *string         `json:"webhook_url"`
	WebhookTimeout              *timex.Duration `json:"webhook_timeout"`
	UploadTimeout               *timex.Duration `json:"upload_timeout"`
	RollbackTimeout             *timex.Duration `json:"rollback_timeout"`
	RemoveDelay                 *timex.Duration `json:"remove_delay"`
	VerifyAttempts              *int            `json:"verify_attempts"`
	VerifyBackoff               *timex.Duration `json:"verify_backoff"`
	MaxAttempts                 *int            `json:"max_attempts"`
	MaxFileSize                 *int64          `json:"max_file_size"`
	LogLevel                    *string         `json:"log_level"`
	TraceEndpoint               *string         `json:"trace_endpoint"`
	AllowedOrigins              *string         `json:"allowed_origins"`
}

// parseJson overlays values from the JSON file at path onto config.
// An empty path is a no-op. Unreadable files or invalid JSON panic.
func parseJson(config *Config, path string) {
	if path == "" {
		return
	}

	file, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	setString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setDuration(&config.AccessTokenValidityDuration, c.AccessTokenValidityDuration)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.WebhookURL, c.WebhookURL)
	setDuration(&config.WebhookTimeout, c.WebhookTimeout)
	setDuration(&config.UploadTimeout, c.UploadTimeout)
	setDuration(&config.RollbackTimeout, c.RollbackTimeout)
	setDuration(&config.RemoveDelay, c.RemoveDelay)
	setDuration(&config.VerifyBackoff, c.VerifyBackoff)
	setString(&config.LogLevel, c.LogLevel)
	setString(&config.TraceEndpoint, c.TraceEndpoint)
	setString(&config.AllowedOrigins, c.AllowedOrigins)
	if c.VerifyAttempts != nil {
		config.VerifyAttempts = *c.VerifyAttempts
	}
	if c.MaxAttempts != nil {
		config.MaxAttempts = *c.MaxAttempts
	}
	if c.MaxFileSize != nil {
		config.MaxFileSize = *c.MaxFileSize
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *timex.Duration) {
	if v != nil {
		*dst = v.Duration
	}
}
