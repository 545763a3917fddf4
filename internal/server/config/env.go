package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const envPrefix = "KBSYNC_"

// parseEnv loads a dotenv file (envFile, or ".env" when empty) into the
// process environment and copies any KBSYNC_* variables into config.
// Variables already set in the environment win over the file. A missing
// default ".env" is ignored; a missing explicit file panics, as does a
// malformed value.
func parseEnv(config *Config, envFile string) {
	if envFile == "" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			panic(err)
		}
	} else if err := godotenv.Load(envFile); err != nil {
		panic(err)
	}

	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				panic(err)
			}
			*dst = d
		}
	}
	num := func(name string, dst *int) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				panic(err)
			}
			*dst = n
		}
	}

	str("HTTP_ADDR", &config.EndpointAddrHTTP)
	str("DATABASE_DSN", &config.DatabaseDSN)
	str("SECRET_KEY", &config.SecretKey)
	dur("ACCESS_TOKEN_VALIDITY", &config.AccessTokenValidityDuration)
	str("S3_ROOT_USER", &config.S3RootUser)
	str("S3_ROOT_PASSWORD", &config.S3RootPassword)
	str("S3_BUCKET", &config.S3Bucket)
	str("S3_REGION", &config.S3Region)
	str("S3_BASE_ENDPOINT", &config.S3BaseEndpoint)
	str("WEBHOOK_URL", &config.WebhookURL)
	dur("WEBHOOK_TIMEOUT", &config.WebhookTimeout)
	dur("UPLOAD_TIMEOUT", &config.UploadTimeout)
	dur("ROLLBACK_TIMEOUT", &config.RollbackTimeout)
	dur("REMOVE_DELAY", &config.RemoveDelay)
	num("VERIFY_ATTEMPTS", &config.VerifyAttempts)
	dur("VERIFY_BACKOFF", &config.VerifyBackoff)
	num("MAX_ATTEMPTS", &config.MaxAttempts)
	str("LOG_LEVEL", &config.LogLevel)
	str("TRACE_ENDPOINT", &config.TraceEndpoint)
	str("ALLOWED_ORIGINS", &config.AllowedOrigins)

	if v, ok := os.LookupEnv(envPrefix + "MAX_FILE_SIZE"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			panic(err)
		}
		config.MaxFileSize = n
	}
}
