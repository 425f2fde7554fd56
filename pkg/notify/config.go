package notify

import "time"

// EmailConfig selects and configures the sender.
// Without Postmark tokens the service falls back to DevSender writing to DevOutputDir.
type EmailConfig struct {
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	SenderEmail          string `env:"SENDER_EMAIL" envDefault:"billing@localhost"`
	SupportEmail         string `env:"SUPPORT_EMAIL" envDefault:"support@localhost"`
	DevOutputDir         string `env:"EMAIL_DEV_DIR" envDefault:"./tmp/emails"`
	Concurrency          int    `env:"EMAIL_CONCURRENCY" envDefault:"4"`
}

// UsePostmark reports whether both Postmark tokens are set.
func (c EmailConfig) UsePostmark() bool {
	return c.PostmarkServerToken != "" && c.PostmarkAccountToken != ""
}

// RedisConfig configures the claim store connection.
// An empty URL keeps claims in memory.
type RedisConfig struct {
	ConnectionURL  string        `env:"REDIS_URL"`
	RetryAttempts  int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval  time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"5s"`
	ConnectTimeout time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"30s"`
	ClaimTTL       time.Duration `env:"NOTIFY_CLAIM_TTL" envDefault:"168h"`
}
