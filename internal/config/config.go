package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	StoreMySQL  = "mysql"
	StoreMemory = "memory"
)

// Config aggregates runtime configuration for the API server and its collaborators.
type Config struct {
	App         AppConfig
	DB          DBConfig
	Redis       RedisConfig
	Auth        AuthConfig
	Credits     CreditsConfig
	S3          S3Config
	Stripe      StripeConfig
	Lulu        LuluConfig
	Telegram    TelegramConfig
	Admin       AdminConfig
	Fulfillment FulfillmentConfig
}

type AppConfig struct {
	ListenAddr     string        `envconfig:"LISTEN_ADDR" default:":8080"`
	LogLevel       string        `envconfig:"LOG_LEVEL" default:"info"`
	Store          string        `envconfig:"STORE_DRIVER" default:"mysql"`
	PublicBaseURL  string        `envconfig:"PUBLIC_BASE_URL" default:"http://localhost:5173"`
	RequestTimeout time.Duration `envconfig:"HTTP_TIMEOUT" default:"30s"`
}

type DBConfig struct {
	DSN             string        `envconfig:"MYSQL_DSN"`
	MaxOpenConns    int           `envconfig:"MYSQL_MAX_OPEN_CONNS" default:"10"`
	MaxIdleConns    int           `envconfig:"MYSQL_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"MYSQL_CONN_MAX_LIFETIME" default:"5m"`
}

type RedisConfig struct {
	URL            string        `envconfig:"REDIS_URL"`
	IdempotencyTTL time.Duration `envconfig:"REDIS_IDEMPOTENCY_TTL" default:"72h"`
}

type AuthConfig struct {
	JWTSecret string `envconfig:"JWT_SECRET" required:"true"`
	Issuer    string `envconfig:"JWT_ISSUER"`
	Audience  string `envconfig:"JWT_AUDIENCE" default:"authenticated"`
}

type CreditsConfig struct {
	FreeLimit      int           `envconfig:"FREE_SAVE_LIMIT" default:"3"`
	PurchaseTTL    time.Duration `envconfig:"CREDIT_PURCHASE_TTL" default:"8760h"`
	Currency       string        `envconfig:"CATALOG_CURRENCY" default:"usd"`
	EbookPrice     int           `envconfig:"PRICE_EBOOK_CENTS" default:"1299"`
	SoftcoverPrice int           `envconfig:"PRICE_SOFTCOVER_CENTS" default:"2999"`
	HardcoverPrice int           `envconfig:"PRICE_HARDCOVER_CENTS" default:"3999"`
}

type S3Config struct {
	Endpoint     string        `envconfig:"S3_ENDPOINT"`
	Region       string        `envconfig:"S3_REGION"`
	AccessKey    string        `envconfig:"S3_ACCESS_KEY"`
	SecretKey    string        `envconfig:"S3_SECRET_KEY"`
	UsePathStyle bool          `envconfig:"S3_USE_PATH_STYLE" default:"false"`
	ImagesBucket string        `envconfig:"S3_BUCKET_IMAGES" default:"original-images"`
	VideosBucket string        `envconfig:"S3_BUCKET_VIDEOS" default:"generated-videos"`
	PagesBucket  string        `envconfig:"S3_BUCKET_PAGES" default:"page-images"`
	EbooksBucket string        `envconfig:"S3_BUCKET_EBOOKS" default:"ebooks"`
	SignedURLTTL time.Duration `envconfig:"S3_SIGNED_URL_TTL" default:"1h"`
}

type StripeConfig struct {
	SecretKey     string `envconfig:"STRIPE_SECRET_KEY"`
	WebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET"`
	SuccessPath   string `envconfig:"STRIPE_SUCCESS_PATH" default:"/orders/success"`
	CancelPath    string `envconfig:"STRIPE_CANCEL_PATH" default:"/orders/cancelled"`
}

type LuluConfig struct {
	BaseURL          string `envconfig:"LULU_BASE_URL" default:"https://api.sandbox.lulu.com"`
	ClientKey        string `envconfig:"LULU_CLIENT_KEY"`
	ClientSecret     string `envconfig:"LULU_CLIENT_SECRET"`
	SoftcoverPackage string `envconfig:"LULU_SOFTCOVER_POD_PACKAGE" default:"0850X0850FCSTDPB080CW444GXX"`
	HardcoverPackage string `envconfig:"LULU_HARDCOVER_POD_PACKAGE" default:"0850X0850FCSTDCW080CW444GXX"`
	PageCount        int    `envconfig:"LULU_PAGE_COUNT" default:"32"`
}

type TelegramConfig struct {
	BotToken string `envconfig:"TELEGRAM_BOT_TOKEN"`
	OpsChat  int64  `envconfig:"TELEGRAM_OPS_CHAT_ID"`
}

type AdminConfig struct {
	Username string `envconfig:"ADMIN_USERNAME" default:"admin"`
	Password string `envconfig:"ADMIN_PASSWORD" default:"change-me"`
}

type FulfillmentConfig struct {
	CallbackSecret string `envconfig:"FULFILLMENT_CALLBACK_SECRET"`
}

// Load reads configuration from an optional .env file and the environment.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	cfg.App.Store = strings.ToLower(strings.TrimSpace(cfg.App.Store))
	cfg.Credits.Currency = strings.ToLower(cfg.Credits.Currency)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var missing []string
	switch c.App.Store {
	case StoreMySQL:
		if c.DB.DSN == "" {
			missing = append(missing, "MYSQL_DSN")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.App.Store)
	}
	if c.S3.Region == "" {
		missing = append(missing, "S3_REGION")
	}
	if c.S3.AccessKey == "" {
		missing = append(missing, "S3_ACCESS_KEY")
	}
	if c.S3.SecretKey == "" {
		missing = append(missing, "S3_SECRET_KEY")
	}
	if c.Stripe.SecretKey == "" {
		missing = append(missing, "STRIPE_SECRET_KEY")
	}
	if c.Stripe.WebhookSecret == "" {
		missing = append(missing, "STRIPE_WEBHOOK_SECRET")
	}
	if c.Lulu.ClientKey == "" {
		missing = append(missing, "LULU_CLIENT_KEY")
	}
	if c.Lulu.ClientSecret == "" {
		missing = append(missing, "LULU_CLIENT_SECRET")
	}
	if c.Fulfillment.CallbackSecret == "" {
		missing = append(missing, "FULFILLMENT_CALLBACK_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %v", missing)
	}
	if c.Credits.FreeLimit < 0 {
		return fmt.Errorf("FREE_SAVE_LIMIT must not be negative")
	}
	return nil
}

// loadEnvFile applies the first .env file found. A missing file is not an error:
// containers usually inject the environment directly.
func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	return nil
}
