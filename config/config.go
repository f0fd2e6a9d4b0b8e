package config

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/AmmannChristian/go-grantx/oauth2client"
	"github.com/AmmannChristian/go-grantx/sessionstore"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// EnvPrefix is prepended to every environment variable.
const EnvPrefix = "GRANTX"

// Store types accepted by STORE_TYPE.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMySQL    = "mysql"
)

type Config struct {
	ClientID         string        `mapstructure:"CLIENT_ID"`
	ClientSecret     string        `mapstructure:"CLIENT_SECRET"`
	CallbackURL      string        `mapstructure:"CALLBACK_URL"`
	LogoutURL        string        `mapstructure:"LOGOUT_URL"`
	Issuer           string        `mapstructure:"ISSUER"`
	TokenPrefix      string        `mapstructure:"TOKEN_PREFIX"`
	UserAgent        string        `mapstructure:"USER_AGENT"`
	RequestTimeout   time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	ExpiryLeeway     time.Duration `mapstructure:"EXPIRY_LEEWAY"`
	LenientScopes    bool          `mapstructure:"LENIENT_SCOPES"`
	LogLevel         string        `mapstructure:"LOG_LEVEL"`
	StoreType        string        `mapstructure:"STORE_TYPE"` // memory, redis, sqlite, postgres, mysql
	SessionNamespace string        `mapstructure:"SESSION_NAMESPACE"`
	RedisAddr        string        `mapstructure:"REDIS_ADDR"`
	RedisPassword    string        `mapstructure:"REDIS_PASSWORD"`
	RedisDB          int           `mapstructure:"REDIS_DB"`
	DSN              string        `mapstructure:"DSN"`
}

// Load reads the configuration from GRANTX_* environment variables and the
// optional GRANTX_CONFIG_FILE.
func Load() (*Config, error) {
	return LoadFrom(viper.New())
}

// LoadFrom is Load on a caller-supplied Viper instance.
func LoadFrom(v *viper.Viper) (*Config, error) {
	v.SetDefault("CLIENT_ID", "")
	v.SetDefault("CLIENT_SECRET", "")
	v.SetDefault("CALLBACK_URL", "")
	v.SetDefault("LOGOUT_URL", "")
	v.SetDefault("ISSUER", oauth2client.DefaultIssuer)
	v.SetDefault("TOKEN_PREFIX", oauth2client.DefaultNamePrefix)
	v.SetDefault("USER_AGENT", oauth2client.DefaultUserAgent)
	v.SetDefault("REQUEST_TIMEOUT", 30*time.Second)
	v.SetDefault("EXPIRY_LEEWAY", time.Duration(0))
	v.SetDefault("LENIENT_SCOPES", false)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORE_TYPE", StoreMemory)
	v.SetDefault("SESSION_NAMESPACE", "default")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("DSN", "grantx.db")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv(EnvPrefix + "_CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.StoreType = strings.ToLower(strings.TrimSpace(cfg.StoreType))

	return &cfg, nil
}

// Validate checks the settings that NewTokenManager would reject later.
func (c *Config) Validate() error {
	if c.ClientID == "" {
		return &oauth2client.ConfigurationError{Field: "client ID", Reason: EnvPrefix + "_CLIENT_ID is not set"}
	}

	switch c.StoreType {
	case StoreMemory, StoreRedis:
	case StoreSQLite, StorePostgres, StoreMySQL:
		if c.DSN == "" {
			return &oauth2client.ConfigurationError{Field: "DSN", Reason: "required for store type " + c.StoreType}
		}
	default:
		return &oauth2client.ConfigurationError{Field: "store type", Reason: fmt.Sprintf("unsupported value %q", c.StoreType)}
	}

	return nil
}

// Credentials returns the client identity for oauth2client.
func (c *Config) Credentials() oauth2client.Credentials {
	return oauth2client.Credentials{
		ClientID:              c.ClientID,
		ClientSecret:          c.ClientSecret,
		RedirectURL:           c.CallbackURL,
		PostLogoutRedirectURL: c.LogoutURL,
	}
}

// openSession is replaced in tests.
var openSession = (*Config).OpenSession

// OpenSession opens the session store selected by StoreType.
func (c *Config) OpenSession(ctx context.Context) (oauth2client.Session, error) {
	switch c.StoreType {
	case StoreMemory, "":
		return sessionstore.NewMemory(), nil

	case StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     c.RedisAddr,
			Password: c.RedisPassword,
			DB:       c.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("config: redis ping %s: %w", c.RedisAddr, err)
		}
		session, err := sessionstore.NewRedis(client, c.SessionNamespace)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return session, nil

	case StoreSQLite, StorePostgres, StoreMySQL:
		db, err := sessionstore.OpenGORM(c.StoreType, c.DSN, &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err != nil {
			return nil, err
		}
		session, err := sessionstore.NewGORM(db, c.SessionNamespace)
		if err != nil {
			if sqlDB, dbErr := db.DB(); dbErr == nil {
				_ = sqlDB.Close()
			}
			return nil, err
		}
		return session, nil

	default:
		return nil, &oauth2client.ConfigurationError{Field: "store type", Reason: fmt.Sprintf("unsupported value %q", c.StoreType)}
	}
}

// ManagerOptions translates the settings into TokenManager options.
func (c *Config) ManagerOptions(logger *zap.Logger) []oauth2client.Option {
	opts := []oauth2client.Option{
		oauth2client.WithIssuer(c.Issuer),
		oauth2client.WithNamePrefix(c.TokenPrefix),
		oauth2client.WithUserAgent(c.UserAgent),
		oauth2client.WithRequestTimeout(c.RequestTimeout),
		oauth2client.WithExpiryLeeway(c.ExpiryLeeway),
	}
	if c.LenientScopes {
		opts = append(opts, oauth2client.WithLenientScopes())
	}
	if logger != nil {
		opts = append(opts, oauth2client.WithLogger(logger))
	}
	return opts
}

// NewTokenManager validates the configuration, opens the session store, and
// builds a TokenManager logging at LogLevel. Extra options are applied last.
func (c *Config) NewTokenManager(ctx context.Context, extra ...oauth2client.Option) (*oauth2client.TokenManager, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(c.LogLevel)
	if err != nil {
		return nil, err
	}

	session, err := openSession(c, ctx)
	if err != nil {
		return nil, err
	}

	opts := append(c.ManagerOptions(logger), extra...)
	tm, err := oauth2client.NewTokenManager(ctx, session, c.Credentials(), opts...)
	if err != nil {
		if closer, ok := session.(io.Closer); ok {
			_ = closer.Close()
		}
		return nil, err
	}
	return tm, nil
}
