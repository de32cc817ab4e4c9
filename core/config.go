package core

import (
	"fmt"
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	Config struct {
		AppName          string
		Build            string
		Env              string // DEV (local; default), TEST, QA, PROD
		Debug            bool
		TestMode         bool
		SecretKey        string
		FrontendBaseURL  string
		RollbarToken     string
		SendgridApiKey   string
		defaultFromEmail string

		Server    ServerConfig
		Database  DatabaseConfig
		Redis     RedisConfig
		Websocket WebsocketConfig
		Scheduler SchedulerConfig
	}

	ServerConfig struct {
		Host               string
		DebugHost          string
		ShutdownTimeout    time.Duration
		JWTExpirationDelta time.Duration
	}

	DatabaseConfig struct {
		Engine        string // postgres | memory
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	RedisConfig struct {
		URL     string
		Channel string // prefix of the pub/sub channels
	}

	WebsocketConfig struct {
		SendBuffer     int
		WriteWait      time.Duration
		PongWait       time.Duration
		MaxMessageSize int64
		AllowedOrigins []string
	}

	SchedulerConfig struct {
		Enabled         bool
		AnnouncementsAt string // cron spec
	}
)

func (c DatabaseConfig) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// PingPeriod must stay below PongWait so the peer answers before the read deadline.
func (c WebsocketConfig) PingPeriod() time.Duration {
	return (c.PongWait * 9) / 10
}

func (c *Config) DefaultFromEmail() mail.Address {
	addr, err := mail.ParseAddress(c.defaultFromEmail)
	if err != nil {
		return mail.Address{Name: c.AppName, Address: "noreply@localhost"}
	}
	if addr.Name == "" {
		addr.Name = c.AppName
	}
	return *addr
}

// UsesRedis reports whether group fan-out must go through the Redis broker.
func (c *Config) UsesRedis() bool {
	return c.Redis.URL != ""
}

func NewConfig() *Config {
	v := viper.New()

	env := strings.ToUpper(os.Getenv("ENV"))
	if env == "" {
		env = "DEV"
	}

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("appName", "EMSU")
	v.SetDefault("build", "develop")
	v.SetDefault("debug", env == "DEV" || env == "TEST")
	v.SetDefault("testMode", env == "TEST")
	v.SetDefault("secretKey", "e6w1-xq)7hb$+57=dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy")
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("defaultFromEmail", "EMSU <noreply@localhost>")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("sendgridApiKey", "")

	v.SetDefault("serverHost", ":8000")
	v.SetDefault("serverDebugHost", ":4000")
	v.SetDefault("serverShutdownTimeout", 10*time.Second)
	v.SetDefault("jwtExpirationDelta", 7*24*time.Hour)

	v.SetDefault("dbEngine", "postgres")
	v.SetDefault("dbHost", "localhost")
	v.SetDefault("dbPort", "5432")
	v.SetDefault("dbName", "emsu")
	v.SetDefault("dbUser", "emsu")
	v.SetDefault("dbPassword", "emsu")
	v.SetDefault("dbAdminUser", "")
	v.SetDefault("dbAdminPassword", "")
	v.SetDefault("dbDisableTLS", true)

	v.SetDefault("redisURL", "")
	v.SetDefault("redisChannel", "emsu:group:")

	v.SetDefault("wsSendBuffer", 64)
	v.SetDefault("wsWriteWait", 10*time.Second)
	v.SetDefault("wsPongWait", 60*time.Second)
	v.SetDefault("wsMaxMessageSize", int64(64<<10))
	v.SetDefault("wsAllowedOrigins", "*")

	v.SetDefault("schedulerEnabled", true)
	v.SetDefault("schedulerAnnouncementsAt", "@every 1m")

	v.SetEnvPrefix(env)

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(Getwd(), "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	return &Config{
		AppName:          v.GetString("appName"),
		Build:            v.GetString("build"),
		Env:              env,
		Debug:            v.GetBool("debug"),
		TestMode:         v.GetBool("testMode"),
		SecretKey:        v.GetString("secretKey"),
		FrontendBaseURL:  v.GetString("frontendBaseURL"),
		RollbarToken:     v.GetString("rollbarToken"),
		SendgridApiKey:   v.GetString("sendgridApiKey"),
		defaultFromEmail: v.GetString("defaultFromEmail"),
		Server: ServerConfig{
			Host:               v.GetString("serverHost"),
			DebugHost:          v.GetString("serverDebugHost"),
			ShutdownTimeout:    v.GetDuration("serverShutdownTimeout"),
			JWTExpirationDelta: v.GetDuration("jwtExpirationDelta"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("dbEngine"),
			Host:          v.GetString("dbHost"),
			Port:          v.GetString("dbPort"),
			Name:          v.GetString("dbName"),
			User:          v.GetString("dbUser"),
			Password:      v.GetString("dbPassword"),
			AdminUser:     v.GetString("dbAdminUser"),
			AdminPassword: v.GetString("dbAdminPassword"),
			DisableTLS:    v.GetBool("dbDisableTLS"),
		},
		Redis: RedisConfig{
			URL:     v.GetString("redisURL"),
			Channel: v.GetString("redisChannel"),
		},
		Websocket: WebsocketConfig{
			SendBuffer:     v.GetInt("wsSendBuffer"),
			WriteWait:      v.GetDuration("wsWriteWait"),
			PongWait:       v.GetDuration("wsPongWait"),
			MaxMessageSize: v.GetInt64("wsMaxMessageSize"),
			AllowedOrigins: splitList(v.GetString("wsAllowedOrigins")),
		},
		Scheduler: SchedulerConfig{
			Enabled:         v.GetBool("schedulerEnabled"),
			AnnouncementsAt: v.GetString("schedulerAnnouncementsAt"),
		},
	}
}

// NewTestConfig returns a Config suitable for unit tests, without touching the environment.
func NewTestConfig() *Config {
	return &Config{
		AppName:          "EMSU",
		Build:            "test",
		Env:              "TEST",
		Debug:            true,
		TestMode:         true,
		SecretKey:        "test-secret",
		FrontendBaseURL:  "http://localhost:3000",
		defaultFromEmail: "EMSU <noreply@localhost>",
		Server: ServerConfig{
			Host:               ":0",
			ShutdownTimeout:    time.Second,
			JWTExpirationDelta: time.Hour,
		},
		Database: DatabaseConfig{Engine: "memory"},
		Redis:    RedisConfig{Channel: "emsu:group:"},
		Websocket: WebsocketConfig{
			SendBuffer:     16,
			WriteWait:      time.Second,
			PongWait:       5 * time.Second,
			MaxMessageSize: 64 << 10,
			AllowedOrigins: []string{"*"},
		},
		Scheduler: SchedulerConfig{AnnouncementsAt: "@every 1m"},
	}
}

func (c *Config) String() string {
	return fmt.Sprintf("%s[%s] build=%s db=%s redis=%t", c.AppName, c.Env, c.Build, c.Database.Engine, c.UsesRedis())
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
