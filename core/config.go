package core

import (
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	ServerConfig struct {
		Host                   string
		DebugHost              string
		ShutdownTimeout        time.Duration
		SessionExpirationDelta time.Duration
	}

	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          int
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	BootstrapAdminConfig struct {
		Name     string
		Email    string
		Password string
	}

	Config struct {
		Env              string
		Debug            bool
		TestMode         bool
		AppName          string
		Build            string
		SecretKey        string
		BaseURL          string
		SendgridApiKey   string
		RollbarToken     string
		defaultFromEmail string

		Server         ServerConfig
		Database       DatabaseConfig
		BootstrapAdmin BootstrapAdminConfig
	}
)

// Address returns the "host:port" of the database server.
func (c DatabaseConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// DefaultFromEmail returns the sender address used for outgoing emails.
func (c *Config) DefaultFromEmail() mail.Address {
	if addr, err := mail.ParseAddress(c.defaultFromEmail); err == nil {
		if addr.Name == "" {
			addr.Name = c.AppName
		}
		return *addr
	}
	return mail.Address{Name: c.AppName, Address: c.defaultFromEmail}
}

// NewConfig loads the configuration from the environment.
// ENV selects the environment: DEV (local; default), TEST, QA, PROD.
// Variables are read with the environment as prefix, eg. DEV_SECRETKEY, PROD_DATABASE_HOST.
func NewConfig() *Config {
	v := viper.New()

	env := strings.ToUpper(os.Getenv("ENV"))
	if env == "" {
		env = "DEV"
	}

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", env == "DEV" || env == "TEST")
	v.SetDefault("testMode", env == "TEST")
	v.SetDefault("appName", "Feedback 360°")
	v.SetDefault("build", "develop")
	v.SetDefault("secretKey", "k2f#9-m1)zq0v&e+4_hs!p8w^c7r(x=ub$3yt*na6lj@od5gi")
	v.SetDefault("defaultFromEmail", "noreply@localhost")
	v.SetDefault("baseURL", "http://localhost:8000")
	v.SetDefault("sendgridApiKey", "")
	v.SetDefault("rollbarToken", "")

	v.SetDefault("server.host", ":8000")
	v.SetDefault("server.debugHost", ":4000")
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("server.sessionExpirationDelta", 12*time.Hour)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "feedback360")
	v.SetDefault("database.user", "feedback360")
	v.SetDefault("database.password", "feedback360")
	v.SetDefault("database.adminUser", "postgres")
	v.SetDefault("database.adminPassword", "postgres")
	v.SetDefault("database.disableTLS", true)

	v.SetDefault("bootstrapAdmin.name", "Admin")
	v.SetDefault("bootstrapAdmin.email", "admin@feedback360.com")
	v.SetDefault("bootstrapAdmin.password", "admin123")

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join("config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}

	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Config{
		Env:              env,
		Debug:            v.GetBool("debug"),
		TestMode:         v.GetBool("testMode"),
		AppName:          v.GetString("appName"),
		Build:            v.GetString("build"),
		SecretKey:        v.GetString("secretKey"),
		BaseURL:          strings.TrimSuffix(v.GetString("baseURL"), "/"),
		SendgridApiKey:   v.GetString("sendgridApiKey"),
		RollbarToken:     v.GetString("rollbarToken"),
		defaultFromEmail: v.GetString("defaultFromEmail"),
		Server: ServerConfig{
			Host:                   v.GetString("server.host"),
			DebugHost:              v.GetString("server.debugHost"),
			ShutdownTimeout:        v.GetDuration("server.shutdownTimeout"),
			SessionExpirationDelta: v.GetDuration("server.sessionExpirationDelta"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("database.engine"),
			Host:          v.GetString("database.host"),
			Port:          v.GetInt("database.port"),
			Name:          v.GetString("database.name"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.adminUser"),
			AdminPassword: v.GetString("database.adminPassword"),
			DisableTLS:    v.GetBool("database.disableTLS"),
		},
		BootstrapAdmin: BootstrapAdminConfig{
			Name:     v.GetString("bootstrapAdmin.name"),
			Email:    v.GetString("bootstrapAdmin.email"),
			Password: v.GetString("bootstrapAdmin.password"),
		},
	}
}

// NewTestConfig returns a Config suitable for tests: no env lookups, deterministic secrets.
func NewTestConfig() *Config {
	return &Config{
		Env:              "TEST",
		Debug:            true,
		TestMode:         true,
		AppName:          "Feedback 360°",
		Build:            "test",
		SecretKey:        "secret",
		BaseURL:          "http://localhost:8000",
		defaultFromEmail: "noreply@localhost",
		Server: ServerConfig{
			ShutdownTimeout:        time.Second,
			SessionExpirationDelta: time.Hour,
		},
		BootstrapAdmin: BootstrapAdminConfig{
			Name:     "Admin",
			Email:    "admin@feedback360.com",
			Password: "admin123",
		},
	}
}
