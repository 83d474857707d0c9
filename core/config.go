package core

import (
	"fmt"
	"log"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Conf is the application configuration, loaded once at startup via InitConf.
var Conf *Config

type (
	ServerConfig struct {
		Host                      string
		Port                      int
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
	}

	DatabaseConfig struct {
		Engine        string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		Host          string
		Port          int
		DisableTLS    bool
	}

	RedisConfig struct {
		Address  string
		Password string
		DB       int
	}

	ObjectStorageConfig struct {
		Endpoint  string
		Bucket    string
		AccessKey string
		SecretKey string
	}

	Config struct {
		AppName         string
		Env             string // DEV (local; default), TEST, QA, PROD
		Debug           bool
		TestMode        bool
		Build           string
		WorkDir         string
		SecretKey       string
		FrontendBaseURL string

		DefaultFromEmail mail.Address
		SendgridApiKey   string
		RollbarToken     string
		GoogleClientID   string

		PasswordResetTimeoutDelta time.Duration
		EmailVerificationDelta    time.Duration
		TrialPeriodDelta          time.Duration
		PaymentGraceDelta         time.Duration

		Server        ServerConfig
		Database      DatabaseConfig
		Redis         RedisConfig
		ObjectStorage ObjectStorageConfig
	}
)

func (c DatabaseConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// InitConf loads the configuration from the environment (and an optional
// config/.env.<env> file) into the global Conf.
func InitConf() {
	v := viper.New()
	v.SetTypeByDefaultValue(true)

	// defaults
	v.SetDefault("debug", true)
	v.SetDefault("appName", "ClassNet")
	v.SetDefault("build", "dev")
	v.SetDefault("secretKey", "w3lc0me-t0-cl@ssnet-ch@nge-m3-in-pr0d")
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("defaultFromEmail", "noreply@classnet.app")
	v.SetDefault("jwtExpirationDelta", 7*24*time.Hour)
	v.SetDefault("jwtRefreshExpirationDelta", 4*time.Hour)
	v.SetDefault("passwordResetTimeoutDelta", 3*24*time.Hour)
	v.SetDefault("emailVerificationDelta", 7*24*time.Hour)
	v.SetDefault("trialPeriodDelta", 7*24*time.Hour)
	v.SetDefault("paymentGraceDelta", 10*24*time.Hour)
	v.SetDefault("serverHost", "0.0.0.0")
	v.SetDefault("serverPort", 8000)
	v.SetDefault("dbEngine", "postgres")
	v.SetDefault("dbName", "classnet")
	v.SetDefault("dbHost", "localhost")
	v.SetDefault("dbPort", 5432)
	v.SetDefault("dbDisableTLS", true)
	v.SetDefault("redisAddress", "localhost:6379")
	v.SetDefault("redisDB", 0)

	env := os.Getenv("ENV")
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
	}
	v.SetEnvPrefix(env)

	wd := Getwd()

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	Conf = &Config{
		AppName:         v.GetString("appName"),
		Env:             env,
		Debug:           v.GetBool("debug"),
		TestMode:        v.GetBool("testMode"),
		Build:           v.GetString("build"),
		WorkDir:         wd,
		SecretKey:       v.GetString("secretKey"),
		FrontendBaseURL: v.GetString("frontendBaseURL"),
		DefaultFromEmail: mail.Address{
			Name:    v.GetString("appName"),
			Address: v.GetString("defaultFromEmail"),
		},
		SendgridApiKey:            v.GetString("sendgridApiKey"),
		RollbarToken:              v.GetString("rollbarToken"),
		GoogleClientID:            v.GetString("googleClientID"),
		PasswordResetTimeoutDelta: v.GetDuration("passwordResetTimeoutDelta"),
		EmailVerificationDelta:    v.GetDuration("emailVerificationDelta"),
		TrialPeriodDelta:          v.GetDuration("trialPeriodDelta"),
		PaymentGraceDelta:         v.GetDuration("paymentGraceDelta"),
		Server: ServerConfig{
			Host:                      v.GetString("serverHost"),
			Port:                      v.GetInt("serverPort"),
			JWTExpirationDelta:        v.GetDuration("jwtExpirationDelta"),
			JWTRefreshExpirationDelta: v.GetDuration("jwtRefreshExpirationDelta"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("dbEngine"),
			Name:          v.GetString("dbName"),
			User:          v.GetString("dbUser"),
			Password:      v.GetString("dbPassword"),
			AdminUser:     v.GetString("dbAdminUser"),
			AdminPassword: v.GetString("dbAdminPassword"),
			Host:          v.GetString("dbHost"),
			Port:          v.GetInt("dbPort"),
			DisableTLS:    v.GetBool("dbDisableTLS"),
		},
		Redis: RedisConfig{
			Address:  v.GetString("redisAddress"),
			Password: v.GetString("redisPassword"),
			DB:       v.GetInt("redisDB"),
		},
		ObjectStorage: ObjectStorageConfig{
			Endpoint:  v.GetString("ossEndpoint"),
			Bucket:    v.GetString("ossBucket"),
			AccessKey: v.GetString("ossAccessKey"),
			SecretKey: v.GetString("ossSecretKey"),
		},
	}
}
