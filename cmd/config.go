package main

import (
	"github.com/CzarSimon/httputil/dbutil"
	"github.com/CzarSimon/httputil/environ"
	"github.com/CzarSimon/httputil/jwt"
)

type config struct {
	db             dbutil.Config
	port           string
	migrationsPath string
	jwtCredentials jwt.Credentials
	recordings     recordingsConfig
}

type recordingsConfig struct {
	dir     string
	baseURL string
}

func getConfig() config {
	return config{
		db: dbutil.MysqlConfig{
			Host:             environ.MustGet("DB_HOST"),
			Port:             environ.MustGet("DB_PORT"),
			Database:         environ.MustGet("DB_DATABASE"),
			User:             environ.MustGet("DB_USERNAME"),
			Password:         environ.MustGet("DB_PASSWORD"),
			ConnectionParams: "parseTime=true",
		},
		port:           environ.Get("SERVICE_PORT", "8080"),
		migrationsPath: environ.Get("MIGRATIONS_PATH", "/etc/consultation/migrations"),
		jwtCredentials: getJwtCredentials(),
		recordings:     getRecordingsConfig(),
	}
}

func getRecordingsConfig() recordingsConfig {
	return recordingsConfig{
		dir:     environ.Get("RECORDINGS_DIR", "/var/lib/consultation/recordings"),
		baseURL: environ.Get("PUBLIC_BASE_URL", "http://consultation:8080"),
	}
}

func getJwtCredentials() jwt.Credentials {
	return jwt.Credentials{
		Issuer: environ.MustGet("JWT_ISSUER"),
		Secret: environ.MustGet("JWT_SECRET"),
	}
}
