package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "DB_DRIVER", "REMINDER_INTERVAL", "TOKEN_TTL"} {
		t.Setenv(k, "")
	}
	cfg := Load()
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 72*time.Hour, cfg.Signing.ReminderInterval)
	assert.Equal(t, 30*24*time.Hour, cfg.Signing.TokenTTL)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DB_DRIVER", "SQLite")
	t.Setenv("REMINDER_INTERVAL", "24h")
	t.Setenv("SWEEP_INTERVAL", "90")
	t.Setenv("TOKEN_TTL", "garbage")
	t.Setenv("MIGRATIONS", "yes")
	t.Setenv("PUBLIC_BASE_URL", "https://sign.example.com/")
	t.Setenv("OPERATORS", " ops-1, ,ops-2")

	cfg := Load()
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 24*time.Hour, cfg.Signing.ReminderInterval)
	assert.Equal(t, 90*time.Second, cfg.Signing.SweepInterval)
	assert.Equal(t, 30*24*time.Hour, cfg.Signing.TokenTTL)
	assert.True(t, cfg.App.Migrations)
	assert.Equal(t, "https://sign.example.com", cfg.Signing.PublicBaseURL)
	assert.Equal(t, []string{"ops-1", "ops-2"}, cfg.Signing.Operators)
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", DBName: "esign", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=esign sslmode=disable", d.DSN())
	assert.Equal(t, "postgres://u:p@db:5432/esign?sslmode=disable", d.URL())

	d.RawDSN = ` "host=x  user=a dbname=b" `
	assert.Equal(t, "host=x user=a dbname=b sslmode=disable", d.DSN())
	assert.Equal(t, "postgres://a@x/b?sslmode=disable", d.URL())
}

func TestMaskDSN(t *testing.T) {
	assert.Equal(t, "host=db password=*** dbname=x", MaskDSN("host=db password=secret dbname=x"))
	assert.Equal(t, "postgres://u:***@db:5432/x", MaskDSN("postgres://u:secret@db:5432/x"))
}
