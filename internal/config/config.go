package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	HTTPAddr string

	DBDriver string
	DBDSN    string

	AuthSecret    string
	AdminUser     string
	AdminPassHash string // bcrypt

	JudgeBaseURL string
	JudgeAPIKey  string
	JudgeModel   string
	JudgeTimeout time.Duration

	CORSOrigins []string
}

// Load reads configs/config.yaml when present, with environment
// variables taking precedence (EXAMCORE_DB_DRIVER, ...).
func Load() Config {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.SetEnvPrefix("examcore")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.dsn", "")
	v.SetDefault("auth.secret", "supersecret-dev-key")
	v.SetDefault("auth.admin_user", "admin")
	// bcrypt of "admin"; override outside dev
	v.SetDefault("auth.admin_pass_hash", "$2a$10$N9qo8uLOickgx2ZMRZoMye1VdLSrgA6Z8rmBVDiDC35ZJQyrUJ/6e")
	v.SetDefault("judge.base_url", "")
	v.SetDefault("judge.api_key", "")
	v.SetDefault("judge.model", "gpt-4o-mini")
	v.SetDefault("judge.timeout", "30s")
	v.SetDefault("cors.origins", "http://localhost:3000")

	if err := v.ReadInConfig(); err != nil {
		log.Println("no config.yaml found, using environment variables only")
	}

	return Config{
		HTTPAddr:      v.GetString("http.addr"),
		DBDriver:      v.GetString("db.driver"),
		DBDSN:         v.GetString("db.dsn"),
		AuthSecret:    v.GetString("auth.secret"),
		AdminUser:     v.GetString("auth.admin_user"),
		AdminPassHash: v.GetString("auth.admin_pass_hash"),
		JudgeBaseURL:  v.GetString("judge.base_url"),
		JudgeAPIKey:   v.GetString("judge.api_key"),
		JudgeModel:    v.GetString("judge.model"),
		JudgeTimeout:  v.GetDuration("judge.timeout"),
		CORSOrigins:   splitCSV(v.GetString("cors.origins")),
	}
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
