package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	env   string
	typ   keyType
	apply func(cfg *Config, v any)
}

var specs = []keySpec{
	{
		env: "REVPORT_SERVER_PORT", typ: kInt,
		apply: func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
	},
	{
		env: "REVPORT_STORAGE_DATA_DIR", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
	},
	{
		env: "REVPORT_TWILIO_ACCOUNT_SID", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Twilio.AccountSID = v.(string) },
	},
	{
		env: "REVPORT_TWILIO_AUTH_TOKEN", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Twilio.AuthToken = v.(string) },
	},
	{
		env: "REVPORT_TWILIO_FROM_NUMBER", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Twilio.FromNumber = v.(string) },
	},
	{
		env: "REVPORT_OPENAI_API_KEY", typ: kString,
		apply: func(cfg *Config, v any) { cfg.OpenAI.APIKey = v.(string) },
	},
	{
		env: "REVPORT_OPENAI_MODEL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.OpenAI.Model = v.(string) },
	},
	{
		env: "REVPORT_API_TOKEN", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Auth.APIToken = v.(string) },
	},
	{
		env: "REVPORT_CRON_SECRET", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Auth.CronSecret = v.(string) },
	},
	{
		env: "REVPORT_PORTAL_URL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Portal.URL = v.(string) },
	},
	{
		env: "REVPORT_LOG_LEVEL", typ: kString,
		apply: func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
	},
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
