package config

func Defaults() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Nitro: NitroConfig{
			TimeoutSeconds: 120,
		},
		Bot: BotConfig{
			MaxFragmentLength:     2000,
			TypingIntervalSeconds: 5,
			HistoryLimit:          20,
			Concurrency:           8,
			QueueSize:             100,
		},
		Channels: ChannelsConfig{
			Discord: DiscordConfig{
				Enabled: true,
			},
		},
		Audit: AuditConfig{
			Enabled:       true,
			DBPath:        "~/.nitrobot/audit.db",
			RetentionDays: 30,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
		},
	}
}
