package config

import "time"

// DefaultConfigFilename is the name of the dashboard's own config file.
const DefaultConfigFilename = "clawdash.toml"

// DefaultStateDirName sits under the home directory and holds the config,
// journal, summary and command bus.
const DefaultStateDirName = ".clawdash"

// DefaultLogDir is where the gateway writes its daily log files.
const DefaultLogDir = "/tmp/openclaw"

const DefaultLogLevel = "info"

const DefaultGatewayBinary = "openclaw"

// DefaultLogLines is how many log pane lines are kept.
const DefaultLogLines = 200

// DefaultQueueCapacity bounds the tailer-to-UI event queue.
const DefaultQueueCapacity = 500

func defaultRestartCommand() []string {
	return []string{"systemctl", "--user", "restart", "openclaw-gateway.service"}
}

// DefaultConfig returns the configuration used when nothing is overridden.
// Empty paths are derived from the home directory at load time.
func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Binary:          DefaultGatewayBinary,
			RestartCommand:  defaultRestartCommand(),
			StatusTimeout:   8 * time.Second,
			HealthTimeout:   8 * time.Second,
			VersionTimeout:  4 * time.Second,
			SetModelTimeout: 8 * time.Second,
			LoginTimeout:    120 * time.Second,
			RestartTimeout:  15 * time.Second,
		},
		Poll: PollConfig{
			RefreshInterval:  2 * time.Second,
			HealthInterval:   30 * time.Second,
			LogDrainInterval: 500 * time.Millisecond,
		},
		Tailer: TailerConfig{
			QueueCapacity: DefaultQueueCapacity,
			FileWait:      2 * time.Second,
			IdleWait:      200 * time.Millisecond,
			ErrorBackoff:  time.Second,
		},
		Log: LogConfig{
			Level: DefaultLogLevel,
		},
		UI: UIConfig{
			LogLines:   DefaultLogLines,
			WatchFiles: true,
		},
	}
}
