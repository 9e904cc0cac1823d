package config

const (
	defaultDataDir                = "~/.local/share/easel/data"
	defaultLogDir                 = "~/.local/share/easel/logs"
	defaultBind                   = "127.0.0.1:8700"
	defaultAuthPassword           = "admin"
	defaultMaxUploadMB            = 10
	defaultSessionTTLMinutes      = 30
	defaultCleanupIntervalSeconds = 60
	defaultHistorySize            = 5
	defaultMaxParallelJobs        = 2
	defaultInferenceURL           = "http://127.0.0.1:8080"
	defaultInferenceTimeout       = 120
	defaultConnectAttempts        = 3
	defaultConnectBackoffSeconds  = 0.75
	defaultOverloadThreshold      = 3
	defaultRecoveryThreshold      = 1
	defaultTargetLatencySeconds   = 2.5
	defaultLatencyWindow          = 50
	defaultLogFormat              = "auto"
	defaultLogLevel               = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Server: Server{
			Bind:         defaultBind,
			AuthPassword: defaultAuthPassword,
			MaxUploadMB:  defaultMaxUploadMB,
		},
		Sessions: Sessions{
			TTLMinutes:             defaultSessionTTLMinutes,
			CleanupIntervalSeconds: defaultCleanupIntervalSeconds,
			HistorySize:            defaultHistorySize,
			MaxParallelJobs:        defaultMaxParallelJobs,
		},
		Inference: Inference{
			URL:                   defaultInferenceURL,
			TimeoutSeconds:        defaultInferenceTimeout,
			ConnectAttempts:       defaultConnectAttempts,
			ConnectBackoffSeconds: defaultConnectBackoffSeconds,
		},
		Scheduler: Scheduler{
			OverloadThreshold:    defaultOverloadThreshold,
			RecoveryThreshold:    defaultRecoveryThreshold,
			TargetLatencySeconds: defaultTargetLatencySeconds,
			LatencyWindow:        defaultLatencyWindow,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
