package realtime

import "flowengine"

type Config struct {
	Mode         string
	NatsURL      string
	TenantID     string
	JWTSecret    string
	RealtimePort string
}

// LoadConfig reads the realtime service settings. It needs none of the API's
// database settings.
func LoadConfig() Config {
	return Config{
		Mode:         flowengine.GetEnv("RUN_MODE", "dev"),
		NatsURL:      flowengine.GetEnv("NATS_URL", "nats://localhost:4222"),
		TenantID:     flowengine.GetEnv("TENANT_ID", "default"),
		JWTSecret:    flowengine.GetEnv("JWT_SECRET", ""),
		RealtimePort: flowengine.GetEnv("REALTIME_PORT", ":8081"),
	}
}
