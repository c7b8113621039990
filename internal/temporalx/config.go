package temporalx

import (
	"strings"
	"time"

	"github.com/yungbote/podium-backend/internal/platform/envutil"
)

type Config struct {
	Address   string `yaml:"address"`
	Namespace string `yaml:"namespace"`
	TaskQueue string `yaml:"task_queue"`

	AutoRegisterNamespace bool          `yaml:"auto_register_namespace"`
	DialMaxWait           time.Duration `yaml:"dial_max_wait"`

	ClientCertPath string `yaml:"client_cert_path"`
	ClientKeyPath  string `yaml:"client_key_path"`
	ClientCAPath   string `yaml:"client_ca_path"`
}

func ConfigFromEnv() Config {
	return Config{
		Address:               strings.TrimSpace(envutil.String("TEMPORAL_ADDRESS", "")),
		Namespace:             envutil.String("TEMPORAL_NAMESPACE", "podium"),
		TaskQueue:             envutil.String("TEMPORAL_TASK_QUEUE", "podium-analysis"),
		AutoRegisterNamespace: envutil.Bool("TEMPORAL_AUTO_REGISTER_NAMESPACE", false),
		DialMaxWait:           envutil.Duration("TEMPORAL_DIAL_MAX_WAIT", 60*time.Second),
		ClientCertPath:        envutil.String("TEMPORAL_CLIENT_CERT_PATH", ""),
		ClientKeyPath:         envutil.String("TEMPORAL_CLIENT_KEY_PATH", ""),
		ClientCAPath:          envutil.String("TEMPORAL_CLIENT_CA_PATH", ""),
	}
}

// Enabled reports whether analyses run as Temporal workflows.
func (c Config) Enabled() bool { return strings.TrimSpace(c.Address) != "" }

func (c Config) mtls() bool {
	return c.ClientCertPath != "" || c.ClientKeyPath != "" || c.ClientCAPath != ""
}
