package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the backend configuration. All values are read once at
// process start; the struct is passed explicitly to the components that
// need it.
type Config struct {
	OpenSearchURL  string        // Base URL of the OpenSearch node
	ListenAddr     string        // Address the API server binds to
	LabMode        bool          // Gates any direct-probe functionality
	ShodanAPIKey   string        // Read-only Shodan query ingestion key
	ConnectRetries int           // Liveness probe attempts at startup
	ConnectDelay   time.Duration // Fixed delay between probe attempts
}

// Load reads configuration from the environment, falling back to defaults
// suitable for a single-node demo deployment.
func Load() Config {
	v := viper.New()

	v.SetDefault("opensearch_url", "http://localhost:9200")
	v.SetDefault("assetwatch_addr", ":8000")
	v.SetDefault("lab_mode", false)
	v.SetDefault("shodan_api_key", "")
	v.SetDefault("assetwatch_connect_retries", 5)
	v.SetDefault("assetwatch_connect_delay", 3*time.Second)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return Config{
		OpenSearchURL:  v.GetString("opensearch_url"),
		ListenAddr:     v.GetString("assetwatch_addr"),
		LabMode:        v.GetBool("lab_mode"),
		ShodanAPIKey:   v.GetString("shodan_api_key"),
		ConnectRetries: v.GetInt("assetwatch_connect_retries"),
		ConnectDelay:   v.GetDuration("assetwatch_connect_delay"),
	}
}
