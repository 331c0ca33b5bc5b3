package metrics

// Config holds configuration for the metrics provider.
type Config struct {
	Enabled   bool    `mapstructure:"enabled"`
	Provider  string  `mapstructure:"provider"` // prometheus, noop
	Namespace string  `mapstructure:"namespace"`
	HTTPRequestBuckets []float64 `mapstructure:"http_request_buckets"`
}

func DefaultConfig() *Config {
	return &Config{
		Enabled:            true,
		Provider:           "prometheus",
		Namespace:          "eventcenter",
		HTTPRequestBuckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}
}

func (c *Config) ApplyDefaults() {
	if c.Provider == "" {
		c.Provider = "prometheus"
	}
	if len(c.HTTPRequestBuckets) == 0 {
		c.HTTPRequestBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	}
}
