package config

// Config is the root gateway configuration.
//
// APIEndpoints and Pipelines are pointers so that an absent key can be told
// apart from an empty mapping. Both keep the order they were written in.
type Config struct {
	HTTP    *HTTPConfig    `yaml:"http,omitempty"`
	Log     *LogConfig     `yaml:"log,omitempty"`
	Metrics *MetricsConfig `yaml:"metrics,omitempty"`
	Tracing *TracingConfig `yaml:"tracing,omitempty"`
	Redis   *RedisConfig   `yaml:"redis,omitempty"`

	APIEndpoints *OrderedMap[APIEndpoint] `yaml:"apiEndpoints"`
	Pipelines    *OrderedMap[Pipeline]    `yaml:"pipelines"`
}

// HTTPConfig configures the public listener.
type HTTPConfig struct {
	Address         string   `yaml:"address,omitempty"`
	ReadTimeout     Duration `yaml:"readTimeout,omitempty"`
	WriteTimeout    Duration `yaml:"writeTimeout,omitempty"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
	Output string `yaml:"output,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address,omitempty"`
	Path    string `yaml:"path,omitempty"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ServiceName  string  `yaml:"serviceName,omitempty"`
	OTLPEndpoint string  `yaml:"otlpEndpoint,omitempty"`
	SamplingRate float64 `yaml:"samplingRate,omitempty"`
}

// RedisConfig configures the shared Redis client used by the redis
// rate limit store.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// Pipeline binds an ordered policy list to one or more named apiEndpoints.
type Pipeline struct {
	APIEndpoints StringList   `yaml:"apiEndpoints"`
	Policies     PolicyGroups `yaml:"policies"`
}

// APIEndpoint describes which requests are routed to a pipeline.
//
// Host is a literal or glob host pattern and HostRegex a regular
// expression; HostRegex wins when both are set. Path is accepted as an
// alias for Paths. Extra collects keys the gateway does not interpret.
type APIEndpoint struct {
	Host      string         `yaml:"host,omitempty"`
	HostRegex string         `yaml:"hostRegex,omitempty"`
	Paths     StringList     `yaml:"paths,omitempty"`
	Path      StringList     `yaml:"path,omitempty"`
	PathRegex string         `yaml:"pathRegex,omitempty"`
	Methods   StringList     `yaml:"methods,omitempty"`
	Scopes    StringList     `yaml:"scopes,omitempty"`
	Extra     map[string]any `yaml:",inline"`
}

// AllPaths returns Paths, or Path when Paths is absent.
func (e *APIEndpoint) AllPaths() []string {
	if len(e.Paths) > 0 {
		return e.Paths
	}
	if len(e.Path) > 0 {
		return e.Path
	}
	return nil
}

// DefaultHTTPAddress is used when http.address is not set.
const DefaultHTTPAddress = ":8080"

// DefaultMetricsAddress and DefaultMetricsPath are used for an enabled
// metrics block without explicit values.
const (
	DefaultMetricsAddress = ":9090"
	DefaultMetricsPath    = "/metrics"
)

// ListenAddress returns the configured public address or the default.
func (c *Config) ListenAddress() string {
	if c.HTTP == nil || c.HTTP.Address == "" {
		return DefaultHTTPAddress
	}
	return c.HTTP.Address
}
