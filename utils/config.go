package utils

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/crypto/bcrypt"
	yaml "gopkg.in/yaml.v2"
)

var EtcDir = "."
var DataDir = "."

// string used to format Go ISO times
const ISOFormat = "2006-01-02T15:04:05.000Z"

const (
	BackendDataDir  = "datadir"
	BackendPostgres = "postgres"
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	RoleAdmin       = "ADMIN"
)

type ServiceConfig struct {
	Hostname        string   `json:"hostname" yaml:"hostname"`
	ProxyBaseURL    string   `json:"proxy_base_url" yaml:"proxy_base_url"`
	DataDir         string   `json:"data_dir" yaml:"data_dir"`
	StaticDir       string   `json:"static_dir" yaml:"static_dir"`
	TemplateDir     string   `json:"template_dir" yaml:"template_dir"`
	WorkerNodes     []string `json:"worker_nodes" yaml:"worker_nodes"`
	MemcacheAddress string   `json:"memcache_address" yaml:"memcache_address"`
	CatalogBackend  string   `json:"catalog_backend" yaml:"catalog_backend"`
	CatalogDSN      string   `json:"catalog_dsn" yaml:"catalog_dsn"`
}

// WPSConfig bounds process execution. Times are in seconds, sizes in bytes.
type WPSConfig struct {
	MaxSynchronous     int     `json:"max_synchronous" yaml:"max_synchronous"`
	MaxAsynchronous    int     `json:"max_asynchronous" yaml:"max_asynchronous"`
	MaxQueued          int     `json:"max_queued" yaml:"max_queued"`
	MaxExecutionTime   int     `json:"max_execution_time" yaml:"max_execution_time"`
	ResourceExpiration int     `json:"resource_expiration" yaml:"resource_expiration"`
	MaxInputSize       int64   `json:"max_input_size" yaml:"max_input_size"`
	MaxFeatures        int     `json:"max_features" yaml:"max_features"`
	CacheTTL           int     `json:"cache_ttl" yaml:"cache_ttl"`
	RateLimit          float64 `json:"rate_limit" yaml:"rate_limit"`
	Burst              int     `json:"burst" yaml:"burst"`

	// LocalOnly lists processes never sent to worker nodes.
	LocalOnly []string `json:"local_only" yaml:"local_only"`
}

func (c WPSConfig) ExecutionTimeout() time.Duration {
	return time.Duration(c.MaxExecutionTime) * time.Second
}

func (c WPSConfig) Expiration() time.Duration {
	return time.Duration(c.ResourceExpiration) * time.Second
}

type RESTConfig struct {
	AnonymousRead bool    `json:"anonymous_read" yaml:"anonymous_read"`
	RateLimit     float64 `json:"rate_limit" yaml:"rate_limit"`
	Burst         int     `json:"burst" yaml:"burst"`
	MaxUploadSize int64   `json:"max_upload_size" yaml:"max_upload_size"`
}

type MonitorConfig struct {
	Storage        string `json:"storage" yaml:"storage"`
	DSN            string `json:"dsn" yaml:"dsn"`
	MaxRequests    int    `json:"max_requests" yaml:"max_requests"`
	MaxBodySize    int    `json:"max_body_size" yaml:"max_body_size"`
	LogDir         string `json:"log_dir" yaml:"log_dir"`
	MaxLogFileSize int64  `json:"max_log_file_size" yaml:"max_log_file_size"`
	MaxLogFiles    int    `json:"max_log_files" yaml:"max_log_files"`
}

// User is a REST account. Password holds a bcrypt hash.
type User struct {
	Name     string   `json:"name" yaml:"name"`
	Password string   `json:"password" yaml:"password"`
	Roles    []string `json:"roles" yaml:"roles"`
}

func (u *User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// Config is the server configuration read from geoserve.json or
// geoserve.yaml in the configuration directory.
type Config struct {
	ServiceConfig ServiceConfig `json:"service_config" yaml:"service_config"`
	WPS           WPSConfig     `json:"wps" yaml:"wps"`
	REST          RESTConfig    `json:"rest" yaml:"rest"`
	Monitor       MonitorConfig `json:"monitor" yaml:"monitor"`
	Users         []User        `json:"users" yaml:"users"`
}

var configNames = []string{"geoserve.json", "geoserve.yaml", "geoserve.yml"}

// FindConfigFile returns the first configuration file present in dir.
func FindConfigFile(dir string) (string, bool) {
	for _, name := range configNames {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}

// LoadConfig reads the configuration from confDir. Defaults are used when
// no configuration file exists.
func LoadConfig(confDir string) (*Config, error) {
	config := &Config{}
	path, found := FindConfigFile(confDir)
	if !found {
		log.Printf("No config file found in %s, using defaults", confDir)
		config.ApplyDefaults()
		return config, config.Validate()
	}
	if err := config.LoadConfigFile(path); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadConfigFile decodes a JSON or YAML document, applies defaults and
// validates the result.
func (config *Config) LoadConfigFile(configFile string) error {
	*config = Config{}
	cfg, err := ioutil.ReadFile(configFile)
	if err != nil {
		return fmt.Errorf("Error while reading config file: %s. Error: %v", configFile, err)
	}

	switch strings.ToLower(filepath.Ext(configFile)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(cfg, config)
		if err != nil {
			return fmt.Errorf("Error at YAML parsing config document: %s. Error: %v", configFile, err)
		}
	default:
		err = json.Unmarshal(cfg, config)
		if err != nil {
			return fmt.Errorf("Error at JSON parsing config document: %s. Error: %v", configFile, err)
		}
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return fmt.Errorf("Invalid config document: %s. Error: %v", configFile, err)
	}
	return nil
}

func (config *Config) ApplyDefaults() {
	sc := &config.ServiceConfig
	if sc.Hostname == "" {
		sc.Hostname = "localhost:8080"
	}
	if sc.DataDir == "" {
		sc.DataDir = DataDir
	}
	if sc.CatalogBackend == "" {
		sc.CatalogBackend = BackendDataDir
	}

	w := &config.WPS
	if w.MaxSynchronous <= 0 {
		w.MaxSynchronous = 10
	}
	if w.MaxAsynchronous <= 0 {
		w.MaxAsynchronous = 4
	}
	if w.MaxQueued <= 0 {
		w.MaxQueued = 100
	}
	if w.MaxExecutionTime <= 0 {
		w.MaxExecutionTime = 600
	}
	if w.ResourceExpiration <= 0 {
		w.ResourceExpiration = 7200
	}
	if w.MaxInputSize <= 0 {
		w.MaxInputSize = 100 * 1024 * 1024
	}
	if w.MaxFeatures <= 0 {
		w.MaxFeatures = 1000000
	}
	if w.CacheTTL <= 0 {
		w.CacheTTL = 3600
	}
	if w.Burst <= 0 {
		w.Burst = 20
	}

	r := &config.REST
	if r.Burst <= 0 {
		r.Burst = 50
	}
	if r.MaxUploadSize <= 0 {
		r.MaxUploadSize = 256 * 1024 * 1024
	}

	m := &config.Monitor
	if m.Storage == "" {
		m.Storage = StorageMemory
	}
	if m.MaxRequests <= 0 {
		m.MaxRequests = 1000
	}
	if m.MaxBodySize <= 0 {
		m.MaxBodySize = 1024
	}
}

func (config *Config) Validate() error {
	sc := config.ServiceConfig
	switch sc.CatalogBackend {
	case BackendDataDir:
	case BackendPostgres:
		if sc.CatalogDSN == "" {
			return fmt.Errorf("catalog_backend postgres requires catalog_dsn")
		}
	default:
		return fmt.Errorf("unknown catalog_backend '%s'", sc.CatalogBackend)
	}

	switch config.Monitor.Storage {
	case StorageMemory:
	case StoragePostgres:
		if config.Monitor.DSN == "" {
			return fmt.Errorf("monitor storage postgres requires dsn")
		}
	default:
		return fmt.Errorf("unknown monitor storage '%s'", config.Monitor.Storage)
	}

	if config.WPS.RateLimit < 0 || config.REST.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative")
	}

	seen := map[string]bool{}
	for _, u := range config.Users {
		if u.Name == "" {
			return fmt.Errorf("user without name")
		}
		if seen[u.Name] {
			return fmt.Errorf("duplicate user '%s'", u.Name)
		}
		seen[u.Name] = true
		if _, err := bcrypt.Cost([]byte(u.Password)); err != nil {
			return fmt.Errorf("user '%s' password is not a bcrypt hash: %v", u.Name, err)
		}
	}
	return nil
}

// FindUser returns the user with the given name.
func (config *Config) FindUser(name string) *User {
	for i := range config.Users {
		if config.Users[i].Name == name {
			return &config.Users[i]
		}
	}
	return nil
}

// HashPassword returns the bcrypt hash stored in the users section.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(hash), err
}

// BaseURL is the external URL prefix used in links and capabilities.
func (config *Config) BaseURL() string {
	if config.ServiceConfig.ProxyBaseURL != "" {
		return strings.TrimRight(config.ServiceConfig.ProxyBaseURL, "/")
	}
	return "http://" + config.ServiceConfig.Hostname
}

// WatchConfig reloads the configuration on SIGHUP and hands it to reload.
func WatchConfig(infoLog, errLog *log.Logger, confDir string, reload func(*Config)) {
	// Catch SIGHUP to automatically reload cache
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			infoLog.Println("Caught SIGHUP, reloading config...")
			config, err := LoadConfig(confDir)
			if err != nil {
				errLog.Printf("Error in loading config files: %v\n", err)
				continue
			}
			reload(config)
		}
	}()
}
