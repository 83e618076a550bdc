// (C) 2025 GoodData Corporation
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the full set of knobs the connection server, origin fetcher and
// response writer read at startup. Every field here corresponds to an entry
// in the external configuration surface.
type Config struct {
	Host string
	Port int

	IsSSL               bool
	HTTPSRootCACertPath  string
	HTTPSRootCACertKey   string
	SingleCertMode       bool
	HTTPToHTTPSUpstream  bool

	UseRecordMode bool
	UseDelays     bool

	UpBandwidth   string
	DownBandwidth string
	DelayMS       int

	UseDiffOnUnknownRequests bool
	UseClosestMatch          bool

	ScrambleImages bool
	InjectScript   string

	Verbose bool

	MetricsAddr string
}

// Load builds a Config from environment variables (prefixed WPR_) and an
// optional config file, falling back to the defaults below when a key is
// unset. Environment variables win over the file; both win over defaults.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WPR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8080)
	v.SetDefault("is_ssl", false)
	v.SetDefault("https_root_ca_cert_path", "")
	v.SetDefault("https_root_ca_cert_key", "")
	v.SetDefault("single_cert_mode", false)
	v.SetDefault("http_to_https_upstream", false)
	v.SetDefault("use_record_mode", false)
	v.SetDefault("use_delays", true)
	v.SetDefault("up_bandwidth", "0")
	v.SetDefault("down_bandwidth", "0")
	v.SetDefault("delay_ms", 0)
	v.SetDefault("use_diff_on_unknown_requests", true)
	v.SetDefault("use_closest_match", false)
	v.SetDefault("scramble_images", false)
	v.SetDefault("inject_script", "")
	v.SetDefault("verbose", false)
	v.SetDefault("metrics_addr", "")

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", configFile, err)
		}
	}

	cfg := &Config{
		Host:                     v.GetString("host"),
		Port:                     v.GetInt("port"),
		IsSSL:                    v.GetBool("is_ssl"),
		HTTPSRootCACertPath:      v.GetString("https_root_ca_cert_path"),
		HTTPSRootCACertKey:       v.GetString("https_root_ca_cert_key"),
		SingleCertMode:           v.GetBool("single_cert_mode"),
		HTTPToHTTPSUpstream:      v.GetBool("http_to_https_upstream"),
		UseRecordMode:            v.GetBool("use_record_mode"),
		UseDelays:                v.GetBool("use_delays"),
		UpBandwidth:              v.GetString("up_bandwidth"),
		DownBandwidth:            v.GetString("down_bandwidth"),
		DelayMS:                  v.GetInt("delay_ms"),
		UseDiffOnUnknownRequests: v.GetBool("use_diff_on_unknown_requests"),
		UseClosestMatch:          v.GetBool("use_closest_match"),
		ScrambleImages:           v.GetBool("scramble_images"),
		InjectScript:             v.GetString("inject_script"),
		Verbose:                  v.GetBool("verbose"),
		MetricsAddr:              v.GetString("metrics_addr"),
	}

	if cfg.IsSSL && cfg.HTTPSRootCACertPath == "" && !cfg.SingleCertMode {
		return nil, fmt.Errorf("is_ssl requires https_root_ca_cert_path or single_cert_mode")
	}

	return cfg, nil
}
