// Package config loads process configuration for the server and client
// commands from defaults, an optional YAML file, QUICBOOT_* environment
// variables and command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Liangxia6/quicboot/wrapper"
)

// EnvPrefix is prepended to every environment variable except TRACE.
const EnvPrefix = "QUICBOOT"

// Config is the union of both commands' settings; each command reads the
// section it needs.
type Config struct {
	Trace     bool            `mapstructure:"trace"`
	ALPN      []string        `mapstructure:"alpn" validate:"min=1,dive,required"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Transport TransportConfig `mapstructure:"transport"`
	Server    ServerConfig    `mapstructure:"server"`
	Client    ClientConfig    `mapstructure:"client"`
}

type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
}

// MetricsConfig leaves Prometheus off when Addr is empty.
type MetricsConfig struct {
	Addr string `mapstructure:"addr" validate:"omitempty,hostname_port"`
}

type TransportConfig struct {
	MaxUniStreams    int64         `mapstructure:"max_uni_streams" validate:"gte=0"`
	MaxBidiStreams   int64         `mapstructure:"max_bidi_streams" validate:"gte=0"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout" validate:"gt=0"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" validate:"gt=0"`
	KeepAlivePeriod  time.Duration `mapstructure:"keep_alive_period" validate:"gte=0"`
}

// Params converts to the endpoint representation.
func (t TransportConfig) Params() wrapper.TransportParameters {
	return wrapper.TransportParameters{
		MaxUniStreams:    t.MaxUniStreams,
		MaxBidiStreams:   t.MaxBidiStreams,
		IdleTimeout:      t.IdleTimeout,
		HandshakeTimeout: t.HandshakeTimeout,
		KeepAlivePeriod:  t.KeepAlivePeriod,
	}
}

type ServerConfig struct {
	ListenAddr   string   `mapstructure:"listen_addr" validate:"required,udp_addr"`
	SubjectNames []string `mapstructure:"subject_names" validate:"min=1,dive,required"`
	// CertOut, when set, receives the PEM certificate so a client can
	// trust it with --roots.
	CertOut string `mapstructure:"cert_out"`
	Serve   bool   `mapstructure:"serve"`
}

type ClientConfig struct {
	ServerAddr         string        `mapstructure:"server_addr" validate:"required,hostname_port"`
	ServerName         string        `mapstructure:"server_name" validate:"required"`
	LocalAddr          string        `mapstructure:"local_addr" validate:"required,udp_addr"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
	Roots              string        `mapstructure:"roots"`
	ConnectTimeout     time.Duration `mapstructure:"connect_timeout" validate:"gt=0"`
}

func setDefaults(v *viper.Viper) {
	params := wrapper.DefaultTransportParameters()

	v.SetDefault("trace", false)
	v.SetDefault("alpn", []string{wrapper.DefaultALPN})
	v.SetDefault("log.level", "info")
	v.SetDefault("metrics.addr", "")

	v.SetDefault("transport.max_uni_streams", params.MaxUniStreams)
	v.SetDefault("transport.max_bidi_streams", params.MaxBidiStreams)
	v.SetDefault("transport.idle_timeout", params.IdleTimeout)
	v.SetDefault("transport.handshake_timeout", params.HandshakeTimeout)
	v.SetDefault("transport.keep_alive_period", params.KeepAlivePeriod)

	v.SetDefault("server.listen_addr", "127.0.0.1:5000")
	v.SetDefault("server.subject_names", []string{"localhost"})
	v.SetDefault("server.cert_out", "")
	v.SetDefault("server.serve", false)

	v.SetDefault("client.server_addr", "127.0.0.1:5000")
	v.SetDefault("client.server_name", "localhost")
	v.SetDefault("client.local_addr", "127.0.0.1:0")
	v.SetDefault("client.insecure_skip_verify", false)
	v.SetDefault("client.roots", "")
	v.SetDefault("client.connect_timeout", 10*time.Second)
}

// Load resolves the configuration. fs may be nil; flags it contains that
// appear in flagKeys override every other source once set on the command
// line. file may be empty.
func Load(fs *pflag.FlagSet, file string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("trace", "TRACE", EnvPrefix+"_TRACE"); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var c Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		traceHook(),
	))
	if err := v.Unmarshal(&c, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := Validate(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("udp_addr", validateUDPAddr)
	return v
}

// validateUDPAddr accepts host:port with port 0 meaning OS-assigned, which
// hostname_port rejects.
func validateUDPAddr(fl validator.FieldLevel) bool {
	host, port, err := net.SplitHostPort(fl.Field().String())
	if err != nil {
		return false
	}
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return false
	}
	return host == "" || net.ParseIP(host) != nil || hostnameRE.MatchString(host)
}

var hostnameRE = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)

// Validate checks field constraints and reports every failing field.
func Validate(c *Config) error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
