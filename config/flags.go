package config

import (
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
)

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"log-level":    "log.level",
	"metrics-addr": "metrics.addr",
	"alpn":         "alpn",

	"max-uni-streams":   "transport.max_uni_streams",
	"max-bidi-streams":  "transport.max_bidi_streams",
	"idle-timeout":      "transport.idle_timeout",
	"handshake-timeout": "transport.handshake_timeout",
	"keep-alive":        "transport.keep_alive_period",

	"listen":   "server.listen_addr",
	"name":     "server.subject_names",
	"cert-out": "server.cert_out",
	"serve":    "server.serve",

	"server":               "client.server_addr",
	"server-name":          "client.server_name",
	"local-addr":           "client.local_addr",
	"insecure-skip-verify": "client.insecure_skip_verify",
	"roots":                "client.roots",
	"connect-timeout":      "client.connect_timeout",
}

// Flag defaults only document the fallback; Load takes real defaults from
// setDefaults because an unchanged flag never wins over them.
func registerCommonFlags(fs *pflag.FlagSet) {
	fs.String("log-level", "info", "log level: debug, info, warn or error")
	fs.String("metrics-addr", "", "serve Prometheus /metrics on this address")
	fs.StringSlice("alpn", nil, "application protocols to offer (default quicboot/1)")
	fs.Int64("max-uni-streams", 0, "unidirectional stream limit, 0 disables them")
	fs.Int64("max-bidi-streams", 100, "bidirectional stream limit, 0 disables them")
	fs.Duration("idle-timeout", 0, "idle timeout (default 30s)")
	fs.Duration("handshake-timeout", 0, "handshake idle timeout (default 10s)")
	fs.Duration("keep-alive", 0, "keep-alive period, 0 disables")
}

// RegisterServerFlags adds the server command's flags to fs.
func RegisterServerFlags(fs *pflag.FlagSet) {
	registerCommonFlags(fs)
	fs.String("listen", "127.0.0.1:5000", "UDP address to listen on")
	fs.StringSlice("name", []string{"localhost"}, "certificate subject names (DNS names or IPs)")
	fs.String("cert-out", "", "write the generated certificate as PEM to this path")
	fs.Bool("serve", false, "keep accepting connections instead of exiting after the first")
}

// RegisterClientFlags adds the client command's flags to fs.
func RegisterClientFlags(fs *pflag.FlagSet) {
	registerCommonFlags(fs)
	fs.String("server", "127.0.0.1:5000", "server UDP address")
	fs.String("server-name", "localhost", "name the server certificate must carry")
	fs.String("local-addr", "127.0.0.1:0", "local UDP address to bind")
	fs.Bool("insecure-skip-verify", false, "accept any server certificate (loopback testing only)")
	fs.String("roots", "", "PEM file of trusted roots (default system roots)")
	fs.Duration("connect-timeout", 0, "handshake deadline (default 10s)")
}

// traceHook lets boolean settings use the yes/y spellings the TRACE switch
// has always accepted.
func traceHook() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to.Kind() != reflect.Bool {
			return data, nil
		}
		switch strings.ToLower(strings.TrimSpace(data.(string))) {
		case "1", "true", "yes", "y":
			return true, nil
		case "", "0", "false", "no", "n":
			return false, nil
		}
		return data, nil
	}
}
