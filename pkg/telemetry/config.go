package telemetry

import (
	"os"
	"strconv"
	"strings"
)

// Config configures the tracer provider.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	// Endpoint is the OTLP collector address. An http:// scheme implies an
	// insecure connection.
	Endpoint string
	Protocol string // grpc or http/protobuf
	Insecure bool
	Headers  map[string]string
	// Sampler is one of always_on, always_off, traceidratio and their
	// parentbased_ variants.
	Sampler      string
	SamplerRatio float64
	Attributes   map[string]string
}

// WithEnv returns c overridden by the standard OTEL_* environment
// variables that are set.
func (c Config) WithEnv() Config {
	return c.withLookup(os.LookupEnv)
}

func (c Config) withLookup(lookup func(string) (string, bool)) Config {
	if v, ok := lookup("OTEL_ENABLED"); ok {
		c.Enabled = strings.EqualFold(v, "true")
	}
	if v, ok := lookup("OTEL_SDK_DISABLED"); ok && strings.EqualFold(v, "true") {
		c.Enabled = false
	}
	if v, ok := lookup("OTEL_SERVICE_NAME"); ok && v != "" {
		c.ServiceName = v
	}
	if v, ok := lookup("OTEL_SERVICE_VERSION"); ok && v != "" {
		c.ServiceVersion = v
	}
	if v, ok := lookup("OTEL_EXPORTER_OTLP_ENDPOINT"); ok && v != "" {
		c.Endpoint = v
	}
	if v, ok := lookup("OTEL_EXPORTER_OTLP_PROTOCOL"); ok && v != "" {
		c.Protocol = v
	}
	if v, ok := lookup("OTEL_EXPORTER_OTLP_INSECURE"); ok {
		c.Insecure = strings.EqualFold(v, "true")
	}
	if v, ok := lookup("OTEL_EXPORTER_OTLP_HEADERS"); ok {
		c.Headers = mergePairs(c.Headers, v)
	}
	if v, ok := lookup("OTEL_TRACES_SAMPLER"); ok && v != "" {
		c.Sampler = v
	}
	if v, ok := lookup("OTEL_TRACES_SAMPLER_ARG"); ok {
		if r, err := strconv.ParseFloat(v, 64); err == nil {
			c.SamplerRatio = r
		}
	}
	if v, ok := lookup("OTEL_RESOURCE_ATTRIBUTES"); ok {
		c.Attributes = mergePairs(c.Attributes, v)
	}
	return c
}

// mergePairs copies base and adds the "k1=v1,k2=v2" pairs of s. Values may
// contain '='.
func mergePairs(base map[string]string, s string) map[string]string {
	out := make(map[string]string, len(base))
	for k, v := range base {
		out[k] = v
	}
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			continue
		}
		out[k] = strings.TrimSpace(v)
	}
	return out
}
