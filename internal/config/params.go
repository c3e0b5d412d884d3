package config

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/roach88/fsidx/internal/fserr"
)

// ParseParams builds a SearchConfig from string module parameters.
//
// maxResults and maxSecondsPerSession are required positive integers.
// indexDCFields defaults to true and accepts true/yes/false/no in any case.
// fastPathRule defaults to "equals".
func ParseParams(params map[string]string) (SearchConfig, error) {
	var sc SearchConfig

	maxResults, err := positiveInt(params, "maxResults")
	if err != nil {
		return sc, err
	}
	maxSeconds, err := positiveInt(params, "maxSecondsPerSession")
	if err != nil {
		return sc, err
	}

	indexDC := true
	if raw, ok := params["indexDCFields"]; ok {
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "true", "yes":
		case "false", "no":
			indexDC = false
		default:
			return sc, fserr.New(fserr.CodeConfiguration, "params", "indexDCFields param was not a boolean")
		}
	}

	rule := FastPathEquals
	if raw, ok := params["fastPathRule"]; ok {
		rule = strings.TrimSpace(raw)
		if rule != FastPathEquals && rule != FastPathEqualsOrContains {
			return sc, fserr.New(fserr.CodeConfiguration, "params",
				fmt.Sprintf("fastPathRule must be %q or %q", FastPathEquals, FastPathEqualsOrContains))
		}
	}

	sc.MaxResults = maxResults
	sc.MaxSecondsPerSession = maxSeconds
	sc.IndexDCFields = &indexDC
	sc.FastPathRule = rule
	return sc, nil
}

func positiveInt(params map[string]string, name string) (int, error) {
	raw, ok := params[name]
	if !ok {
		return 0, fserr.New(fserr.CodeConfiguration, "params", name+" parameter must be specified.")
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 1 {
		return 0, fserr.New(fserr.CodeConfiguration, "params", name+" must be a positive integer.")
	}
	return n, nil
}

// ReadOnlySupported resolves whether the backend accepts read-only mode
// switches. A legacy database.supportsReadOnly connection property (with or
// without the "connection." prefix) overrides SupportsReadOnly; a value that
// is not a boolean is logged and ignored.
func (p PoolConfig) ReadOnlySupported(logger *slog.Logger) bool {
	supported := p.SupportsReadOnly == nil || *p.SupportsReadOnly
	for key, value := range p.ConnectionProperties {
		if strings.TrimPrefix(key, "connection.") != LegacyReadOnlyProperty {
			continue
		}
		b, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			if logger == nil {
				logger = slog.Default()
			}
			logger.Error("failed to read connection property as a boolean",
				"property", key, "value", value, "error", err)
			continue
		}
		supported = b
	}
	return supported
}

// DriverProperties returns the connection properties that are passed to
// the driver, i.e. all except the read-only override.
func (p PoolConfig) DriverProperties() map[string]string {
	out := make(map[string]string, len(p.ConnectionProperties))
	for key, value := range p.ConnectionProperties {
		if strings.TrimPrefix(key, "connection.") == LegacyReadOnlyProperty {
			continue
		}
		out[strings.TrimPrefix(key, "connection.")] = value
	}
	return out
}
