package config

import (
	"os"
	"strconv"
	"strings"
)

// FeatureFlags switch optional capture and feed paths. They are read from
// the environment only and never from the YAML file.
type FeatureFlags struct {
	// EnableSupabaseRealtime turns on the push feed for peer positions.
	// When off, peers are refreshed by polling alone.
	EnableSupabaseRealtime bool
	// EnableBackgroundCapture arms the background agent whenever background
	// permission is held.
	EnableBackgroundCapture bool
}

func GetFeatureFlags() FeatureFlags {
	return FeatureFlags{
		EnableSupabaseRealtime:  envFlag("ENABLE_SUPABASE_REALTIME", true),
		EnableBackgroundCapture: envFlag("ENABLE_BACKGROUND_CAPTURE", true),
	}
}

// envFlag parses key as a boolean, also accepting yes/no and on/off. An
// unset key yields def; an unparsable one yields false.
func envFlag(key string, def bool) bool {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	switch v := strings.ToLower(strings.TrimSpace(raw)); v {
	case "yes", "on":
		return true
	case "no", "off", "":
		return false
	default:
		b, err := strconv.ParseBool(v)
		return err == nil && b
	}
}
