// Package config binds the flow core's runtime settings to viper keys the
// way cli/root.go binds the teacher's service configuration: persistent
// flags on a cobra command, bound to viper keys, with environment variable
// fallback and an optional config file.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config holds every runtime setting SPEC_FULL names: the admin API
// listen address, the flow-log path, the proxy modes, and the filter
// expressions for the display limit, interception, sticky cookie, and
// sticky auth policies, plus the server-playback header allowlist.
type Config struct {
	ListenAddr string

	FlowLogPath        string
	ServerPlaybackPath string

	Anticache             bool
	Anticomp              bool
	RefreshServerPlayback bool
	KillNonreplay         bool

	LimitFilter     string
	InterceptFilter string
	StickyCookie    string
	StickyAuth      string

	PlaybackHeaders []string

	JWTSigningKey string
}

// BindFlags registers cmd's persistent flags and binds each to its viper
// key, matching cli/root.go's flag-to-viper binding pattern.
func BindFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()

	flags.String("listen", ":8081", "admin API listen address")
	flags.String("flow-log", "", "path to the flow log file")
	flags.String("server-playback", "", "path to a flow log of recorded responses to serve from server playback")
	flags.Bool("anticache", false, "strip conditional-request headers from forwarded requests")
	flags.Bool("anticomp", false, "strip content-encoding offers from forwarded requests")
	flags.Bool("refresh-server-playback", false, "refresh date-sensitive headers on server-playback hits")
	flags.Bool("kill-nonreplay", false, "kill requests that miss server playback instead of forwarding them")
	flags.String("limit-filter", "", "filter expression for the display limit")
	flags.String("intercept-filter", "", "filter expression for interception")
	flags.String("sticky-cookie-filter", "", "filter expression for sticky cookies")
	flags.String("sticky-auth-filter", "", "filter expression for sticky auth")
	flags.StringSlice("playback-headers", nil, "header allowlist for the server-playback fingerprint")
	flags.String("jwt-secret", "", "signing key for the admin API's bearer tokens")

	for _, name := range []string{
		"listen", "flow-log", "server-playback", "anticache", "anticomp", "refresh-server-playback",
		"kill-nonreplay", "limit-filter", "intercept-filter", "sticky-cookie-filter",
		"sticky-auth-filter", "playback-headers", "jwt-secret",
	} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

// InitFile loads a YAML config file at path, if non-empty, and enables
// automatic environment variable mapping, matching cli/root.go's
// initConfig. A missing or absent file is not an error — command-line
// flags and environment variables still apply.
func InitFile(path string) error {
	viper.AutomaticEnv()

	if path == "" {
		return nil
	}
	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok || os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	return nil
}

// Load builds a Config from the currently bound viper values.
func Load() Config {
	return Config{
		ListenAddr:            viper.GetString("listen"),
		FlowLogPath:           viper.GetString("flow-log"),
		ServerPlaybackPath:    viper.GetString("server-playback"),
		Anticache:             viper.GetBool("anticache"),
		Anticomp:              viper.GetBool("anticomp"),
		RefreshServerPlayback: viper.GetBool("refresh-server-playback"),
		KillNonreplay:         viper.GetBool("kill-nonreplay"),
		LimitFilter:           viper.GetString("limit-filter"),
		InterceptFilter:       viper.GetString("intercept-filter"),
		StickyCookie:          viper.GetString("sticky-cookie-filter"),
		StickyAuth:            viper.GetString("sticky-auth-filter"),
		PlaybackHeaders:       viper.GetStringSlice("playback-headers"),
		JWTSigningKey:         viper.GetString("jwt-secret"),
	}
}
