// config_utils.go - Utility-Funktionen und Export fuer Konfiguration
//
// Dieses Modul enthaelt:
// - Bool: Boolean-Getter
// - String: String-Getter
// - EnvVar: Struktur fuer Environment-Variablen-Info
// - AsMap: Gibt alle Konfigurationen als Map zurueck
package envconfig

import "strconv"

// Bool gibt eine Funktion zurueck, die einen Bool liest (Default: false)
func Bool(k string) func() bool {
	return func() bool {
		if s := Var(k); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}
			return b
		}
		return false
	}
}

// String gibt eine Funktion zurueck, die einen String liest
func String(s string) func() string {
	return func() string {
		return Var(s)
	}
}

// Debug meldet, ob Debug-Logging aktiv ist (SMELT_DEBUG)
var Debug = Bool("SMELT_DEBUG")

// EnvVar repraesentiert eine Environment-Variable mit Metadaten
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap gibt alle Konfigurationen als Map zurueck
// Enthaelt Namen, aktuelle Werte und Beschreibungen
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"SMELT_DEBUG":   {"SMELT_DEBUG", LogLevel(), "Show additional debug information (e.g. SMELT_DEBUG=1)"},
		"SMELT_HOST":    {"SMELT_HOST", Host(), "IP Address for the smelt server (default 127.0.0.1:11717)"},
		"SMELT_MODELS":  {"SMELT_MODELS", Models(), "The path to the checkpoint directory"},
		"SMELT_VAE":     {"SMELT_VAE", VAEDir(), "The path to the external VAE directory"},
		"SMELT_TE":      {"SMELT_TE", TextEncoderDir(), "The path to the external text encoder directory"},
		"SMELT_ORIGINS": {"SMELT_ORIGINS", AllowedOrigins(), "A comma separated list of allowed origins"},
	}
}
