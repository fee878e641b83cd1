package config

// Compiled-in settings for builds that run without flags or a config file.
// Any value given on the command line, in the environment or in the config
// file wins over these.
var fallback = map[string]any{
	"username": "",
	"password": "",
	"interval": 0,
	"tag":      "",
}
