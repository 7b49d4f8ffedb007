// Package config loads typed configuration structs from environment
// variables, optionally seeded from a .env file.
//
// Unlike a global registry, Load parses into the instance it is given, so
// tests can construct as many independent configurations as they need with
// t.Setenv.
//
//	var cfg redis.Config
//	config.MustLoad(&cfg)
package config
