// Package redis establishes the connection to the shared store backing the
// publish queues.
//
// Connect parses a redis:// URL from Config, retries until the server
// answers PING or the attempt budget runs out, and returns a ready
// *redis.Client. Healthcheck wraps the same PING as a readiness probe.
//
//	var cfg redis.Config
//	config.MustLoad(&cfg)
//	client, err := redis.Connect(ctx, cfg)
package redis
