// Package config loads the queuefeed server configuration from a YAML file.
//
// Config sections:
//   - server.http_port         port for the HTTP API and live streams (default 8080)
//   - server.cors_origins      allowed browser origins; "*" allows any (default ["*"])
//   - log.level                debug | info | warn | error (default info)
//   - store.backend            memory | sqlite | redis (default memory)
//   - store.sqlite_path        database file for the sqlite backend
//   - store.redis.url_env      environment variable holding the Redis URL (default REDIS_URL)
//   - retention.max_count      maximum records retained after a sweep (default 30)
//   - retention.max_age        age past which a lone tail record flushes the store (default 10m)
//   - retention.cleanup_interval  sweep period (default 60s)
//   - stream.keepalive         keepalive event period on live streams (default 10s)
//   - stream.buffer            per-subscriber event buffer depth (default 16)
//   - relay.targets            outbound webhook targets for accepted records
//
// Load(path) applies defaults before unmarshalling, then validates.
// Watch(ctx, path, fn) reloads the file on change; see Reloadable for the
// fields that take effect without a restart.
package config
