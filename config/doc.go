// Package config holds the client configuration: endpoint and credentials,
// disk buffer location, and the queue/batch/retry knobs of the delivery
// pipeline.
//
// Three entry points:
//   - Default() — the documented defaults, usable as-is against a local
//     endpoint.
//   - FromEnv() — Default overlaid with the RARCH_LOGGING_* environment
//     variables (URL, API key, service, default level, buffer root).
//   - Load(path) — Default overlaid with a YAML file, then with the
//     environment, so deployments can pin settings in a file and still
//     override per-instance values without editing it.
//
// Watch(ctx, path, onChange) uses fsnotify to reload the file on change. It
// watches the parent directory, so atomic saves and a deleted-then-recreated
// file stay observed, and debounces the event bursts a single save produces.
// A failed reload keeps the previous config active.
package config
