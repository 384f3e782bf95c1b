// Package beacon is a convenience layer over rs/zerolog: named loggers with
// opinionated setup, three output formats, rotating files and a few domain
// loggers for HTTP requests, model training and operation timing.
//
// Key features
//   - Layered configuration: defaults, a YAML file, BEACON_LOG_* variables and
//     explicit options, validated at construction
//   - Per-handler level and format (text, json, structured)
//   - Size or time based file rotation via lumberjack
//   - Idempotent setup: repeating SetupLogger never duplicates a handler
//   - Error history enrichment on Err/AnErr, including Station-Manager
//     DetailedError operations
//   - Graceful shutdown that waits for in-flight records (bounded timeout)
//
// Every record carries timestamp, level, logger and message. Context given
// as Fields is written at the top level in json and under "context" in the
// structured format. Context keys that collide with a fixed key are written
// as ctx_<key>.
//
// Typical usage
//
//	reg := beacon.NewRegistry()
//	defer reg.Close()
//
//	log, err := reg.SetupLogger("svc", beacon.WithLogDir("/var/log/svc"))
//	if err != nil { return err }
//	log.Info("started", beacon.Fields{"port": 8080})
//
//	req := log.With().Str("request_id", rid).Logger()
//	req.ErrorWith().Err(err).Msg("failed")
//
//	tracker, _ := reg.Tracker()
//	err = tracker.Track("load_model", nil, loadModel)
package beacon
