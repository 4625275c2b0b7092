// Package dev provides the development server that feeds hot updates to
// runtime clients.
//
// # Architecture
//
// The development server consists of several components:
//
//   - Watcher: polls the compiler's module manifest
//   - Server: diffs each new manifest into the next generation's batch,
//     appends it to the update history and publishes it
//   - Hub: fans frames out to attached clients over WebSocket
//
// # Usage
//
//	srv := dev.NewServer(dev.ServerOptions{
//	    Config:  cfg,
//	    History: store,
//	    Metrics: telemetry.NewMetrics(),
//	})
//
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//
//	if err := srv.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Endpoints
//
//	/_hmr          WebSocket update channel
//	/_hmr/config   current runtime configuration (JSON)
//	/healthz       liveness and current generation
//	/metrics       Prometheus metrics
//
// # Session
//
// A client opens /_hmr and sends Hello with its configuration key and the
// last generation it applied. The server answers Welcome and, when the key
// matches and the history still holds every missed batch, replays them as
// Update frames flagged Replay (the last one also Final). A key mismatch
// or a history gap asks the client to reload instead. After the handshake
// the server pushes live Update, Reload and Console frames and logs the
// Console and Error frames the client sends back.
package dev
