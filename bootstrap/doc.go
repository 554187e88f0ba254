// Package bootstrap wires the harvester together: logger, configuration,
// indexer connectors, the event orchestrator, the worker pool, the dead letter
// queue and the HTTP ingest listener.
//
// Usage:
//
//	app, err := bootstrap.NewApp(ctx, configPath)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := app.Start(ctx); err != nil {
//	    app.Shutdown()
//	    log.Fatal(err)
//	}
//
//	app.WaitForShutdown()
//	app.Shutdown()
package bootstrap
