// Package notify fans scan outcomes and reader state changes out to the
// side channels around the scan pipeline: MQTT, WebSocket clients,
// InfluxDB, Prometheus and the audit trail.
//
// Dispatcher subscribers run while the dispatcher is held, so the
// Notifier only queues events there and does the slow work on its own
// goroutine:
//
//	n := notify.New(deps, 256)
//	dispatcher.Subscribe(n.Outcome)
//	readers.OnStateChange(n.ReaderState)
//	go n.Run(ctx)
//
// Every sink is optional. A nil sink is skipped.
package notify
