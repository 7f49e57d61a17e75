// Package mqtt connects rollcall to an MQTT broker.
//
// The broker carries scan outcomes to door displays and dashboards,
// the reader's connection state (retained, so late subscribers see it),
// and manual ids typed on remote kiosks:
//
//	rollcall/scan/{outcome}      scan outcomes, one topic per kind
//	rollcall/reader/state        retained reader state
//	rollcall/manual/{terminal}   manual ids from kiosks (subscribed)
//	rollcall/system/status       retained online/offline, with LWT
//
// The client reconnects with backoff and restores its subscriptions
// after every reconnect.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllManualEntries(), 1,
//	    func(topic string, payload []byte) error {
//	        terminal, _ := mqtt.Topics{}.TerminalFromManualTopic(topic)
//	        ...
//	    })
package mqtt
