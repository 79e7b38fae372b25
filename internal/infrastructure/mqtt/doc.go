// Package mqtt provides the broker client behind the gateway's
// push-notification fan-out.
//
// Device lifecycle events (connect, disconnect, statistics, config and
// firmware changes, aggregate connection counts) are published as typed
// envelopes on apgw/notify/{event_type}, so dashboards and downstream
// services can react without polling the REST API. System topics under
// apgw/system carry the gateway's own status (retained, with an LWT
// crash payload) and accept remote shutdown requests.
//
// The client auto-reconnects with exponential backoff, restores tracked
// subscriptions after a reconnect, and re-announces the retained online
// status.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllNotifications(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("received %s: %s", topic, payload)
//	        return nil
//	    })
//
//	topic := mqtt.Topics{}.Notify("device_statistics")
//	client.Publish(topic, []byte(`{"type":"device_statistics"}`), 1, false)
package mqtt
