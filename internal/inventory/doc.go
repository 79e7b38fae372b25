// Package inventory tracks the access points known to the gateway.
//
// Every device that has ever connected gets a durable record keyed by its
// normalized serial number: the capabilities it advertised on connect, its
// firmware string, the compatible hardware model, the active configuration
// revision, and any pending revision awaiting adoption. Unknown devices are
// auto-provisioned on first connect when the transport allows it.
//
// The package also resolves configuration upgrades. A device reports the
// revision it is running in every state frame; ResolveUpgrade compares that
// against the recorded pending revision and collapses the pending state once
// the device has adopted it.
package inventory
