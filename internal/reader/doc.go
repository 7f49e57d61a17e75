// Package reader owns the connection to the card reader.
//
// A Manager walks a small state machine:
//
//	Offline → Ready → Scanning → {Error, Offline}
//
// Ready means a streaming transport exists on this host. Scanning means a
// device is open and a single read loop is delivering frames, in arrival
// order, to a FrameHandler (normally the dispatcher). Any read failure,
// end of stream or malformed stream moves the manager to Error; it stays
// there until an operator reconnects or disconnects.
//
// Two transports are provided: SerialTransport for USB/RS-232 readers via
// go.bug.st/serial, and NetTransport for serial-over-IP gateways reached by
// tcp:// or unix:// URLs. AutoTransport picks between them per device.
package reader
