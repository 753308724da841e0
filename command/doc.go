// Package command implements the textual request/response layer around the
// swi protocol engine: a JSON line codec, a dispatcher that maps command
// names to bus operations, and a server that carries the exchange over any
// byte stream.
//
// Requests are single-line JSON objects with hexadecimal string fields:
//
//	{"command": "discoveryResponse"}
//	{"command": "txByte", "data": "0x55"}
//	{"command": "rxByte"}
//	{"command": "manufacturerId", "dev_addr": "0x00"}
//	{"command": "readBlock", "dev_addr": "0x00", "start_addr": "0x00", "len": "0x10"}
//	{"command": "setSpeed", "speed": "standard"}
//
// Every request yields exactly one response tagged with a status and the
// originating command name:
//
//	{"status": "success", "command": "txByte", "response": "ACK"}
//	{"status": "error", "command": "readBlock", "response": "swi: address out of range: ..."}
//
// Failures never cross this layer as anything but an error response; the
// process stays ready for the next command.
package command
