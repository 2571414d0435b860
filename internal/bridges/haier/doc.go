// Package haier implements a client for the Haier smart-home cloud and the
// bridge that exposes its devices locally.
//
// The cloud has two faces: a signed REST API for accounts, device lists and
// attribute models, and a WebSocket gateway that pushes attribute changes
// and accepts control commands.
//
// # Architecture
//
//	┌──────────────┐  REST (signed)  ┌──────────────┐
//	│  Haier cloud │◄───────────────►│    Client    │
//	│              │                 └──────────────┘
//	│              │    WebSocket    ┌──────────────┐   Bus    ┌────────────┐
//	│   gateway    │◄───────────────►│   Gateway    │◄────────►│ MQTT / API │
//	└──────────────┘                 └──────────────┘          └────────────┘
//
// # Key Responsibilities
//
//   - Sign REST calls (Sign) and keep the token pair fresh (TokenStore)
//   - List devices and fetch their digital models (Client)
//   - Cache attribute models in SQLite (AttributeCache)
//   - Decode pushed frames and encode commands (DecodeFrame, EncodeCommand)
//   - Run one authoritative gateway session with heartbeats and reconnects (Gateway)
//   - Fan events out to MQTT, InfluxDB and the HTTP API (Bus)
//
// # Push frames
//
// Telemetry arrives as GenMsgDown frames whose content.data is base64 JSON
// {dev, args}; args is base64 of a gzip stream holding {"attributes": [...]}.
// Only attributes carrying a value field appear in the resulting snapshot.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package haier
