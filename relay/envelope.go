/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package relay

import "encoding/json"

// Envelope is the frame exchanged between clients and the relay.
// The relay forwards frames verbatim and never looks inside Payload.
type Envelope struct {
	Room    string          `json:"room"`
	Payload json.RawMessage `json:"payload"`
}
