// Package protocol defines the JSON frames exchanged with hardware modules
// over the WebSocket bridge, plus the control commands sent back to them.
package protocol

import (
	"strconv"
	"strings"
	"time"
)

// WebSocket timing constants.
const (
	// WSWriteWait is the time allowed to write a message.
	WSWriteWait = 30 * time.Second

	// WSPongWait is the time to wait for a pong response.
	WSPongWait = 90 * time.Second

	// WSPingPeriod is how often to send pings (must be < PongWait).
	WSPingPeriod = 30 * time.Second

	// WSMaxMessageSize is the maximum frame size in bytes. Module frames are
	// small JSON documents; anything larger is a misbehaving client.
	WSMaxMessageSize = 64 * 1024
)

// FrameType identifies the type of a module frame.
type FrameType string

const (
	// Frames sent by modules
	FrameStatus           FrameType = "status"            // periodic full status report
	FrameConfig           FrameType = "config"            // module's stored configuration
	FrameConfigRequest    FrameType = "config_request"    // module asks for server defaults
	FrameModuleManifest   FrameType = "module_manifest"   // hardware/firmware inventory
	FrameCycleLog         FrameType = "cycle_log"         // completed roller/pump cycle
	FrameAlarm            FrameType = "alarm"             // alarm state transition
	FrameSpoolActivations FrameType = "spool_activations" // lightweight spool counters
	FrameATOActivations   FrameType = "ato_activations"   // lightweight ATO counters

	// Frames sent to modules
	FrameConfigRequestOut   FrameType = "config_request"
	FrameManifestRequestOut FrameType = "module_manifest_request"
	FrameSetParam           FrameType = "set_param"
)

// UnknownModuleID is the fallback identifier used when a frame carries no
// usable module identity.
const UnknownModuleID = "unknown"

// moduleIDKeys lists the payload keys checked, in order, when resolving a
// module identity. Firmware generations disagree on the field name.
var moduleIDKeys = [...]string{"module", "module_id", "id", "device_id", "device"}

// ResolveModuleID extracts a stable module identifier from mixed payload
// styles. Numeric identifiers are stringified; blank values are skipped.
func ResolveModuleID(payload map[string]any, fallback string) string {
	if fallback == "" {
		fallback = UnknownModuleID
	}
	if payload == nil {
		return fallback
	}
	for _, key := range moduleIDKeys {
		value, ok := payload[key]
		if !ok {
			continue
		}
		if id := normalizeModuleValue(value); id != "" {
			return id
		}
	}
	return fallback
}

func normalizeModuleValue(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	default:
		// Booleans and structured values never identify a module.
		return ""
	}
}

// Normalize flattens an incoming frame into its type and a normalized
// payload. Frames may nest their data under a "payload" key with identity
// fields on the envelope; those envelope fields are hoisted into the payload
// without overwriting values the payload already carries. Alarm payloads are
// wrapped under an "alarm" key so handlers see a uniform shape.
func Normalize(message map[string]any) (FrameType, map[string]any) {
	if message == nil {
		return "", map[string]any{}
	}

	frameType, _ := message["type"].(string)

	payload, hasPayload := message["payload"].(map[string]any)
	defaults := envelopeDefaults(message)

	if !hasPayload {
		normalized := make(map[string]any, len(message))
		for k, v := range message {
			normalized[k] = v
		}
		return FrameType(frameType), normalized
	}

	if FrameType(frameType) == FrameAlarm {
		normalized := make(map[string]any, len(defaults)+1)
		for k, v := range defaults {
			normalized[k] = v
		}
		alarm := make(map[string]any, len(payload))
		for k, v := range payload {
			alarm[k] = v
		}
		normalized["alarm"] = alarm
		return FrameAlarm, normalized
	}

	normalized := make(map[string]any, len(payload)+len(defaults))
	for k, v := range payload {
		normalized[k] = v
	}
	for k, v := range defaults {
		if _, exists := normalized[k]; !exists {
			normalized[k] = v
		}
	}
	return FrameType(frameType), normalized
}

// envelopeDefaults collects identity and timing fields from a frame envelope
// so they can be applied to the hoisted payload.
func envelopeDefaults(message map[string]any) map[string]any {
	defaults := map[string]any{}
	if id, ok := message["module_id"].(string); ok && strings.TrimSpace(id) != "" {
		defaults["module"] = id
		defaults["module_id"] = id
	}
	if sub, ok := message["submodule_id"].(string); ok && strings.TrimSpace(sub) != "" {
		defaults["submodule_id"] = sub
	}
	if proto, ok := message["protocol"].(string); ok && strings.TrimSpace(proto) != "" {
		defaults["protocol"] = proto
	}
	if sentAt, ok := message["sent_at"].(string); ok && strings.TrimSpace(sentAt) != "" {
		defaults["sent_at"] = sentAt
		defaults["timestamp"] = sentAt
		defaults["recorded_at"] = sentAt
	}
	return defaults
}
