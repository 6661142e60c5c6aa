// Package adapter implements the two AAS ingress adapters: BaSyx-style MQTT
// event parsing and FA³ST-style polling with deep JSON diff.
package adapter

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aas-deltasync/agent/internal/aasclient"
)

// EventType names the kind of BaSyx element event.
type EventType int

const (
	EventCreated EventType = iota
	EventUpdated
	EventDeleted
	EventPatched
)

// EventTypeFromTopicSuffix parses the trailing topic segment into an
// EventType.
func EventTypeFromTopicSuffix(suffix string) (EventType, bool) {
	switch suffix {
	case "created":
		return EventCreated, true
	case "updated":
		return EventUpdated, true
	case "deleted":
		return EventDeleted, true
	case "patched":
		return EventPatched, true
	default:
		return 0, false
	}
}

// ElementEvent is the element-level detail of a BasyxEvent.
type ElementEvent struct {
	IDShortPath string
	Value       any
	HasValue    bool
}

// BasyxEvent is a parsed BaSyx MQTT event.
type BasyxEvent struct {
	RepoID      string
	SubmodelID  string
	EventType   EventType
	Element     *ElementEvent
	RawPayload  any
}

// EventParseError reports a malformed BaSyx event.
type EventParseError struct {
	Reason string
}

func (e *EventParseError) Error() string { return "adapter: " + e.Reason }

// ParseBasyxEvent parses a BaSyx event from its MQTT topic and payload.
//
// Topic format:
//
//	sm-repository/{repoId}/submodels/{submodelIdBase64}/submodelElements/{idShortPath...}/{eventType}
func ParseBasyxEvent(topic string, payload []byte) (BasyxEvent, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 4 || parts[0] != "sm-repository" {
		return BasyxEvent{}, &EventParseError{Reason: fmt.Sprintf("invalid topic format: %s", topic)}
	}
	repoID := parts[1]

	submodelsIdx := indexOf(parts, "submodels")
	if submodelsIdx < 0 || submodelsIdx+1 >= len(parts) {
		return BasyxEvent{}, &EventParseError{Reason: fmt.Sprintf("invalid topic format: %s", topic)}
	}
	submodelID, err := aasclient.DecodeIDBase64URL(parts[submodelsIdx+1])
	if err != nil {
		return BasyxEvent{}, &EventParseError{Reason: fmt.Sprintf("decode error: %v", err)}
	}

	var rawPayload any
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &rawPayload); err != nil {
			return BasyxEvent{}, &EventParseError{Reason: fmt.Sprintf("payload parse error: %v", err)}
		}
	}

	eventTypeStr := parts[len(parts)-1]
	eventType, ok := EventTypeFromTopicSuffix(eventTypeStr)
	if !ok {
		return BasyxEvent{}, &EventParseError{Reason: fmt.Sprintf("unknown event type: %s", eventTypeStr)}
	}

	var element *ElementEvent
	if elementsIdx := indexOf(parts, "submodelElements"); elementsIdx >= 0 && elementsIdx+1 < len(parts)-1 {
		pathParts := parts[elementsIdx+1 : len(parts)-1]
		idShortPath := strings.Join(pathParts, "/")
		value, hasValue := extractValue(rawPayload)
		element = &ElementEvent{IDShortPath: idShortPath, Value: value, HasValue: hasValue}
	}

	return BasyxEvent{
		RepoID:     repoID,
		SubmodelID: submodelID,
		EventType:  eventType,
		Element:    element,
		RawPayload: rawPayload,
	}, nil
}

// extractValue applies the value-extraction policy: prefer
// payload["value"]; for a modelType-wrapped object also read .value; for a
// bare scalar payload, use it directly; otherwise (an array, or an object
// without "value") the value is absent.
func extractValue(payload any) (any, bool) {
	switch p := payload.(type) {
	case map[string]any:
		if v, ok := p["value"]; ok {
			return v, true
		}
		return nil, false
	case []any:
		return nil, false
	case nil:
		return nil, false
	default:
		return p, true
	}
}

func indexOf(parts []string, target string) int {
	for i, p := range parts {
		if p == target {
			return i
		}
	}
	return -1
}
