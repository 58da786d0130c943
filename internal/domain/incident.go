package domain

import (
	"encoding/json"
	"strconv"
)

// Incident attribute names known to the incident schema.
const (
	AttrProcessDefinitionKey = "processDefinitionKey"
	AttrProcessDefinitionID  = "processDefinitionId"
	AttrProcessInstanceKey   = "processInstanceKey"
	AttrBpmnProcessID        = "bpmnProcessId"
	AttrElementID            = "elementId"
	AttrElementInstanceKey   = "elementInstanceKey"
	AttrErrorType            = "errorType"
	AttrErrorMessage         = "errorMessage"
	AttrTenantID             = "tenantId"
	AttrJobKey               = "jobKey"
	AttrState                = "state"
)

var knownAttributes = map[string]struct{}{
	AttrProcessDefinitionKey: {},
	AttrProcessDefinitionID:  {},
	AttrProcessInstanceKey:   {},
	AttrBpmnProcessID:        {},
	AttrElementID:            {},
	AttrElementInstanceKey:   {},
	AttrErrorType:            {},
	AttrErrorMessage:         {},
	AttrTenantID:             {},
	AttrJobKey:               {},
	AttrState:                {},
}

// KnownAttribute reports whether name is defined by the incident schema.
func KnownAttribute(name string) bool {
	_, ok := knownAttributes[name]
	return ok
}

// Incident is a single revision of an incident as delivered by the incident source.
type Incident struct {
	ID         string         `json:"incidentId"`
	Revision   int64          `json:"revision"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Attribute returns the canonical string form of a scalar attribute.
// ok is false when the attribute is missing or is not a scalar.
func (i Incident) Attribute(name string) (value string, ok bool) {
	raw, exists := i.Attributes[name]
	if !exists {
		return "", false
	}
	return scalarString(raw)
}

// ProcessDefinitionKey returns the processDefinitionKey attribute, if present.
func (i Incident) ProcessDefinitionKey() (string, bool) {
	return i.Attribute(AttrProcessDefinitionKey)
}

func scalarString(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case json.Number:
		return val.String(), true
	case bool:
		return strconv.FormatBool(val), true
	case int:
		return strconv.Itoa(val), true
	case int32:
		return strconv.FormatInt(int64(val), 10), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case uint64:
		return strconv.FormatUint(val, 10), true
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	default:
		return "", false
	}
}
