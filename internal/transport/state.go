package transport

import (
	"encoding/json"
	"strconv"
	"strings"
)

// stateRadio is one radio descriptor inside a state payload. Only the
// channel matters here; channels at or below 16 are 2.4GHz.
type stateRadio struct {
	Channel int `json:"channel"`
}

type stateSSID struct {
	Associations []json.RawMessage `json:"associations"`
	Radio        struct {
		Ref string `json:"$ref"`
	} `json:"radio"`
}

type stateInterface struct {
	SSIDs []stateSSID `json:"ssids"`
}

type statePayload struct {
	Radios     []stateRadio     `json:"radios"`
	Interfaces []stateInterface `json:"interfaces"`
}

// ComputeAssociations counts client associations in a raw state payload,
// split into 2.4GHz and 5GHz bands. Each SSID references its radio by a
// JSON pointer of the form "#/radios/N"; the radio's channel decides the
// band. Payloads without radios or interfaces yield zero counts.
func ComputeAssociations(state json.RawMessage) (assoc2G, assoc5G int) {
	var payload statePayload
	if err := json.Unmarshal(state, &payload); err != nil {
		return 0, 0
	}
	for _, iface := range payload.Interfaces {
		for _, ssid := range iface.SSIDs {
			if len(ssid.Associations) == 0 {
				continue
			}
			idx, ok := radioIndex(ssid.Radio.Ref)
			if !ok || idx >= len(payload.Radios) {
				continue
			}
			if payload.Radios[idx].Channel <= 16 {
				assoc2G += len(ssid.Associations)
			} else {
				assoc5G += len(ssid.Associations)
			}
		}
	}
	return assoc2G, assoc5G
}

// radioIndex extracts N from a "#/radios/N" reference.
func radioIndex(ref string) (int, bool) {
	const prefix = "#/radios/"
	if !strings.HasPrefix(ref, prefix) {
		return 0, false
	}
	idx, err := strconv.Atoi(ref[len(prefix):])
	if err != nil || idx < 0 {
		return 0, false
	}
	return idx, true
}
