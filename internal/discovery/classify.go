// Package discovery finds Shelly devices via mDNS and active HTTP
// probing, classifies their generation, and emits Device records for
// the Registry to consume.
package discovery

import (
	"strconv"
	"strings"

	"github.com/shelly-fleet/control-plane/internal/shelly"
)

// gen1Prefixes is the fixed set of legacy SKU prefixes recognized even
// when the probed payload carries no explicit "gen" field.
var gen1Prefixes = []string{"SHSW-", "SHPLG-", "SHBTN-", "SHIX3-", "SHDM-", "SHRGBW", "SHHT-", "SH2LED"}

// gen2Prefixes maps an app/model prefix to the generation it implies
// when the payload's "gen" field is absent.
var gen2Prefixes = map[string]shelly.Generation{
	"SNSW": shelly.Gen2,
	"SNPL": shelly.Gen2,
	"SNDM": shelly.Gen2,
	"SNSN": shelly.Gen2,
	"SPSW": shelly.Gen2,
	"SPEM": shelly.Gen2,
	"S3":   shelly.Gen3,
	"S4":   shelly.Gen4,
}

// shellyInfoPayload is the decoded body of a GET /shelly probe, wide
// enough to cover both Gen1 and Gen2+ response shapes.
type shellyInfoPayload struct {
	// Gen1
	Type string `json:"type"`
	FW   string `json:"fw"`
	MAC  string `json:"mac"`

	// Gen2+
	ID    string      `json:"id"`
	App   string      `json:"app"`
	Model string      `json:"model"`
	Gen   interface{} `json:"gen"`
	Ver   string      `json:"ver"`
}

// classify turns one decoded /shelly payload into a Device, or reports
// that the payload does not describe a Shelly device at all.
func classify(payload shellyInfoPayload, ip string) (*shelly.Device, bool) {
	switch {
	case payload.Type != "":
		return classifyGen1(payload, ip), true
	case payload.App != "" || payload.ID != "":
		return classifyGen2Plus(payload, ip), true
	default:
		return nil, false
	}
}

func classifyGen1(payload shellyInfoPayload, ip string) *shelly.Device {
	mac := payload.MAC
	return &shelly.Device{
		ID:              shelly.NormalizeID(mac),
		DeviceType:      payload.Type,
		Generation:      shelly.Gen1,
		IPAddress:       ip,
		FirmwareVersion: payload.FW,
		DiscoveryMethod: shelly.DiscoveredProbe,
	}
}

func classifyGen2Plus(payload shellyInfoPayload, ip string) *shelly.Device {
	deviceType := payload.App
	if deviceType == "" {
		deviceType = payload.Model
	}

	gen := genFromField(payload.Gen)
	if gen == shelly.GenUnknown {
		gen = genFromPrefix(deviceType)
	}

	id := payload.ID
	return &shelly.Device{
		ID:              shelly.NormalizeID(id),
		DeviceType:      deviceType,
		Generation:      gen,
		IPAddress:       ip,
		FirmwareVersion: payload.Ver,
		DiscoveryMethod: shelly.DiscoveredProbe,
	}
}

// genFromField reads the numeric or string "gen" field when present;
// it pins the generation over any prefix inference.
func genFromField(v interface{}) shelly.Generation {
	switch t := v.(type) {
	case float64:
		return shelly.ParseGeneration("gen" + strconv.Itoa(int(t)))
	case string:
		return shelly.ParseGeneration("gen" + strings.TrimPrefix(t, "gen"))
	default:
		return shelly.GenUnknown
	}
}

func genFromPrefix(deviceType string) shelly.Generation {
	upper := strings.ToUpper(deviceType)
	for prefix, gen := range gen2Prefixes {
		if strings.HasPrefix(upper, prefix) {
			return gen
		}
	}
	for _, prefix := range gen1Prefixes {
		if strings.HasPrefix(upper, prefix) {
			return shelly.Gen1
		}
	}
	return shelly.Gen2
}
