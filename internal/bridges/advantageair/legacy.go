package advantageair

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// legacyDocument is the iZS10.3 envelope shared by every legacy response.
// Zone elements (zone1..zoneN) only appear in getZoneData responses and are
// collected through the ",any" field.
type legacyDocument struct {
	XMLName       xml.Name      `xml:"iZS10.3"`
	Authenticated string        `xml:"authenticated"`
	Ack           string        `xml:"ack"`
	MAC           string        `xml:"mac"`
	System        *legacySystem `xml:"system"`
	Elements      []legacyZone  `xml:",any"`
}

type legacySystem struct {
	Name        string            `xml:"name"`
	MyAppRev    string            `xml:"MyAppRev"`
	UnitControl legacyUnitControl `xml:"unitcontrol"`
}

type legacyUnitControl struct {
	AirconOnOff             string `xml:"airconOnOff"`
	FanSpeed                string `xml:"fanSpeed"`
	Mode                    string `xml:"mode"`
	CentralDesiredTemp      string `xml:"centralDesiredTemp"`
	UnitControlTempsSetting string `xml:"unitControlTempsSetting"`
	NumberOfZones           string `xml:"numberOfZones"`
}

type legacyZone struct {
	XMLName            xml.Name
	Name               string `xml:"name"`
	Setting            string `xml:"setting"`
	UserPercentSetting string `xml:"userPercentSetting"`
	ActualTemp         string `xml:"actualTemp"`
	DesiredTemp        string `xml:"desiredTemp"`
	RFStrength         string `xml:"RFstrength"`
	MinDamper          string `xml:"minDamper"`
	MaxDamper          string `xml:"maxDamper"`
	HasMotorError      string `xml:"hasMotorError"`
	HasLowBatt         string `xml:"hasLowBatt"`
}

// Legacy code tables. Codes missing from a table pass through unchanged.
var (
	legacyFanNames   = map[string]string{"1": "low", "2": "medium", "3": "high"}
	legacyModeNames  = map[string]string{"1": "cool", "2": "heat", "3": "vent"}
	legacyStateNames = map[string]string{"0": "off", "1": "on"}
)

// isXML reports whether a response body carries an XML declaration.
func isXML(body []byte) bool {
	return bytes.HasPrefix(bytes.TrimLeft(body, " \t\r\n\ufeff"), []byte("<?xml"))
}

// parseLegacy decodes a legacy response envelope.
func parseLegacy(body []byte) (*legacyDocument, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	// Controllers declare ISO-8859-1 on some firmware; the payloads are ASCII.
	dec.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) {
		return input, nil
	}

	var doc legacyDocument
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: invalid XML response: %w", ErrProtocol, err)
	}
	doc.Authenticated = strings.TrimSpace(doc.Authenticated)
	doc.Ack = strings.TrimSpace(doc.Ack)
	return &doc, nil
}

// zone returns the zoneN element, or nil when the document has none.
func (d *legacyDocument) zone(n int) *legacyZone {
	name := "zone" + strconv.Itoa(n)
	for i := range d.Elements {
		if d.Elements[i].XMLName.Local == name {
			return &d.Elements[i]
		}
	}
	return nil
}

// NormalizeLegacy converts a legacy getSystemData document and a
// getZoneData?zone=* document into the snapshot shape of a modern
// controller. It performs no I/O.
func NormalizeLegacy(system, zones []byte) (Snapshot, error) {
	sysDoc, err := parseLegacy(system)
	if err != nil {
		return nil, err
	}
	zoneDoc, err := parseLegacy(zones)
	if err != nil {
		return nil, err
	}
	return normalize(sysDoc, zoneDoc)
}

func normalize(sysDoc, zoneDoc *legacyDocument) (Snapshot, error) {
	if sysDoc.System == nil {
		return nil, fmt.Errorf("%w: system element missing", ErrProtocol)
	}
	sys := sysDoc.System
	uc := sys.UnitControl

	setTemp, err := truncated("centralDesiredTemp", uc.CentralDesiredTemp)
	if err != nil {
		return nil, err
	}
	myZone, err := truncated("unitControlTempsSetting", uc.UnitControlTempsSetting)
	if err != nil {
		return nil, err
	}
	zoneCount, err := truncated("numberOfZones", uc.NumberOfZones)
	if err != nil {
		return nil, err
	}

	zones := make(map[string]any, int(zoneCount))
	for n := 1; n <= int(zoneCount); n++ {
		z := zoneDoc.zone(n)
		if z == nil {
			return nil, fmt.Errorf("%w: zone%d missing from zone data", ErrProtocol, n)
		}
		entry, err := normalizeZone(n, z)
		if err != nil {
			return nil, err
		}
		zones[fmt.Sprintf("z%02d", n)] = entry
	}

	name := strings.TrimSpace(sys.Name)
	return Snapshot{
		"aircons": map[string]any{
			legacyAirconID: map[string]any{
				"info": map[string]any{
					"climateControlModeIsRunning": false,
					"countDownToOff":              0.0,
					"countDownToOn":               0.0,
					"fan":                         lookupCode(legacyFanNames, uc.FanSpeed),
					"filterCleanStatus":           0.0,
					"freshAirStatus":              "off",
					"mode":                        lookupCode(legacyModeNames, uc.Mode),
					"myZone":                      myZone,
					"name":                        name,
					"setTemp":                     setTemp,
					"state":                       lookupCode(legacyStateNames, uc.AirconOnOff),
				},
				"zones": zones,
			},
		},
		"system": map[string]any{
			"hasAircons":     true,
			"hasLights":      false,
			"hasSensors":     false,
			"hasThings":      false,
			"hasThingsBOG":   false,
			"hasThingsLight": false,
			"needsUpdate":    false,
			"name":           name,
			"rid":            strings.TrimSpace(sysDoc.MAC),
			"sysType":        legacySystemType,
			"myAppRev":       strings.TrimSpace(sys.MyAppRev),
		},
	}, nil
}

func normalizeZone(n int, z *legacyZone) (map[string]any, error) {
	fields := []struct {
		key, source, raw string
	}{
		{"maxDamper", "maxDamper", z.MaxDamper},
		{"measuredTemp", "actualTemp", z.ActualTemp},
		{"minDamper", "minDamper", z.MinDamper},
		{"rssi", "RFstrength", z.RFStrength},
		{"setTemp", "desiredTemp", z.DesiredTemp},
		{"value", "userPercentSetting", z.UserPercentSetting},
	}

	state := "open"
	if strings.TrimSpace(z.Setting) == "0" {
		state = "closed"
	}
	errFlag := 0.0
	if strings.TrimSpace(z.HasMotorError) == "1" || strings.TrimSpace(z.HasLowBatt) == "1" {
		errFlag = 1
	}

	entry := map[string]any{
		"error":        errFlag,
		"motion":       0.0,
		"motionConfig": 0.0,
		"name":         strings.TrimSpace(z.Name),
		"number":       float64(n),
		"state":        state,
		"type":         1.0,
	}
	for _, f := range fields {
		v, err := truncated(fmt.Sprintf("zone%d/%s", n, f.source), f.raw)
		if err != nil {
			return nil, err
		}
		entry[f.key] = v
	}
	return entry, nil
}

// truncated parses a decimal string and drops its fractional part.
func truncated(field, raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %s is not a number: %q", ErrProtocol, field, raw)
	}
	return math.Trunc(v), nil
}

func lookupCode(table map[string]string, code string) string {
	code = strings.TrimSpace(code)
	if name, ok := table[code]; ok {
		return name
	}
	return code
}
