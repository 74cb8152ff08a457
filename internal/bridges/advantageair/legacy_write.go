package advantageair

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// legacyField maps a snapshot info field to its setSystemData parameter.
type legacyField struct {
	key    string
	param  string
	encode func(any) (string, error)
}

// legacySystemFields is the order system-level writes are sent in.
var legacySystemFields = []legacyField{
	{key: "setTemp", param: "centralDesiredTemp", encode: formatNumber},
	{key: "myZone", param: "unitControlTempsSetting", encode: formatNumber},
	{key: "state", param: "airconOnOff", encode: codeFor(map[string]string{"on": "1", "off": "0"})},
	{key: "mode", param: "mode", encode: codeFor(map[string]string{"cool": "1", "heat": "2", "vent": "3"})},
	{key: "fan", param: "fanSpeed", encode: codeFor(map[string]string{
		"low": "1", "medium": "2", "high": "3", "auto": "3", "autoAA": "3",
	})},
}

var legacyZoneState = codeFor(map[string]string{"open": "1", "close": "0", "closed": "0"})

// legacyRequests decomposes an aircon batch into the ordered sequence of
// single-field legacy writes: system fields first, then per zone (in zone
// number order) the desired temperature followed by the open/close state.
// Fields a legacy controller has no setter for are ignored.
func legacyRequests(batch Tree) ([]string, error) {
	for key := range batch {
		if key != legacyAirconID {
			return nil, fmt.Errorf("%w: legacy controllers only expose %s, got %q", ErrInvalidChange, legacyAirconID, key)
		}
	}
	aircon, ok := asMap(batch[legacyAirconID])
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a mapping", ErrInvalidChange, legacyAirconID)
	}

	var requests []string

	if info, ok := asMap(aircon["info"]); ok {
		for _, f := range legacySystemFields {
			v, present := info[f.key]
			if !present {
				continue
			}
			encoded, err := f.encode(v)
			if err != nil {
				return nil, fmt.Errorf("info.%s: %w", f.key, err)
			}
			requests = append(requests, pathSetSystemData+"?"+f.param+"="+encoded)
		}
	}

	zones, ok := asMap(aircon["zones"])
	if !ok {
		return requests, nil
	}

	type zoneChange struct {
		number int
		fields map[string]any
	}
	ordered := make([]zoneChange, 0, len(zones))
	for id, raw := range zones {
		n, err := zoneNumber(id)
		if err != nil {
			return nil, err
		}
		fields, ok := asMap(raw)
		if !ok {
			return nil, fmt.Errorf("%w: zone %s must be a mapping", ErrInvalidChange, id)
		}
		ordered = append(ordered, zoneChange{number: n, fields: fields})
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].number < ordered[j].number })

	for _, z := range ordered {
		prefix := pathSetZoneData + "?zone=" + strconv.Itoa(z.number) + "&"
		if v, ok := z.fields["setTemp"]; ok {
			encoded, err := formatNumber(v)
			if err != nil {
				return nil, fmt.Errorf("zone %d setTemp: %w", z.number, err)
			}
			requests = append(requests, prefix+"desiredTemp="+encoded)
		}
		if v, ok := z.fields["state"]; ok {
			encoded, err := legacyZoneState(v)
			if err != nil {
				return nil, fmt.Errorf("zone %d state: %w", z.number, err)
			}
			requests = append(requests, prefix+"zoneSetting="+encoded)
		}
	}

	return requests, nil
}

// zoneNumber parses a zone id such as "z03".
func zoneNumber(id string) (int, error) {
	digits, ok := strings.CutPrefix(id, "z")
	if !ok {
		return 0, fmt.Errorf("%w: malformed zone id %q", ErrInvalidChange, id)
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: malformed zone id %q", ErrInvalidChange, id)
	}
	return n, nil
}

// formatNumber renders a numeric change value for a query string.
func formatNumber(v any) (string, error) {
	switch n := v.(type) {
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(n), 'f', -1, 32), nil
	case int:
		return strconv.Itoa(n), nil
	case int64:
		return strconv.FormatInt(n, 10), nil
	case json.Number:
		return n.String(), nil
	case string:
		if _, err := strconv.ParseFloat(n, 64); err == nil {
			return n, nil
		}
	}
	return "", fmt.Errorf("%w: %v is not a number", ErrInvalidChange, v)
}

// codeFor returns an encoder mapping names to legacy codes.
func codeFor(codes map[string]string) func(any) (string, error) {
	return func(v any) (string, error) {
		name, ok := v.(string)
		if ok {
			if code, found := codes[name]; found {
				return code, nil
			}
		}
		return "", fmt.Errorf("%w: unsupported value %v", ErrInvalidChange, v)
	}
}
