package spec

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DecodeStack unmarshals a stack spec from JSON, detecting duplicate keys
// that encoding/json would silently ignore. A duplicated service name or
// env var is almost always a copy-paste mistake worth failing loudly on.
func DecodeStack(data []byte) (Stack, error) {
	var raw struct {
		Name     string                     `json:"name"`
		Services map[string]json.RawMessage `json:"services"`
		Edge     Edge                       `json:"edge"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Stack{}, err
	}

	if err := checkDuplicateKeys(data, "services"); err != nil {
		return Stack{}, err
	}

	st := Stack{
		Name:     raw.Name,
		Edge:     raw.Edge,
		Services: make(map[string]Service, len(raw.Services)),
	}

	for svcName, svcData := range raw.Services {
		for _, field := range []string{"env", "secrets"} {
			if err := checkDuplicateKeys(svcData, field); err != nil {
				return Stack{}, fmt.Errorf("service %q: %w", svcName, err)
			}
		}

		var svc Service
		if err := json.Unmarshal(svcData, &svc); err != nil {
			return Stack{}, fmt.Errorf("service %q: %w", svcName, err)
		}
		st.Services[svcName] = svc
	}

	return st, nil
}

// checkDuplicateKeys checks whether a JSON object at the given field name
// contains duplicate keys. Returns an error if duplicates are found.
func checkDuplicateKeys(data []byte, field string) error {
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(data, &outer); err != nil {
		return nil // not a JSON object — let standard unmarshal report it
	}

	fieldData, ok := outer[field]
	if !ok {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(fieldData))
	return checkObjectDuplicates(dec, field)
}

func checkObjectDuplicates(dec *json.Decoder, context string) error {
	t, err := dec.Token()
	if err != nil {
		return nil
	}
	delim, ok := t.(json.Delim)
	if !ok || delim != '{' {
		return nil // not an object
	}

	seen := make(map[string]bool)
	for dec.More() {
		t, err := dec.Token()
		if err != nil {
			return nil
		}
		key, ok := t.(string)
		if !ok {
			return nil
		}
		if seen[key] {
			return fmt.Errorf("duplicate %s key: %q", context, key)
		}
		seen[key] = true

		// Skip the value, which may be any nested JSON value.
		var discard json.RawMessage
		if err := dec.Decode(&discard); err != nil {
			return nil
		}
	}

	return nil
}
