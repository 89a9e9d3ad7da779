package steam

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
)

// FlexUint decodes numbers that Steam sends either quoted or bare.
type FlexUint uint64

func (f *FlexUint) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return err
	}
	*f = FlexUint(n)
	return nil
}

// FlexBool decodes true/false, 0/1 and their quoted forms.
type FlexBool bool

func (f *FlexBool) UnmarshalJSON(b []byte) error {
	switch string(bytes.Trim(b, `"`)) {
	case "true", "1":
		*f = true
	default:
		*f = false
	}
	return nil
}

// decodeKeyed decodes a Steam collection that arrives as an object keyed by
// integer strings, as an array, or as an empty string. nil is returned for "".
func decodeKeyed[T any](b []byte) (map[int]*T, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" || string(b) == `""` || string(b) == "false" {
		return nil, nil
	}

	out := make(map[int]*T)
	if b[0] == '[' {
		var list []*T
		if err := json.Unmarshal(b, &list); err != nil {
			return nil, err
		}
		for i, v := range list {
			if v != nil {
				out[i] = v
			}
		}
		return out, nil
	}

	var obj map[string]*T
	if err := json.Unmarshal(b, &obj); err != nil {
		return nil, err
	}
	for k, v := range obj {
		n, err := strconv.Atoi(k)
		if err != nil || v == nil {
			continue
		}
		out[n] = v
	}
	return out, nil
}

func sortedKeys[T any](m map[int]*T) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
