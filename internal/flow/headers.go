package flow

import "strings"

// HeaderField is one header entry: a name and its ordered list of values.
// Flow keeps headers as an ordered slice (not a map) because both the
// fingerprint projection (spec.md §4.5) and the snapshot format (spec.md §6)
// are order-sensitive.
type HeaderField struct {
	Name   string
	Values []string
}

// Headers is a case-insensitive, order-preserving multimap from header name
// to its ordered list of values.
type Headers []HeaderField

func (h Headers) indexOf(name string) int {
	for i := range h {
		if strings.EqualFold(h[i].Name, name) {
			return i
		}
	}
	return -1
}

// Get returns the first value for name, or "" if absent.
func (h Headers) Get(name string) string {
	if i := h.indexOf(name); i >= 0 && len(h[i].Values) > 0 {
		return h[i].Values[0]
	}
	return ""
}

// Values returns all values for name in declared order.
func (h Headers) Values(name string) []string {
	if i := h.indexOf(name); i >= 0 {
		return append([]string(nil), h[i].Values...)
	}
	return nil
}

// Add appends a value, creating the header entry if it doesn't exist yet.
func (h *Headers) Add(name, value string) {
	if i := h.indexOf(name); i >= 0 {
		(*h)[i].Values = append((*h)[i].Values, value)
		return
	}
	*h = append(*h, HeaderField{Name: name, Values: []string{value}})
}

// Set replaces all values for name with a single value.
func (h *Headers) Set(name, value string) {
	if i := h.indexOf(name); i >= 0 {
		(*h)[i].Values = []string{value}
		return
	}
	*h = append(*h, HeaderField{Name: name, Values: []string{value}})
}

// Del removes every entry for name.
func (h *Headers) Del(name string) {
	for i := h.indexOf(name); i >= 0; i = h.indexOf(name) {
		*h = append((*h)[:i], (*h)[i+1:]...)
	}
}

// Has reports whether name has at least one value.
func (h Headers) Has(name string) bool { return h.indexOf(name) >= 0 }

// Clone returns a deep copy.
func (h Headers) Clone() Headers {
	out := make(Headers, len(h))
	for i, f := range h {
		out[i] = HeaderField{Name: f.Name, Values: append([]string(nil), f.Values...)}
	}
	return out
}

// ToList renders headers as the [name, [values]] pairs the snapshot format
// uses.
func (h Headers) ToList() [][2]interface{} {
	out := make([][2]interface{}, len(h))
	for i, f := range h {
		vals := make([]interface{}, len(f.Values))
		for j, v := range f.Values {
			vals[j] = v
		}
		out[i] = [2]interface{}{f.Name, vals}
	}
	return out
}

// HeadersFromList reconstructs Headers from the snapshot's [name, [values]] form.
func HeadersFromList(list []interface{}) Headers {
	h := make(Headers, 0, len(list))
	for _, entry := range list {
		pair, ok := entry.([]interface{})
		if !ok || len(pair) != 2 {
			continue
		}
		name, _ := pair[0].(string)
		valsRaw, _ := pair[1].([]interface{})
		vals := make([]string, 0, len(valsRaw))
		for _, v := range valsRaw {
			if s, ok := v.(string); ok {
				vals = append(vals, s)
			}
		}
		h = append(h, HeaderField{Name: name, Values: vals})
	}
	return h
}
