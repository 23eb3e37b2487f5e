package counter

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Category is a normalized vehicle class used for reporting.
type Category string

const (
	Car        Category = "car"
	Truck      Category = "truck"
	Bus        Category = "bus"
	Motorcycle Category = "motorcycle"
)

// canonicalOrder fixes the order categories appear in reports and overlays.
var canonicalOrder = []Category{Car, Truck, Bus, Motorcycle}

// DefaultClassMap maps detector labels to reporting categories.
// Bicycles are deliberately reported together with motorcycles.
var DefaultClassMap = map[string]Category{
	"car":        Car,
	"truck":      Truck,
	"bus":        Bus,
	"motorcycle": Motorcycle,
	"bicycle":    Motorcycle,
}

// COCONames holds the COCO class indices relevant to vehicle counting.
var COCONames = map[int]string{
	1: "bicycle",
	2: "car",
	3: "motorcycle",
	5: "bus",
	7: "truck",
}

// ClassMapper normalizes raw detector labels. It is immutable after construction.
type ClassMapper struct {
	labels map[string]Category
	names  map[int]string
}

// NewClassMapper builds a mapper from a label table and a class-id name table.
// A nil names table falls back to COCONames.
func NewClassMapper(labels map[string]Category, names map[int]string) *ClassMapper {
	if names == nil {
		names = COCONames
	}
	m := &ClassMapper{
		labels: make(map[string]Category, len(labels)),
		names:  names,
	}
	for k, v := range labels {
		m.labels[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return m
}

// DefaultClassMapper returns the mapper used when no overrides are configured.
func DefaultClassMapper() *ClassMapper {
	return NewClassMapper(DefaultClassMap, nil)
}

// ParseClassMap builds a mapper from "label=category" pairs layered on top of the defaults.
// An empty category removes the label.
func ParseClassMap(overrides map[string]string) (*ClassMapper, error) {
	labels := make(map[string]Category, len(DefaultClassMap)+len(overrides))
	for k, v := range DefaultClassMap {
		labels[k] = v
	}
	for k, v := range overrides {
		label := strings.ToLower(strings.TrimSpace(k))
		if label == "" {
			return nil, fmt.Errorf("empty label in class map")
		}
		cat := strings.ToLower(strings.TrimSpace(v))
		if cat == "" {
			delete(labels, label)
			continue
		}
		labels[label] = Category(cat)
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("class map has no categories")
	}
	return NewClassMapper(labels, nil), nil
}

// Map returns the category for a raw label, or false if it is not a counted vehicle class.
func (m *ClassMapper) Map(label string) (Category, bool) {
	c, ok := m.labels[strings.ToLower(strings.TrimSpace(label))]
	return c, ok
}

// MapClassID resolves an integer class through the names table before mapping.
// Unknown ids are looked up by their decimal string.
func (m *ClassMapper) MapClassID(id int) (Category, bool) {
	name, ok := m.names[id]
	if !ok {
		name = strconv.Itoa(id)
	}
	return m.Map(name)
}

// MapDetectionLabel prefers the textual label and falls back to the class id.
func (m *ClassMapper) MapDetectionLabel(label string, classID int) (Category, bool) {
	if label != "" {
		return m.Map(label)
	}
	return m.MapClassID(classID)
}

// Categories lists every reporting category: canonical ones first, then custom ones sorted.
func (m *ClassMapper) Categories() []Category {
	present := make(map[Category]bool)
	for _, c := range m.labels {
		present[c] = true
	}

	out := make([]Category, 0, len(present))
	for _, c := range canonicalOrder {
		if present[c] {
			out = append(out, c)
			delete(present, c)
		}
	}

	var extra []string
	for c := range present {
		extra = append(extra, string(c))
	}
	sort.Strings(extra)
	for _, c := range extra {
		out = append(out, Category(c))
	}
	return out
}
