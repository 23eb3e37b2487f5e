package counter

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestClassMapperMap(t *testing.T) {
	m := DefaultClassMapper()

	tests := []struct {
		label  string
		want   Category
		wantOK bool
	}{
		{"car", Car, true},
		{"truck", Truck, true},
		{"bus", Bus, true},
		{"motorcycle", Motorcycle, true},
		{"bicycle", Motorcycle, true}, // Many-to-one on purpose
		{" Car ", Car, true},
		{"person", "", false},
		{"traffic light", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := m.Map(tt.label)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("Map(%q) = (%q, %v), want (%q, %v)", tt.label, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestClassMapperMapClassID(t *testing.T) {
	m := DefaultClassMapper()

	if got, ok := m.MapClassID(2); !ok || got != Car {
		t.Errorf("MapClassID(2) = (%q, %v), want car", got, ok)
	}
	if got, ok := m.MapClassID(1); !ok || got != Motorcycle {
		t.Errorf("MapClassID(1) = (%q, %v), want motorcycle", got, ok)
	}
	// 0 is "person" in COCO and is not in the vehicle table at all
	if _, ok := m.MapClassID(0); ok {
		t.Error("MapClassID(0) should not map")
	}

	// Label wins over class id when both are present
	if got, _ := m.MapDetectionLabel("bus", 2); got != Bus {
		t.Errorf("MapDetectionLabel(bus, 2) = %q, want bus", got)
	}
	if got, _ := m.MapDetectionLabel("", 7); got != Truck {
		t.Errorf("MapDetectionLabel(\"\", 7) = %q, want truck", got)
	}
}

func TestClassMapperCategories(t *testing.T) {
	got := DefaultClassMapper().Categories()
	want := []Category{Car, Truck, Bus, Motorcycle}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Categories() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseClassMap(t *testing.T) {
	m, err := ParseClassMap(map[string]string{
		"bicycle": "bicycle", // Split bicycles out again
		"van":     "car",
		"bus":     "", // Stop counting buses
	})
	if err != nil {
		t.Fatalf("ParseClassMap failed: %v", err)
	}

	if got, _ := m.Map("bicycle"); got != "bicycle" {
		t.Errorf("bicycle mapped to %q", got)
	}
	if got, _ := m.Map("van"); got != Car {
		t.Errorf("van mapped to %q", got)
	}
	if _, ok := m.Map("bus"); ok {
		t.Error("bus should have been removed")
	}

	want := []Category{Car, Truck, Motorcycle, "bicycle"}
	if diff := cmp.Diff(want, m.Categories()); diff != "" {
		t.Errorf("Categories() mismatch (-want +got):\n%s", diff)
	}

	if _, err := ParseClassMap(map[string]string{" ": "car"}); err == nil {
		t.Error("expected error for empty label")
	}
}
