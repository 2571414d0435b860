package haier

import "testing"

func TestDeviceFilter(t *testing.T) {
	devices := []Device{{ID: "A"}, {ID: "B"}, {ID: "C"}}

	tests := []struct {
		name   string
		filter DeviceFilter
		want   []string
	}{
		{"exclude nothing", DeviceFilter{Mode: FilterExclude}, []string{"A", "B", "C"}},
		{"empty mode keeps all", DeviceFilter{}, []string{"A", "B", "C"}},
		{"exclude some", DeviceFilter{Mode: FilterExclude, Targets: []string{"B"}}, []string{"A", "C"}},
		{"include some", DeviceFilter{Mode: FilterInclude, Targets: []string{"C", "A"}}, []string{"A", "C"}},
		{"include nothing", DeviceFilter{Mode: FilterInclude}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := deviceIDs(tt.filter.Apply(devices))
			if len(got) != len(tt.want) {
				t.Fatalf("Apply() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Apply() = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestDeviceFilterValidate(t *testing.T) {
	if err := (DeviceFilter{Mode: "only"}).Validate(); err == nil {
		t.Error("Validate() accepted unknown mode")
	}
	if err := (DeviceFilter{Mode: FilterInclude}).Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}
