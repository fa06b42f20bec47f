package storage

import (
	"reflect"
	"testing"
)

func TestIsImageKey(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"farm_1/2024/Mar_2024_05.png", true},
		{"farm_1/scan.tif", true},
		{"farm_1/scan.TIFF", true},
		{"farm_1/photo.jpg", true},
		{"farm_1/photo.jpeg", true},
		{"farm_1/notes.txt", false},
		{"farm_1/index.json", false},
		{"farm_1/noextension", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsImageKey(tt.key); got != tt.want {
			t.Errorf("IsImageKey(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestNormalizeFarms(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"sentinel excluded and sorted", []string{"beta", "0", "alpha"}, []string{"alpha", "beta"}},
		{"dedupe", []string{"a", "a", "b"}, []string{"a", "b"}},
		{"empty entries dropped", []string{"", "x"}, []string{"x"}},
		{"all sentinel", []string{"0"}, []string{}},
		{"nil input", nil, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeFarms(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("NormalizeFarms(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
