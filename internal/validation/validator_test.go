// Geosentry - Device Location Tracking and Theft Detection Core
// Copyright 2026 Geosentry contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/geosentry/geosentry

package validation

import (
	"strings"
	"testing"
)

type testReport struct {
	DeviceID  string  `validate:"required"`
	Latitude  float64 `validate:"latitude"`
	Longitude float64 `validate:"longitude"`
	Accuracy  float64 `validate:"gte=0"`
}

func TestValidateStruct_Valid(t *testing.T) {
	r := testReport{DeviceID: "dev-1", Latitude: 28.6139, Longitude: 77.2090, Accuracy: 10}
	if err := ValidateStruct(&r); err != nil {
		t.Fatalf("expected valid struct, got %v", err)
	}
}

func TestValidateStruct_CoordinateRanges(t *testing.T) {
	tests := []struct {
		name      string
		lat, lon  float64
		wantField string
	}{
		{"latitude too high", 90.5, 0, "Latitude"},
		{"latitude too low", -91, 0, "Latitude"},
		{"longitude too high", 0, 180.1, "Longitude"},
		{"longitude too low", 0, -200, "Longitude"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := testReport{DeviceID: "dev-1", Latitude: tt.lat, Longitude: tt.lon}
			err := ValidateStruct(&r)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if len(err.Errors()) != 1 {
				t.Fatalf("expected 1 error, got %d: %v", len(err.Errors()), err)
			}
			if got := err.Errors()[0].Field(); got != tt.wantField {
				t.Errorf("failed field = %q, want %q", got, tt.wantField)
			}
		})
	}
}

func TestValidateStruct_BoundaryCoordinatesValid(t *testing.T) {
	// Exact pole and antimeridian coordinates are legal fixes.
	for _, r := range []testReport{
		{DeviceID: "d", Latitude: 90, Longitude: 180},
		{DeviceID: "d", Latitude: -90, Longitude: -180},
	} {
		if err := ValidateStruct(&r); err != nil {
			t.Errorf("boundary coordinates (%v,%v) rejected: %v", r.Latitude, r.Longitude, err)
		}
	}
}

func TestValidateStruct_MultipleErrorsJoined(t *testing.T) {
	r := testReport{Latitude: 100, Longitude: 200, Accuracy: -1}
	err := ValidateStruct(&r)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if len(err.Errors()) != 4 {
		t.Fatalf("expected 4 errors, got %d", len(err.Errors()))
	}
	if !strings.Contains(err.Error(), ";") {
		t.Errorf("combined message should join errors: %q", err.Error())
	}
}

func TestTranslateErrorMessages(t *testing.T) {
	r := testReport{DeviceID: "", Latitude: 100, Longitude: 0}
	err := ValidateStruct(&r)
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "DeviceID is required") {
		t.Errorf("missing required translation: %q", msg)
	}
	if !strings.Contains(msg, "valid latitude") {
		t.Errorf("missing latitude translation: %q", msg)
	}
}
