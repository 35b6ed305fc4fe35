package telemetry

import (
	"encoding/json"
	"testing"
	"time"
)

func fixedVersioner(ts time.Time) Versioner {
	return Versioner{Version: DataVersion, Now: func() time.Time { return ts }}
}

func TestAggregate_ChangeDetectedIsOrOfAxes(t *testing.T) {
	tests := []struct {
		name string
		axes map[string]AxisStats
		want bool
	}{
		{"first sample", map[string]AxisStats{"X": {Current: 1, Min: 1, Max: 1}}, false},
		{"no axis changed", map[string]AxisStats{
			"X": {HasDiff: true},
			"Y": {HasDiff: true},
		}, false},
		{"one axis changed", map[string]AxisStats{
			"X": {HasDiff: true},
			"Y": {HasDiff: true, Changed: true},
		}, true},
		{"all changed", map[string]AxisStats{
			"X": {HasDiff: true, Changed: true},
			"Z": {HasDiff: true, Changed: true},
		}, true},
		{"empty state", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := Aggregate(StreamState{Stream: "s", Axes: tt.axes}, TypeAccel, NewVersioner())
			if rec.ChangeDetected != tt.want {
				t.Errorf("ChangeDetected = %v, want %v", rec.ChangeDetected, tt.want)
			}
		})
	}
}

func TestAggregate_DoesNotShareAxisMap(t *testing.T) {
	st := StreamState{Stream: "s", Axes: map[string]AxisStats{"X": {Current: 1}}}
	rec := Aggregate(st, TypeAccel, NewVersioner())
	st.Axes["X"] = AxisStats{Current: 2}
	if rec.Axes["X"].Current != 1 {
		t.Errorf("record axis changed with source state: %+v", rec.Axes["X"])
	}
}

func TestVersioner_Stamp(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	v := fixedVersioner(ts)

	rec := v.Stamp(ChangeRecord{Stream: "humidity"}, TypeTempAndHum)
	if !rec.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", rec.Timestamp, ts)
	}
	if rec.DataVersion != DataVersion {
		t.Errorf("DataVersion = %q, want %q", rec.DataVersion, DataVersion)
	}
	if rec.DataType != TypeTempAndHum {
		t.Errorf("DataType = %q, want %q", rec.DataType, TypeTempAndHum)
	}
}

func TestVersioner_StampKeepsExistingFields(t *testing.T) {
	earlier := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	v := fixedVersioner(time.Now())

	rec := v.Stamp(ChangeRecord{Timestamp: earlier, DataVersion: "v0", DataType: "custom"}, TypeAccel)
	if !rec.Timestamp.Equal(earlier) || rec.DataVersion != "v0" || rec.DataType != "custom" {
		t.Errorf("Stamp overwrote existing fields: %+v", rec)
	}
}

func TestChangeRecord_MarshalJSONFlattensAxes(t *testing.T) {
	ts := time.UnixMilli(1700000000123)
	rec := ChangeRecord{
		Stream: "accelerometer",
		Axes: map[string]AxisStats{
			"X": {Current: 1.15, Min: 1, Max: 1.3, Diff: 0.15, Changed: true, HasDiff: true},
			"Y": {Current: 2, Min: 2, Max: 2},
		},
		ChangeDetected: true,
		Timestamp:      ts,
		DataVersion:    "v1",
		DataType:       TypeAccel,
	}

	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	wantNumbers := map[string]float64{
		"currentX": 1.15, "minX": 1, "maxX": 1.3, "diffX": 0.15,
		"currentY": 2, "minY": 2, "maxY": 2,
		"timestamp": 1700000000123,
	}
	for k, want := range wantNumbers {
		if got[k] != want {
			t.Errorf("%s = %v, want %v", k, got[k], want)
		}
	}
	if got["changeX"] != true {
		t.Errorf("changeX = %v, want true", got["changeX"])
	}
	if got["changeDetected"] != true {
		t.Errorf("changeDetected = %v, want true", got["changeDetected"])
	}
	if got["dataFormat"] != "v1" || got["dataType"] != TypeAccel {
		t.Errorf("dataFormat/dataType = %v/%v, want v1/accel", got["dataFormat"], got["dataType"])
	}
	for _, absent := range []string{"diffY", "changeY"} {
		if _, ok := got[absent]; ok {
			t.Errorf("%s present for an axis with a single sample", absent)
		}
	}
}
