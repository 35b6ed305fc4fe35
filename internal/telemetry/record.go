package telemetry

import (
	"encoding/json"
	"maps"
	"time"
)

// DataVersion is the schema identifier stamped on every record built by this
// version of tagwatch. Consumers filter stored events on it.
const DataVersion = "v1"

// Type tags identifying which stream produced a record.
const (
	TypeAccel      = "accel"
	TypeTempAndHum = "tempAndHum"
)

// ChangeRecord is the snapshot emitted for every processed reading.
// Treat it as immutable once built.
type ChangeRecord struct {
	Stream         string
	Axes           map[string]AxisStats
	ChangeDetected bool
	Timestamp      time.Time
	DataVersion    string
	DataType       string
}

// MarshalJSON flattens the record per axis: currentX, minX, maxX and, once
// the axis has a diff, diffX and changeX.
func (r ChangeRecord) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Axes)*5+4)
	for label, a := range r.Axes {
		out["current"+label] = a.Current
		out["min"+label] = a.Min
		out["max"+label] = a.Max
		if a.HasDiff {
			out["diff"+label] = a.Diff
			out["change"+label] = a.Changed
		}
	}
	out["changeDetected"] = r.ChangeDetected
	if !r.Timestamp.IsZero() {
		out["timestamp"] = r.Timestamp.UnixMilli()
	}
	if r.DataVersion != "" {
		out["dataFormat"] = r.DataVersion
	}
	if r.DataType != "" {
		out["dataType"] = r.DataType
	}
	return json.Marshal(out)
}

// Versioner stamps records with a timestamp, schema version and type tag.
type Versioner struct {
	Version string
	Now     func() time.Time
}

// NewVersioner returns a Versioner using the wall clock and DataVersion.
func NewVersioner() Versioner {
	return Versioner{Version: DataVersion, Now: time.Now}
}

// Stamp fills in Timestamp, DataVersion and DataType. Fields that are already
// set are left alone, and the axis data is never touched.
func (v Versioner) Stamp(rec ChangeRecord, typeTag string) ChangeRecord {
	now := v.Now
	if now == nil {
		now = time.Now
	}
	version := v.Version
	if version == "" {
		version = DataVersion
	}

	if rec.Timestamp.IsZero() {
		rec.Timestamp = now()
	}
	if rec.DataVersion == "" {
		rec.DataVersion = version
	}
	if rec.DataType == "" {
		rec.DataType = typeTag
	}
	return rec
}

// Aggregate combines the per-axis changed flags of state into a single
// change decision and returns the stamped record. A state with no diffs
// (the first sample of a stream) never reports a change.
func Aggregate(state StreamState, typeTag string, v Versioner) ChangeRecord {
	rec := ChangeRecord{
		Stream: state.Stream,
		Axes:   maps.Clone(state.Axes),
	}
	for _, a := range state.Axes {
		if a.HasDiff && a.Changed {
			rec.ChangeDetected = true
			break
		}
	}
	return v.Stamp(rec, typeTag)
}
