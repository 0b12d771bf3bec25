package model

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// FitRecord is a persisted parameter fit.
type FitRecord struct {
	VersionedRecord
	ID            string             `json:"id"`
	CreatedAtUTC  string             `json:"created_at_utc"`
	Variant       Variant            `json:"variant"`
	Normalization string             `json:"normalization"`
	Solver        string             `json:"solver"`
	SampleRate    float64            `json:"sample_rate"`
	NumSamples    int                `json:"num_samples"`
	NumTimepoints int                `json:"num_timepoints"`
	Params        map[string]float64 `json:"params"`
	Bounds        []ParamSpec        `json:"bounds"`
	InitialCost   float64            `json:"initial_cost"`
	Cost          float64            `json:"cost"`
	Evaluations   int                `json:"evaluations"`
	Status        string             `json:"status"`
}

// FitParams returns the fitted values as a parameter record.
func (r FitRecord) FitParams() (Params, error) {
	return FromMap(r.Variant, r.Params)
}
