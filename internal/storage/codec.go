package storage

import (
	"encoding/json"
	"errors"

	"dnfit/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// Versioned stamps a record with the current schema and codec versions.
func Versioned() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

func EncodeFit(f model.FitRecord) ([]byte, error) {
	return json.Marshal(f)
}

func DecodeFit(data []byte) (model.FitRecord, error) {
	var fit model.FitRecord
	if err := json.Unmarshal(data, &fit); err != nil {
		return model.FitRecord{}, err
	}
	if err := checkVersion(fit.VersionedRecord); err != nil {
		return model.FitRecord{}, err
	}
	return fit, nil
}

func EncodeCostHistory(history []float64) ([]byte, error) {
	return json.Marshal(history)
}

func DecodeCostHistory(data []byte) ([]float64, error) {
	var history []float64
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, err
	}
	return history, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
