package storage

import (
	"encoding/json"
	"math"

	"github.com/pkg/errors"

	"playground/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// CurrentVersion stamps a record written by this build.
func CurrentVersion() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

func EncodeRun(run model.RunRecord) ([]byte, error) {
	if !finite(run.FinalLoss) || !finite(run.LearningRate) {
		return nil, errors.Errorf("run %s: final loss and learning rate must be finite", run.ID)
	}
	return json.Marshal(run)
}

func DecodeRun(data []byte) (model.RunRecord, error) {
	var run model.RunRecord
	if err := json.Unmarshal(data, &run); err != nil {
		return model.RunRecord{}, err
	}
	if err := checkVersion(run.VersionedRecord); err != nil {
		return model.RunRecord{}, err
	}
	return run, nil
}

// EncodeLossHistory writes non-finite losses as null so a diverged run's
// terminal entry survives the round trip.
func EncodeLossHistory(history []float64) ([]byte, error) {
	return json.Marshal(model.LossHistory(history))
}

// DecodeLossHistory restores null entries as NaN.
func DecodeLossHistory(data []byte) ([]float64, error) {
	var history model.LossHistory
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

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
