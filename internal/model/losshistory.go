package model

import (
	"encoding/json"
	"math"
)

// LossHistory is a per-epoch loss series. Non-finite entries encode as JSON
// null and decode back as NaN so a diverged run's terminal loss survives.
type LossHistory []float64

func (h LossHistory) MarshalJSON() ([]byte, error) {
	values := make([]*float64, len(h))
	for i := range h {
		if !math.IsNaN(h[i]) && !math.IsInf(h[i], 0) {
			values[i] = &h[i]
		}
	}
	return json.Marshal(values)
}

func (h *LossHistory) UnmarshalJSON(data []byte) error {
	var values []*float64
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	out := make(LossHistory, len(values))
	for i, v := range values {
		if v == nil {
			out[i] = math.NaN()
			continue
		}
		out[i] = *v
	}
	*h = out
	return nil
}
