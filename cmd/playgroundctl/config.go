package main

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	playapi "playground/pkg/playground"
)

func loadTrainRequestFromConfig(path string) (playapi.TrainRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return playapi.TrainRequest{}, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return playapi.TrainRequest{}, err
	}

	var req playapi.TrainRequest
	if v, ok := asString(raw["shape"]); ok {
		req.Shape = v
	}
	if v, ok := raw["hidden"]; ok {
		hidden, err := asInts(v)
		if err != nil {
			return playapi.TrainRequest{}, errors.Wrap(err, "hidden")
		}
		req.Hidden = hidden
	}
	if v, ok := asString(raw["activation"]); ok {
		req.Activation = v
	}
	if v, ok := asFloat64(raw["learning_rate"]); ok {
		req.LearningRate = v
	}
	if v, ok := asString(raw["optimizer"]); ok {
		req.Optimizer = v
	}
	if v, ok := asInt(raw["epochs"]); ok {
		req.Epochs = v
	}
	if v, ok := asInt64(raw["seed"]); ok {
		req.Seed = v
	}
	if v, ok := asInt(raw["num_points"]); ok {
		req.NumPoints = v
	}
	if v, ok := asFloat64(raw["noise"]); ok {
		req.Noise = v
	}
	if v, ok := asInt(raw["grid_resolution"]); ok {
		req.GridResolution = v
	}
	return req, nil
}

func loadOrDefaultTrainRequest(configPath string) (playapi.TrainRequest, error) {
	if configPath == "" {
		return playapi.TrainRequest{}, nil
	}
	req, err := loadTrainRequestFromConfig(configPath)
	if err != nil {
		return playapi.TrainRequest{}, errors.Wrap(err, "load config")
	}
	return req, nil
}

// overrideFromFlags copies the value of every explicitly set flag onto req.
func overrideFromFlags(req *playapi.TrainRequest, set map[string]bool, flagValue map[string]any) error {
	for name := range set {
		v, ok := flagValue[name]
		if !ok {
			continue
		}
		switch name {
		case "shape":
			req.Shape = v.(string)
		case "hidden":
			hidden, err := parseHidden(v.(string))
			if err != nil {
				return err
			}
			req.Hidden = hidden
		case "activation":
			req.Activation = v.(string)
		case "lr":
			req.LearningRate = v.(float64)
		case "optimizer":
			req.Optimizer = v.(string)
		case "epochs":
			req.Epochs = v.(int)
		case "seed":
			req.Seed = v.(int64)
		case "points":
			req.NumPoints = v.(int)
		case "noise":
			req.Noise = v.(float64)
		case "grid":
			req.GridResolution = v.(int)
		}
	}
	if req.Epochs < 0 {
		return errors.New("epochs must be >= 0")
	}
	if req.NumPoints < 0 {
		return errors.New("points must be >= 0")
	}
	return nil
}

// parseHidden reads "4,2" style widths. "none" and "" mean no hidden layer.
func parseHidden(value string) ([]int, error) {
	value = strings.TrimSpace(value)
	if value == "" || strings.EqualFold(value, "none") {
		return []int{}, nil
	}
	parts := strings.Split(value, ",")
	out := make([]int, 0, len(parts))
	for _, part := range parts {
		width, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, errors.Wrapf(err, "hidden width %q", part)
		}
		out = append(out, width)
	}
	return out, nil
}

func joinInts(values []int) string {
	if len(values) == 0 {
		return "none"
	}
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case float64:
		return int(x), true
	default:
		return 0, false
	}
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		return int64(x), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}

// asInts accepts a JSON array of widths or a "4,2" string.
func asInts(v any) ([]int, error) {
	switch x := v.(type) {
	case string:
		return parseHidden(x)
	case []any:
		out := make([]int, 0, len(x))
		for i, item := range x {
			width, ok := asInt(item)
			if !ok {
				return nil, errors.Errorf("item %d is not a number", i)
			}
			out = append(out, width)
		}
		return out, nil
	case nil:
		return []int{}, nil
	default:
		return nil, errors.Errorf("unsupported value %v", v)
	}
}
