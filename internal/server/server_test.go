package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"playground/internal/dataset"
	"playground/internal/model"
	"playground/internal/platform"
	"playground/internal/session"
	"playground/internal/storage"
)

type slowModel struct {
	session.Model
}

func (m *slowModel) TrainEpoch(x, y *mat.Dense) (float64, error) {
	time.Sleep(5 * time.Millisecond)
	return m.Model.TrainEpoch(x, y)
}

func slowBuilder(cfg session.BuildConfig) (session.Model, error) {
	built, err := session.NetworkBuilder(cfg)
	if err != nil {
		return nil, err
	}
	return &slowModel{Model: built}, nil
}

func newTestServer(t *testing.T, builder session.Builder) (*Server, *platform.Playground) {
	t.Helper()
	pg := platform.New(platform.Config{
		Store:          storage.NewMemoryStore(),
		Seed:           3,
		Dataset:        dataset.Options{NumPoints: 30},
		GridResolution: 5,
		Builder:        builder,
	})
	if err := pg.Init(context.Background()); err != nil {
		t.Fatalf("init playground: %v", err)
	}
	t.Cleanup(pg.Close)
	return New(pg, Options{}), pg
}

func do(t *testing.T, s *Server, method, path string, body any) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.App().Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, data
}

func TestStateEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil)
	status, body := do(t, s, http.MethodGet, "/api/state", nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}
	var state platform.State
	if err := json.Unmarshal(body, &state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if state.Dataset.Len() != 30 || state.SessionGeneration != 1 || state.Training.Status != model.StatusIdle {
		t.Fatalf("unexpected state: dataset=%d session=%d status=%s", state.Dataset.Len(), state.SessionGeneration, state.Training.Status)
	}
}

func TestIndexPageIsServed(t *testing.T) {
	s, _ := newTestServer(t, nil)
	status, body := do(t, s, http.MethodGet, "/", nil)
	if status != http.StatusOK || !strings.Contains(string(body), "<title>playground</title>") {
		t.Fatalf("unexpected index response %d", status)
	}
}

func TestArchitectureEndpoints(t *testing.T) {
	s, _ := newTestServer(t, nil)

	status, body := do(t, s, http.MethodPost, "/api/architecture/layers", nil)
	if status != http.StatusCreated {
		t.Fatalf("add layer: expected 201, got %d: %s", status, body)
	}
	var spec model.ArchitectureSpec
	if err := json.Unmarshal(body, &spec); err != nil {
		t.Fatalf("decode spec: %v", err)
	}
	if len(spec.Hidden) != len(platform.DefaultHidden)+1 {
		t.Fatalf("unexpected hidden layers: %+v", spec.Hidden)
	}

	if status, body := do(t, s, http.MethodPost, "/api/architecture/layers/0/units", nil); status != http.StatusOK {
		t.Fatalf("add unit: expected 200, got %d: %s", status, body)
	}
	if status, _ := do(t, s, http.MethodDelete, "/api/architecture/layers/9", nil); status != http.StatusNotFound {
		t.Fatalf("remove missing layer: expected 404, got %d", status)
	}
	if status, _ := do(t, s, http.MethodDelete, "/api/architecture/layers/x/units", nil); status != http.StatusBadRequest {
		t.Fatalf("bad index: expected 400, got %d", status)
	}
	if status, _ := do(t, s, http.MethodPut, "/api/architecture", architectureRequest{Hidden: []int{3, 0}}); status != http.StatusUnprocessableEntity {
		t.Fatalf("zero-unit layer: expected 422, got %d", status)
	}
}

func TestSettingsEndpointValidates(t *testing.T) {
	s, pg := newTestServer(t, nil)
	if status, _ := do(t, s, http.MethodPut, "/api/settings", map[string]any{"learning_rate": -1}); status != http.StatusBadRequest {
		t.Fatalf("expected 400 for a negative learning rate, got %d", status)
	}
	status, body := do(t, s, http.MethodPut, "/api/settings", map[string]any{"activation": "relu", "epochs": 7})
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}
	if got := pg.Settings(); got.Activation != "relu" || got.Epochs != 7 {
		t.Fatalf("unexpected settings: %+v", got)
	}
}

func TestSettingsEndpointRejectsWholePatch(t *testing.T) {
	s, pg := newTestServer(t, nil)
	before := pg.State()

	status, body := do(t, s, http.MethodPut, "/api/settings", map[string]any{"activation": "relu", "learning_rate": -1})
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", status, body)
	}
	after := pg.State()
	if after.Settings != before.Settings {
		t.Fatalf("rejected patch changed settings: %+v -> %+v", before.Settings, after.Settings)
	}
	if after.SessionGeneration != before.SessionGeneration {
		t.Fatalf("rejected patch rebuilt the session: %d -> %d", before.SessionGeneration, after.SessionGeneration)
	}
}

func TestTrainPersistsRun(t *testing.T) {
	s, pg := newTestServer(t, nil)
	status, body := do(t, s, http.MethodPost, "/api/train", trainRequest{Epochs: 3})
	if status != http.StatusAccepted {
		t.Fatalf("train: expected 202, got %d: %s", status, body)
	}
	var started trainResponse
	if err := json.Unmarshal(body, &started); err != nil {
		t.Fatalf("decode train response: %v", err)
	}
	if _, err := pg.WaitRun(context.Background(), started.RunID); err != nil {
		t.Fatalf("wait run: %v", err)
	}

	status, body = do(t, s, http.MethodGet, "/api/runs", nil)
	if status != http.StatusOK {
		t.Fatalf("runs: expected 200, got %d", status)
	}
	var runs []model.RunRecord
	if err := json.Unmarshal(body, &runs); err != nil {
		t.Fatalf("decode runs: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != started.RunID || runs[0].Status != model.StatusCompleted {
		t.Fatalf("unexpected runs: %+v", runs)
	}

	status, body = do(t, s, http.MethodGet, "/api/runs/"+started.RunID+"/losses", nil)
	if status != http.StatusOK {
		t.Fatalf("losses: expected 200, got %d", status)
	}
	var losses lossResponse
	if err := json.Unmarshal(body, &losses); err != nil {
		t.Fatalf("decode losses: %v", err)
	}
	if len(losses.History) != 3 || losses.Summary.Epochs != 3 || len(losses.Plot) != 3 {
		t.Fatalf("unexpected losses: %+v", losses)
	}
	if status, _ := do(t, s, http.MethodGet, "/api/runs/unknown", nil); status != http.StatusNotFound {
		t.Fatalf("unknown run: expected 404, got %d", status)
	}
	if status, _ := do(t, s, http.MethodPost, "/api/train", trainRequest{Epochs: -4}); status != http.StatusUnprocessableEntity {
		t.Fatalf("negative epochs: expected 422, got %d", status)
	}
}

func TestMutationsConflictWhileTraining(t *testing.T) {
	s, pg := newTestServer(t, slowBuilder)
	if status, body := do(t, s, http.MethodPost, "/api/train", trainRequest{Epochs: 1000}); status != http.StatusAccepted {
		t.Fatalf("train: expected 202, got %d: %s", status, body)
	}
	if status, _ := do(t, s, http.MethodPost, "/api/dataset", datasetRequest{Shape: "spiral"}); status != http.StatusConflict {
		t.Fatalf("regenerate: expected 409, got %d", status)
	}
	if status, _ := do(t, s, http.MethodPost, "/api/architecture/layers", nil); status != http.StatusConflict {
		t.Fatalf("add layer: expected 409, got %d", status)
	}
	status, body := do(t, s, http.MethodPost, "/api/stop", nil)
	if status != http.StatusOK || !strings.Contains(string(body), `"stopped":true`) {
		t.Fatalf("stop: unexpected %d %s", status, body)
	}
	if pg.State().Training.Status != model.StatusAborted {
		t.Fatalf("expected aborted state, got %s", pg.State().Training.Status)
	}
	if status, _ := do(t, s, http.MethodPost, "/api/dataset", datasetRequest{Shape: "spiral"}); status != http.StatusOK {
		t.Fatalf("regenerate after stop: expected 200, got %d", status)
	}
	if status, _ := do(t, s, http.MethodPost, "/api/dataset", datasetRequest{Shape: "torus"}); status != http.StatusBadRequest {
		t.Fatalf("unknown shape: expected 400, got %d", status)
	}
}

func TestPredictEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil)
	status, body := do(t, s, http.MethodPost, "/api/predict", map[string]float64{"x": 0.2, "y": 0.9})
	if status != http.StatusOK {
		t.Fatalf("predict: expected 200, got %d: %s", status, body)
	}
	var got predictResponse
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode predict: %v", err)
	}
	if got.Probability < 0 || got.Probability > 1 || (got.Class != 0 && got.Class != 1) {
		t.Fatalf("unexpected prediction: %+v", got)
	}
	if status, _ := do(t, s, http.MethodPost, "/api/predict", map[string]float64{"x": 0.2}); status != http.StatusBadRequest {
		t.Fatalf("missing y: expected 400, got %d", status)
	}
}

func TestRenderEndpoints(t *testing.T) {
	s, _ := newTestServer(t, nil)
	for _, plane := range []string{"data.svg", "network.svg", "loss.svg"} {
		req := httptest.NewRequest(http.MethodGet, "/api/render/"+plane, nil)
		resp, err := s.App().Test(req, -1)
		if err != nil {
			t.Fatalf("%s: %v", plane, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/svg+xml" {
			t.Fatalf("%s: unexpected response %d %s", plane, resp.StatusCode, resp.Header.Get("Content-Type"))
		}
		if !bytes.HasPrefix(body, []byte("<svg")) {
			t.Fatalf("%s: expected an svg document", plane)
		}
	}
	if status, _ := do(t, s, http.MethodGet, "/api/render/other.svg", nil); status != http.StatusNotFound {
		t.Fatalf("unknown plane: expected 404, got %d", status)
	}
}

func TestWebsocketRequiresUpgrade(t *testing.T) {
	s, _ := newTestServer(t, nil)
	if status, _ := do(t, s, http.MethodGet, "/ws", nil); status != http.StatusUpgradeRequired {
		t.Fatalf("expected 426 without upgrade, got %d", status)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{model.NewTrainingLockedError("add layer"), http.StatusConflict},
		{model.NewIndexError(4, 2), http.StatusNotFound},
		{model.NewArchitectureError(0, 0, "units must be >= 1"), http.StatusUnprocessableEntity},
		{model.NewInvalidDatasetError(-1, model.LabeledPoint{}, "empty"), http.StatusUnprocessableEntity},
		{errors.Wrap(model.NewPreconditionError("dataset is empty"), "train"), http.StatusUnprocessableEntity},
		{invalidInput(errors.New("bad json")), http.StatusBadRequest},
		{errors.Wrap(platform.ErrInvalidSettings, "epochs"), http.StatusBadRequest},
		{platform.ErrNotStarted, http.StatusServiceUnavailable},
		{fiber.ErrNotFound, http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := StatusFor(tc.err); got != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, got)
		}
	}
}
