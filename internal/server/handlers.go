package server

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"

	"playground/internal/model"
	"playground/internal/platform"
	"playground/internal/render"
	"playground/internal/stats"
)

const lossPlotPoints = 200

type datasetRequest struct {
	Shape string `json:"shape"`
}

type settingsRequest struct {
	Activation   *string  `json:"activation,omitempty"`
	LearningRate *float64 `json:"learning_rate,omitempty"`
	Epochs       *int     `json:"epochs,omitempty"`
}

type architectureRequest struct {
	Hidden []int `json:"hidden"`
}

type trainRequest struct {
	Epochs int `json:"epochs"`
}

type trainResponse struct {
	RunID             string `json:"run_id"`
	TotalEpochs       int    `json:"total_epochs"`
	SessionGeneration uint64 `json:"session_generation"`
	DatasetGeneration uint64 `json:"dataset_generation"`
}

type predictRequest struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

type predictResponse struct {
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Probability float64 `json:"probability"`
	Class       int     `json:"class"`
}

type lossResponse struct {
	RunID   string            `json:"run_id"`
	History model.LossHistory `json:"history"`
	Plot    []stats.PlotPoint `json:"plot"`
	Summary stats.LossSummary `json:"summary"`
}

func (s *Server) handleState(c *fiber.Ctx) error {
	return c.JSON(s.pg.State())
}

func (s *Server) handleDataset(c *fiber.Ctx) error {
	var req datasetRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	shape := s.pg.Settings().Shape
	if req.Shape != "" {
		parsed, err := model.ParseShape(req.Shape)
		if err != nil {
			return invalidInput(err)
		}
		shape = parsed
	}
	data, err := s.pg.RegenerateDataset(shape)
	if err != nil {
		return err
	}
	return c.JSON(data)
}

func (s *Server) handleSettings(c *fiber.Ctx) error {
	var req settingsRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	patch := platform.SettingsPatch{
		Activation:   req.Activation,
		LearningRate: req.LearningRate,
		Epochs:       req.Epochs,
	}
	if err := s.pg.UpdateSettings(patch); err != nil {
		return err
	}
	return c.JSON(s.pg.Settings())
}

func (s *Server) handleSetArchitecture(c *fiber.Ctx) error {
	var req architectureRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	spec, err := s.pg.SetArchitecture(req.Hidden)
	if err != nil {
		return err
	}
	return c.JSON(spec)
}

func (s *Server) handleAddLayer(c *fiber.Ctx) error {
	spec, err := s.pg.AddLayer()
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(spec)
}

func (s *Server) handleRemoveLayer(c *fiber.Ctx) error {
	index, err := layerIndex(c)
	if err != nil {
		return err
	}
	spec, err := s.pg.RemoveLayer(index)
	if err != nil {
		return err
	}
	return c.JSON(spec)
}

func (s *Server) handleAddUnit(c *fiber.Ctx) error {
	index, err := layerIndex(c)
	if err != nil {
		return err
	}
	spec, err := s.pg.AddUnit(index)
	if err != nil {
		return err
	}
	return c.JSON(spec)
}

func (s *Server) handleRemoveUnit(c *fiber.Ctx) error {
	index, err := layerIndex(c)
	if err != nil {
		return err
	}
	spec, err := s.pg.RemoveUnit(index)
	if err != nil {
		return err
	}
	return c.JSON(spec)
}

func (s *Server) handleTrain(c *fiber.Ctx) error {
	var req trainRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	run, err := s.pg.Train(c.UserContext(), req.Epochs)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(trainResponse{
		RunID:             run.ID.String(),
		TotalEpochs:       run.TotalEpochs,
		SessionGeneration: run.SessionGeneration,
		DatasetGeneration: run.DatasetGeneration,
	})
}

func (s *Server) handleStop(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"stopped": s.pg.Stop()})
}

func (s *Server) handlePredict(c *fiber.Ctx) error {
	var req predictRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if req.X == nil || req.Y == nil {
		return invalidInput(errors.New("x and y are required"))
	}
	prob, err := s.pg.Predict(*req.X, *req.Y)
	if err != nil {
		return err
	}
	return c.JSON(predictResponse{X: *req.X, Y: *req.Y, Probability: prob, Class: render.Classify(prob)})
}

// handleRender draws one plane of the current state as an SVG document.
func (s *Server) handleRender(c *fiber.Ctx) error {
	sync := s.pg.Synchronizer()
	snap := s.pg.Snapshot()
	canvas := render.NewSVGCanvas(sync.Width, sync.Height)
	switch c.Params("plane") {
	case "data.svg":
		if err := sync.DataPlane(canvas, snap); err != nil {
			return err
		}
	case "network.svg":
		if err := sync.NetworkPlane(canvas, snap); err != nil {
			return err
		}
	case "loss.svg":
		sync.LossCurve(canvas, snap.Training.LossHistory)
	default:
		return fiber.ErrNotFound
	}
	c.Set(fiber.HeaderContentType, "image/svg+xml")
	return c.Send(canvas.Bytes())
}

func (s *Server) handleRuns(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", s.opts.RunsLimit)
	runs, err := s.pg.Runs(c.UserContext(), limit)
	if err != nil {
		return err
	}
	return c.JSON(runs)
}

func (s *Server) handleRun(c *fiber.Ctx) error {
	id := c.Params("id")
	record, ok, err := s.pg.Run(c.UserContext(), id)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrap(errRunNotFound, id)
	}
	return c.JSON(record)
}

func (s *Server) handleLosses(c *fiber.Ctx) error {
	id := c.Params("id")
	history, ok, err := s.pg.LossHistory(c.UserContext(), id)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrap(errRunNotFound, id)
	}
	return c.JSON(lossResponse{
		RunID:   id,
		History: history,
		Plot:    stats.BuildLossPlot(history, lossPlotPoints),
		Summary: stats.SummarizeLoss(history),
	})
}

func parseBody(c *fiber.Ctx, out any) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := c.BodyParser(out); err != nil {
		return invalidInput(errors.Wrap(err, "decode request"))
	}
	return nil
}

func layerIndex(c *fiber.Ctx) (int, error) {
	index, err := strconv.Atoi(c.Params("index"))
	if err != nil {
		return 0, invalidInput(errors.Wrapf(err, "layer index %q", c.Params("index")))
	}
	return index, nil
}
