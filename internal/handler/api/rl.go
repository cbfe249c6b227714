package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"RLSignal/internal/domain/models"
	domrepo "RLSignal/internal/domain/repository"
	"RLSignal/internal/service/ratelimit"
	"RLSignal/internal/services/policy"
	"RLSignal/internal/services/simulation"
	"RLSignal/internal/usecase"
	xhttp "RLSignal/pkg/http"
	applogger "RLSignal/pkg/logger"

	"github.com/labstack/echo/v4"
)

const (
	serviceName    = "RL Trading Service"
	serviceVersion = "1.1.0"

	defaultDecisionLimit = 50
	maxDecisionLimit     = 500
)

var healthFeatures = []string{"smc", "volume", "ote", "kill_zones"}

var serviceFeatures = map[string][]string{
	"smc":        {"order_blocks", "fvg", "bos", "ote"},
	"volume":     {"volume_ratio", "liquidity"},
	"kill_zones": {"london", "new_york", "asian"},
}

// RLHandler serves the decision, parameter, training and simulation API.
// Endpoints consumed by existing clients answer with bare JSON; the
// remaining ones use the APIResponse envelope.
type RLHandler struct {
	logger    *applogger.Logger
	state     *usecase.ServiceState
	decisions *usecase.DecisionUseCase
	training  *usecase.TrainingUseCase
	simulate  *usecase.SimulateUseCase
	limiter   *ratelimit.Limiter
	stream    *TrainingStream
}

func NewRLHandler(
	logger *applogger.Logger,
	state *usecase.ServiceState,
	decisions *usecase.DecisionUseCase,
	training *usecase.TrainingUseCase,
	simulate *usecase.SimulateUseCase,
	limiter *ratelimit.Limiter,
	stream *TrainingStream,
) *RLHandler {
	if logger == nil {
		logger = applogger.Nop()
	}
	return &RLHandler{
		logger:    logger,
		state:     state,
		decisions: decisions,
		training:  training,
		simulate:  simulate,
		limiter:   limiter,
		stream:    stream,
	}
}

func (h *RLHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)
	e.GET("/", h.Root)

	var predictMW []echo.MiddlewareFunc
	if h.limiter != nil {
		predictMW = append(predictMW, ratelimit.Middleware(h.limiter))
	}
	e.POST("/predict", h.Predict, predictMW...)
	e.GET("/decisions", h.Decisions)

	e.GET("/metrics", h.Metrics)
	e.GET("/params", h.GetParams)
	e.PUT("/params", h.UpdateParams)

	e.POST("/train", h.Train)
	e.POST("/train/update", h.UpdateModel)
	e.POST("/stop", h.Stop)
	e.GET("/training/status", h.TrainingStatus)
	e.GET("/training/jobs/:id", h.TrainingJob)
	if h.stream != nil {
		e.GET("/ws/training", h.stream.Serve)
	}

	e.POST("/simulate", h.Simulate)
}

func (h *RLHandler) Health(c echo.Context) error {
	return xhttp.JSONResponse(c, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339Nano),
		"features":  healthFeatures,
	})
}

func (h *RLHandler) Root(c echo.Context) error {
	return xhttp.JSONResponse(c, map[string]interface{}{
		"service":       serviceName,
		"version":       serviceVersion,
		"model_version": h.state.ModelVersion(),
		"status":        h.state.TrainingStatus(),
		"features":      serviceFeatures,
	})
}

func (h *RLHandler) Predict(c echo.Context) error {
	req := &models.PredictRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	d, err := h.decisions.Predict(c.Request().Context(), *req)
	if err != nil {
		h.logger.Error("predict failed", applogger.String("symbol", req.Symbol), applogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("prediction failed").WithError(err))
	}
	return xhttp.JSONResponse(c, models.NewPredictResponse(d))
}

func (h *RLHandler) Decisions(c echo.Context) error {
	limit := defaultDecisionLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("limit must be a positive integer, got %q", raw))
		}
		limit = n
	}
	if limit > maxDecisionLimit {
		limit = maxDecisionLimit
	}
	events, err := h.decisions.Recent(c.Request().Context(), c.QueryParam("symbol"), limit)
	if err != nil {
		h.logger.Error("read decision log failed", applogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("decision log unavailable").WithError(err))
	}
	if events == nil {
		events = []models.DecisionEvent{}
	}
	return xhttp.DataResponse(c, http.StatusOK, events)
}

func (h *RLHandler) Metrics(c echo.Context) error {
	return xhttp.JSONResponse(c, h.state.Performance())
}

func (h *RLHandler) GetParams(c echo.Context) error {
	return xhttp.JSONResponse(c, h.state.Params())
}

func (h *RLHandler) UpdateParams(c echo.Context) error {
	req := &models.ParamsUpdate{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	params := h.state.UpdateParams(c.Request().Context(), *req)
	h.logger.Info("parameters updated",
		applogger.Float64("learning_rate", params.LearningRate),
		applogger.Float64("gamma", params.Gamma),
		applogger.Int("batch_size", params.BatchSize),
		applogger.Int("total_timesteps", params.TotalTimesteps),
		applogger.String("algorithm", params.Algorithm),
	)
	return xhttp.JSONResponse(c, map[string]interface{}{"success": true, "params": params})
}

func (h *RLHandler) Train(c echo.Context) error {
	req := &models.TrainRequest{}
	if c.Request().ContentLength != 0 {
		if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
			return xhttp.BadRequestResponse(c, verr)
		}
	}
	id, err := h.training.Start(c.Request().Context(), *req)
	if errors.Is(err, usecase.ErrTrainingInProgress) {
		return xhttp.AppErrorResponse(c, xhttp.ConflictError("Training already in progress"))
	}
	if err != nil {
		h.logger.Error("start training failed", applogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("training could not be scheduled").WithError(err))
	}
	return xhttp.JSONResponse(c, models.TrainResponse{JobID: id})
}

func (h *RLHandler) UpdateModel(c echo.Context) error {
	req := &struct {
		Symbol string `json:"symbol" default:"BTC-USD" validate:"required"`
	}{}
	if c.Request().ContentLength != 0 {
		if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
			return xhttp.BadRequestResponse(c, verr)
		}
	} else {
		req.Symbol = "BTC-USD"
	}
	res, err := h.training.Update(c.Request().Context(), req.Symbol)
	if errors.Is(err, policy.ErrModelNotLoaded) {
		return xhttp.AppErrorResponse(c, xhttp.ConflictError("No model loaded"))
	}
	if err != nil {
		return xhttp.DataResponse(c, http.StatusUnprocessableEntity, res)
	}
	return xhttp.DataResponse(c, http.StatusOK, res)
}

func (h *RLHandler) Stop(c echo.Context) error {
	req := &models.StopRequest{}
	if c.Request().ContentLength != 0 {
		if err := c.Bind(req); err != nil {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestError("invalid stop request").WithError(err))
		}
	}
	return xhttp.JSONResponse(c, h.training.Stop(c.Request().Context(), req.Reason))
}

func (h *RLHandler) TrainingStatus(c echo.Context) error {
	return xhttp.JSONResponse(c, h.training.Status(c.Request().Context()))
}

func (h *RLHandler) TrainingJob(c echo.Context) error {
	job, err := h.training.Job(c.Request().Context(), c.Param("id"))
	if errors.Is(err, domrepo.ErrNotFound) {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("training job not found").WithParam("id", c.Param("id")))
	}
	if err != nil {
		h.logger.Error("load training job failed", applogger.String("job_id", c.Param("id")), applogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.DataResponse(c, http.StatusOK, job)
}

func (h *RLHandler) Simulate(c echo.Context) error {
	req := &models.SimulateRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	resp, err := h.simulate.Run(c.Request().Context(), *req)
	switch {
	case errors.Is(err, simulation.ErrInsufficientHistory), errors.Is(err, simulation.ErrInvalidSeries):
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
	case errors.Is(err, policy.ErrModelNotLoaded):
		return xhttp.AppErrorResponse(c, xhttp.ConflictError("No model loaded"))
	case err != nil:
		h.logger.Error("simulation failed", applogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("simulation failed").WithError(err))
	}
	return xhttp.DataResponse(c, http.StatusOK, resp)
}

var _ xhttp.Handler = (*RLHandler)(nil)
