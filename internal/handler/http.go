package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"novel-engine/internal/middleware"
	"novel-engine/internal/models"
	"novel-engine/internal/service"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// HealthChecker проверяет доступность хранилища.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// ProgressionHandler обрабатывает HTTP-запросы игрового API.
type ProgressionHandler struct {
	service     service.ProgressionService
	health      HealthChecker
	verifier    middleware.TokenVerifier
	devEnabled  bool
	defaultLang string
	logger      *zap.Logger
}

// NewProgressionHandler создает обработчик. devEnabled открывает /api/dev/*.
func NewProgressionHandler(s service.ProgressionService, health HealthChecker, verifier middleware.TokenVerifier, devEnabled bool, defaultLang string, logger *zap.Logger) *ProgressionHandler {
	return &ProgressionHandler{
		service:     s,
		health:      health,
		verifier:    verifier,
		devEnabled:  devEnabled,
		defaultLang: defaultLang,
		logger:      logger.Named("ProgressionHandler"),
	}
}

// RegisterRoutes регистрирует маршруты.
func (h *ProgressionHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/api/health", h.healthCheck)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api", middleware.JWTAuthMiddleware(h.verifier, h.logger))
	{
		api.GET("/state", h.getState)
		api.POST("/choose", h.choose)
		api.POST("/restart", h.restart)
		api.POST("/item/buy", h.buyItem)
		api.POST("/age/confirm", h.confirmAge)
	}
	if h.devEnabled {
		api.POST("/dev/grant", h.grant)
		h.logger.Warn("Dev endpoints are enabled")
	}
}

func (h *ProgressionHandler) healthCheck(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()
	if err := h.health.Ping(ctx); err != nil {
		h.logger.Error("Health check failed", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *ProgressionHandler) getState(c echo.Context) error {
	player, ok := middleware.PlayerKey(c)
	if !ok {
		return h.handleServiceError(c, models.ErrUnauthorized)
	}
	storyCode := strings.TrimSpace(c.QueryParam("story"))
	if storyCode == "" {
		return badRequest(c, "story query parameter is required")
	}

	view, err := h.service.GetState(c.Request().Context(), player, storyCode, h.language(c, c.QueryParam("lang")))
	if err != nil {
		return h.handleServiceError(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *ProgressionHandler) choose(c echo.Context) error {
	player, ok := middleware.PlayerKey(c)
	if !ok {
		return h.handleServiceError(c, models.ErrUnauthorized)
	}
	var req ChooseRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	view, err := h.service.Choose(c.Request().Context(), player, req.Story, req.Choice, h.language(c, req.Lang))
	if err != nil {
		return h.handleServiceError(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *ProgressionHandler) restart(c echo.Context) error {
	player, ok := middleware.PlayerKey(c)
	if !ok {
		return h.handleServiceError(c, models.ErrUnauthorized)
	}
	var req RestartRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	view, err := h.service.Restart(c.Request().Context(), player, req.Story, h.language(c, req.Lang))
	if err != nil {
		return h.handleServiceError(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *ProgressionHandler) buyItem(c echo.Context) error {
	player, ok := middleware.PlayerKey(c)
	if !ok {
		return h.handleServiceError(c, models.ErrUnauthorized)
	}
	var req BuyItemRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	view, err := h.service.BuyItem(c.Request().Context(), player, req.Story, req.ItemCode, req.PriceGems, h.language(c, req.Lang))
	if err != nil {
		return h.handleServiceError(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *ProgressionHandler) confirmAge(c echo.Context) error {
	player, ok := middleware.PlayerKey(c)
	if !ok {
		return h.handleServiceError(c, models.ErrUnauthorized)
	}
	var req AgeConfirmRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.service.SetAgeConsent(c.Request().Context(), player, *req.Agree); err != nil {
		return h.handleServiceError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"age_confirmed": *req.Agree})
}

func (h *ProgressionHandler) grant(c echo.Context) error {
	player, ok := middleware.PlayerKey(c)
	if !ok {
		return h.handleServiceError(c, models.ErrUnauthorized)
	}
	var req GrantRequestDTO
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	w, err := h.service.GrantResources(c.Request().Context(), player, models.GrantRequest{
		Energy:      req.Energy,
		Gems:        req.Gems,
		Premium:     req.Premium,
		PremiumDays: req.PremiumDays,
	})
	if err != nil {
		return h.handleServiceError(c, err)
	}

	resp := WalletResponse{Energy: w.Energy, Gems: w.Gems}
	if w.PremiumUntil != nil {
		resp.PremiumUntil = w.PremiumUntil.UTC().Format(time.RFC3339)
	}
	return c.JSON(http.StatusOK, resp)
}

// --- Вспомогательные функции --- //

func (h *ProgressionHandler) bind(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return errors.New("invalid request body")
	}
	return c.Validate(req)
}

// language выбирает язык: запрос, затем claim токена, затем язык по умолчанию.
func (h *ProgressionHandler) language(c echo.Context, requested string) string {
	if lang := strings.TrimSpace(requested); lang != "" {
		return lang
	}
	if lang, ok := c.Get(middleware.LanguageContextKey).(string); ok && lang != "" {
		return lang
	}
	return h.defaultLang
}

func badRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, APIError{Code: "invalid_input", Message: message})
}

func (h *ProgressionHandler) handleServiceError(c echo.Context, err error) error {
	var (
		statusCode int
		apiErr     APIError
		gate       *models.GateError
	)

	switch {
	case errors.As(err, &gate):
		statusCode = http.StatusBadRequest
		apiErr = gateError(gate)
	case errors.Is(err, models.ErrUnauthorized):
		statusCode = http.StatusUnauthorized
		apiErr = APIError{Code: "unauthorized", Message: "Unauthorized"}
	case errors.Is(err, models.ErrStoryNotFound):
		statusCode = http.StatusNotFound
		apiErr = APIError{Code: "story_not_found", Message: err.Error()}
	case errors.Is(err, models.ErrSceneNotFound):
		statusCode = http.StatusNotFound
		apiErr = APIError{Code: "scene_not_found", Message: err.Error()}
	case errors.Is(err, models.ErrNotFound):
		statusCode = http.StatusNotFound
		apiErr = APIError{Code: "not_found", Message: err.Error()}
	case errors.Is(err, models.ErrInvalidChoice):
		statusCode = http.StatusBadRequest
		apiErr = APIError{Code: "invalid_choice", Message: err.Error()}
	case errors.Is(err, models.ErrPriceMismatch):
		statusCode = http.StatusBadRequest
		apiErr = APIError{Code: "price_mismatch", Message: err.Error()}
	case errors.Is(err, models.ErrInvalidInput):
		statusCode = http.StatusBadRequest
		apiErr = APIError{Code: "invalid_input", Message: err.Error()}
	case errors.Is(err, models.ErrTxConflict):
		statusCode = http.StatusServiceUnavailable
		apiErr = APIError{Code: "tx_conflict", Message: "Please retry"}
	case errors.Is(err, models.ErrStorageUnavailable):
		statusCode = http.StatusServiceUnavailable
		apiErr = APIError{Code: "storage_unavailable", Message: "Storage is temporarily unavailable"}
	default:
		statusCode = http.StatusInternalServerError
		apiErr = APIError{Code: "internal_error", Message: "Internal server error"}
	}

	if statusCode >= http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.JSON(statusCode, apiErr)
}

func gateError(gate *models.GateError) APIError {
	apiErr := APIError{Message: gate.Error()}
	switch {
	case errors.Is(gate.Kind, models.ErrItemRequired):
		apiErr.Code = "item_required"
		price := gate.PriceGems
		apiErr.ItemCode = gate.ItemCode
		apiErr.PriceGems = &price
	case errors.Is(gate.Kind, models.ErrGemsRequired):
		apiErr.Code = "gems_required"
	case errors.Is(gate.Kind, models.ErrEnergyRequired):
		apiErr.Code = "energy_required"
	case errors.Is(gate.Kind, models.ErrPremiumRequired):
		apiErr.Code = "premium_required"
	default:
		apiErr.Code = "gate_rejected"
	}
	if gate.Required > 0 {
		available := gate.Available
		apiErr.Required = gate.Required
		apiErr.Available = &available
	}
	return apiErr
}
