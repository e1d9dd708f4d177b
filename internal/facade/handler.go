package facade

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"

	"github.com/ehrsync/ehrsync/internal/canonical"
	"github.com/ehrsync/ehrsync/internal/conflict"
	"github.com/ehrsync/ehrsync/internal/connection"
	"github.com/ehrsync/ehrsync/internal/gateway"
	"github.com/ehrsync/ehrsync/pkg/pagination"
)

// Handler exposes the facade over HTTP.
type Handler struct {
	facade *Facade
}

func NewHandler(f *Facade) *Handler {
	return &Handler{facade: f}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/providers", h.ListProviders)
	api.GET("/providers/:provider/patients", h.SearchPatients)

	api.POST("/patients/:patientID/connections", h.InitializeConnection)
	api.GET("/patients/:patientID/connections", h.ListConnections)
	api.GET("/patients/:patientID/connections/:provider", h.GetConnectionStatus)
	api.DELETE("/patients/:patientID/connections/:provider", h.Disconnect)
	api.POST("/patients/:patientID/connections/:provider/sync", h.SyncPatientData)

	remote := api.Group("/patients/:patientID/remote/:provider")
	remote.GET("/patient", h.GetPatient)
	remote.GET("/encounters", h.GetEncounters)
	remote.GET("/observations", h.GetObservations)
	remote.GET("/medications", h.GetMedications)
	remote.GET("/allergies", h.GetAllergies)
	remote.GET("/conditions", h.GetConditions)

	api.GET("/conflicts", h.ListConflicts)
	api.POST("/conflicts/:id/resolve", h.ResolveConflict)
	api.POST("/conflicts/:id/ignore", h.IgnoreConflict)
	api.POST("/conflicts/:id/review", h.EscalateConflict)
}

func patientIDParam(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("patientID"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	return id, nil
}

func providerParam(c echo.Context) (canonical.Provider, error) {
	p := canonical.Provider(c.Param("provider"))
	if !p.Valid() {
		return "", echo.NewHTTPError(http.StatusBadRequest, "unknown provider")
	}
	return p, nil
}

// httpError maps domain errors to transport codes. Vendor response bodies
// never reach API clients.
func httpError(err error) error {
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr
	}
	var statusErr *gateway.StatusError
	switch {
	case errors.Is(err, connection.ErrSyncInProgress):
		return echo.NewHTTPError(http.StatusConflict, "sync already in progress")
	case errors.Is(err, connection.ErrNoConnection):
		return echo.NewHTTPError(http.StatusNotFound, "no connection for patient and provider")
	case errors.Is(err, ErrProviderNotConfigured):
		return echo.NewHTTPError(http.StatusNotFound, "provider is not configured")
	case errors.Is(err, pgx.ErrNoRows):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	case errors.As(err, &statusErr):
		return echo.NewHTTPError(http.StatusBadGateway, "vendor request failed")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func (h *Handler) ListProviders(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{"providers": h.facade.Providers()})
}

func (h *Handler) SearchPatients(c echo.Context) error {
	provider, err := providerParam(c)
	if err != nil {
		return err
	}
	query := c.QueryParam("q")
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query parameter q is required")
	}
	hits, err := h.facade.SearchPatients(c.Request().Context(), provider, query)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": hits, "total": len(hits)})
}

type initializeRequest struct {
	Provider        string `json:"provider"`
	VendorPatientID string `json:"vendor_patient_id"`
	CredentialRef   string `json:"credential_ref"`
}

func (h *Handler) InitializeConnection(c echo.Context) error {
	patientID, err := patientIDParam(c)
	if err != nil {
		return err
	}
	var req initializeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	provider := canonical.Provider(req.Provider)
	if !provider.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown provider")
	}
	conn, err := h.facade.InitializeConnection(c.Request().Context(), patientID, provider, req.VendorPatientID, req.CredentialRef)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, conn)
}

func (h *Handler) ListConnections(c echo.Context) error {
	patientID, err := patientIDParam(c)
	if err != nil {
		return err
	}
	conns, err := h.facade.ListConnections(c.Request().Context(), patientID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": conns, "total": len(conns)})
}

func (h *Handler) GetConnectionStatus(c echo.Context) error {
	patientID, err := patientIDParam(c)
	if err != nil {
		return err
	}
	provider, err := providerParam(c)
	if err != nil {
		return err
	}
	conn, err := h.facade.GetConnectionStatus(c.Request().Context(), patientID, provider)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, conn)
}

func (h *Handler) Disconnect(c echo.Context) error {
	patientID, err := patientIDParam(c)
	if err != nil {
		return err
	}
	provider, err := providerParam(c)
	if err != nil {
		return err
	}
	if err := h.facade.Disconnect(c.Request().Context(), patientID, provider); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) SyncPatientData(c echo.Context) error {
	patientID, err := patientIDParam(c)
	if err != nil {
		return err
	}
	provider, err := providerParam(c)
	if err != nil {
		return err
	}
	direction, err := ParseDirection(c.QueryParam("direction"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	result, err := h.facade.SyncPatientData(c.Request().Context(), patientID, provider, direction)
	if err != nil {
		return httpError(err)
	}
	status := http.StatusOK
	if !result.Success {
		// Partial results still carry what synced; the status signals review.
		status = http.StatusMultiStatus
	}
	return c.JSON(status, result)
}

func (h *Handler) GetPatient(c echo.Context) error {
	return h.remoteOne(c, h.facade.GetPatient)
}

func (h *Handler) GetEncounters(c echo.Context) error {
	return h.remoteList(c, h.facade.GetEncounters)
}

func (h *Handler) GetObservations(c echo.Context) error {
	return h.remoteList(c, h.facade.GetObservations)
}

func (h *Handler) GetMedications(c echo.Context) error {
	return h.remoteList(c, h.facade.GetMedications)
}

func (h *Handler) GetAllergies(c echo.Context) error {
	return h.remoteList(c, h.facade.GetAllergies)
}

func (h *Handler) GetConditions(c echo.Context) error {
	return h.remoteList(c, h.facade.GetConditions)
}

func (h *Handler) remoteOne(c echo.Context, fn func(context.Context, uuid.UUID, canonical.Provider) (map[string]interface{}, error)) error {
	patientID, err := patientIDParam(c)
	if err != nil {
		return err
	}
	provider, err := providerParam(c)
	if err != nil {
		return err
	}
	item, err := fn(c.Request().Context(), patientID, provider)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, item)
}

func (h *Handler) remoteList(c echo.Context, fn func(context.Context, uuid.UUID, canonical.Provider) ([]map[string]interface{}, error)) error {
	patientID, err := patientIDParam(c)
	if err != nil {
		return err
	}
	provider, err := providerParam(c)
	if err != nil {
		return err
	}
	items, err := fn(c.Request().Context(), patientID, provider)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items, "total": len(items)})
}

func (h *Handler) ListConflicts(c echo.Context) error {
	p := pagination.FromContext(c)
	conflicts, total, err := h.facade.ListPendingConflicts(c.Request().Context(), p.Limit, p.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(conflicts, total, p.Limit, p.Offset))
}

type resolveRequest struct {
	Strategy   string `json:"strategy"`
	MergeHint  string `json:"merge_hint"`
	Resolver   string `json:"resolver"`
	ResolvedBy string `json:"resolved_by"`
	Reason     string `json:"reason"`
}

func (h *Handler) ResolveConflict(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid conflict id")
	}
	var req resolveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Strategy == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "strategy is required")
	}
	result, err := h.facade.ResolveConflict(c.Request().Context(), id, conflict.Strategy(req.Strategy), conflict.ResolveOptions{
		MergeHint:    conflict.MergeHint(req.MergeHint),
		ResolverName: req.Resolver,
		ResolvedBy:   req.ResolvedBy,
		Reason:       req.Reason,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return echo.NewHTTPError(http.StatusNotFound, "conflict not found")
		}
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	if !result.Success {
		return c.JSON(http.StatusUnprocessableEntity, result)
	}
	return c.JSON(http.StatusOK, result)
}

type ignoreRequest struct {
	By     string `json:"by"`
	Reason string `json:"reason"`
}

func (h *Handler) IgnoreConflict(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid conflict id")
	}
	var req ignoreRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cf, err := h.facade.IgnoreConflict(c.Request().Context(), id, req.By, req.Reason)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return echo.NewHTTPError(http.StatusNotFound, "conflict not found")
		}
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.JSON(http.StatusOK, cf)
}

func (h *Handler) EscalateConflict(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid conflict id")
	}
	cf, err := h.facade.EscalateConflict(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return echo.NewHTTPError(http.StatusNotFound, "conflict not found")
		}
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.JSON(http.StatusOK, cf)
}
