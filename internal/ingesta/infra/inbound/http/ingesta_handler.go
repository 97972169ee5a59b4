package http

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/davicafu/casillero/internal/ingesta/application"
	"github.com/davicafu/casillero/internal/ingesta/domain"
)

// IngestaHandler encapsula los endpoints HTTP de ingesta y consulta
type IngestaHandler struct {
	service *application.PipelineService
}

// NewIngestaHandler crea un nuevo IngestaHandler
func NewIngestaHandler(service *application.PipelineService) *IngestaHandler {
	return &IngestaHandler{service: service}
}

// ---------------- Handlers ----------------

// UploadArchivo endpoint POST /casillas/:id/archivos (multipart o API).
// La autorización depende del canal: con X-API-Key es canal api; sin ella es
// una subida manual (canal local) sin emisor asociado.
func (h *IngestaHandler) UploadArchivo(c *gin.Context) {
	casillaID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid casilla id"})
		return
	}

	arrival := &domain.Arrival{
		CasillaID:  casillaID,
		Canal:      domain.CanalLocal,
		ReceivedAt: time.Now().UTC(),
	}

	if apiKey := c.GetHeader("X-API-Key"); apiKey != "" {
		ec, err := h.service.AuthorizeAPIKey(c.Request.Context(), casillaID, apiKey)
		if err != nil {
			if errors.Is(err, domain.ErrSenderNotAuthorized) {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		emisorID := ec.EmisorID
		arrival.EmisorID = &emisorID
		arrival.Canal = domain.CanalAPI
	}

	file, header, err := c.Request.FormFile("archivo")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing 'archivo' form file"})
		return
	}
	defer file.Close()

	payload, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read uploaded file"})
		return
	}
	arrival.Filename = header.Filename
	arrival.Payload = payload

	exec, err := h.service.Process(c.Request.Context(), arrival)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrCasillaNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "casilla not found"})
		case errors.Is(err, domain.ErrCasillaInactive):
			c.JSON(http.StatusConflict, gin.H{"error": "casilla is not active"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusCreated, exec)
}

// GetExecution endpoint GET /ejecuciones/:id
func (h *IngestaHandler) GetExecution(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid execution id"})
		return
	}

	exec, err := h.service.GetExecution(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrExecutionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "execution not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, exec)
}

// ListExecutions endpoint GET /ejecuciones
func (h *IngestaHandler) ListExecutions(c *gin.Context) {
	var f domain.ExecutionFilter

	// --- Filtros desde query params ---
	if idStr := c.Query("casilla_id"); idStr != "" {
		if id, err := uuid.Parse(idStr); err == nil {
			f.CasillaID = &id
		}
	}
	if idStr := c.Query("emisor_id"); idStr != "" {
		if id, err := uuid.Parse(idStr); err == nil {
			f.EmisorID = &id
		}
	}
	if status := c.Query("estado"); status != "" {
		st := domain.ExecutionStatus(status)
		f.Status = &st
	}
	if sinceStr := c.Query("desde"); sinceStr != "" {
		if since, err := time.Parse(time.RFC3339, sinceStr); err == nil {
			f.Since = &since
		}
	}

	// --- Paginación ---
	f.Limit = 50
	if limitStr := c.Query("limit"); limitStr != "" {
		if v, err := strconv.Atoi(limitStr); err == nil && v > 0 {
			f.Limit = v
		}
	}
	if offsetStr := c.Query("offset"); offsetStr != "" {
		if v, err := strconv.Atoi(offsetStr); err == nil && v >= 0 {
			f.Offset = v
		}
	}

	execs, err := h.service.ListExecutions(c.Request.Context(), f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, execs)
}

// GetCasilla endpoint GET /casillas/:id
func (h *IngestaHandler) GetCasilla(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid casilla id"})
		return
	}

	casilla, err := h.service.GetCasilla(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrCasillaNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "casilla not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, casilla)
}
