package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/aescanero/unite/pkg/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// BatchItemResponse is one entry of a batch response, at the index of the
// request it answers
type BatchItemResponse struct {
	Index     int               `json:"index"`
	Execution *domain.Execution `json:"execution,omitempty"`
	Error     *ErrorDetail      `json:"error,omitempty"`
}

// HealthResponse reports worker pool health
type HealthResponse struct {
	Status    string      `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Workers   WorkerStats `json:"workers"`
}

// WorkerStats is the worker pool section of HealthResponse
type WorkerStats struct {
	Total  int `json:"total"`
	Idle   int `json:"idle"`
	Busy   int `json:"busy"`
	Queued int `json:"queued"`
}

// statusFor maps an error onto an HTTP status
func statusFor(err error) int {
	switch domain.ErrorCode(err) {
	case domain.CodeDefinitionNotFound, domain.CodeExecutionNotFound:
		return http.StatusNotFound
	case domain.CodeDefinitionInactive, domain.CodeInvalidTransition, domain.CodeDuplicateDefinition:
		return http.StatusConflict
	case domain.CodeInvalidRequest:
		return http.StatusBadRequest
	case domain.CodeOverloaded:
		return http.StatusServiceUnavailable
	case domain.CodeStepExecutionFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func errorDetail(err error) *ErrorDetail {
	return &ErrorDetail{
		Code:    domain.ErrorCode(err),
		Message: err.Error(),
	}
}

// writeError sends err in the error envelope. A non-nil execution, such as
// the FAILED record of a step failure, is carried as details.
func (s *Server) writeError(c *gin.Context, err error, execution *domain.Execution) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
	} else {
		s.logger.Debug("request rejected",
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Error(err))
	}

	detail := errorDetail(err)
	if execution != nil {
		detail.Details = execution
	}
	c.JSON(status, ErrorResponse{Error: *detail})
}

func (s *Server) badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error: ErrorDetail{
			Code:    domain.CodeInvalidRequest,
			Message: message,
		},
	})
}

// handleHealth reports healthy while the worker pool accepts work
func (s *Server) handleHealth(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Timestamp: time.Now()})
		return
	}

	status := s.health.GetStatus()
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: status.Timestamp,
		Workers: WorkerStats{
			Total:  status.TotalWorkers,
			Idle:   status.IdleWorkers,
			Busy:   status.BusyWorkers,
			Queued: status.Queued,
		},
	}
	if !status.Healthy {
		resp.Status = "unhealthy"
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// handleCreateExecution runs a workflow, synchronously unless async=true
func (s *Server) handleCreateExecution(c *gin.Context) {
	async := false
	if raw := c.Query("async"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			s.badRequest(c, "async must be a boolean")
			return
		}
		async = parsed
	}

	var req domain.ExecutionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.logger.Debug("invalid request", zap.Error(err))
		s.badRequest(c, err.Error())
		return
	}

	s.logger.Info("executing workflow",
		zap.String("definition_id", req.DefinitionID),
		zap.Bool("async", async))

	execution, err := s.service.CreateExecution(c.Request.Context(), &req, async)
	if err != nil {
		s.writeError(c, err, execution)
		return
	}

	if async {
		c.JSON(http.StatusAccepted, execution)
		return
	}
	c.JSON(http.StatusCreated, execution)
}

// handleCreateExecutionsBatch runs a list of workflows in parallel
func (s *Server) handleCreateExecutionsBatch(c *gin.Context) {
	var body []domain.ExecutionRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		s.badRequest(c, err.Error())
		return
	}
	reqs := make([]*domain.ExecutionRequest, len(body))
	for i := range body {
		reqs[i] = &body[i]
	}

	s.logger.Info("executing workflow batch", zap.Int("size", len(reqs)))

	outcomes, err := s.service.CreateExecutionsBatch(c.Request.Context(), reqs)
	if err != nil {
		s.writeError(c, err, nil)
		return
	}

	items := make([]BatchItemResponse, len(outcomes))
	for i, outcome := range outcomes {
		items[i] = BatchItemResponse{
			Index:     outcome.Index,
			Execution: outcome.Execution,
		}
		if outcome.Err != nil {
			items[i].Error = errorDetail(outcome.Err)
		}
	}

	c.JSON(http.StatusCreated, items)
}

// handleGetExecution returns one execution
func (s *Server) handleGetExecution(c *gin.Context) {
	execution, err := s.service.GetExecution(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err, nil)
		return
	}

	c.JSON(http.StatusOK, execution)
}

// handleListExecutions lists executions filtered by definitionId, status
// and caseId
func (s *Server) handleListExecutions(c *gin.Context) {
	filter := domain.ExecutionFilter{
		DefinitionID: c.Query("definitionId"),
		Status:       domain.ExecutionStatus(c.Query("status")),
		CaseID:       c.Query("caseId"),
	}

	executions, err := s.service.ListExecutions(c.Request.Context(), filter)
	if err != nil {
		s.writeError(c, err, nil)
		return
	}
	if executions == nil {
		executions = []*domain.Execution{}
	}

	c.JSON(http.StatusOK, executions)
}

// handleCancelExecution cancels a running or pending execution
func (s *Server) handleCancelExecution(c *gin.Context) {
	execution, err := s.service.CancelExecution(c.Request.Context(), c.Param("id"))
	if err != nil {
		// a rejected transition still reports the current record
		if errors.Is(err, domain.ErrInvalidTransition) {
			s.writeError(c, err, execution)
			return
		}
		s.writeError(c, err, nil)
		return
	}

	c.JSON(http.StatusOK, execution)
}

// handleCreateDefinition stores a new workflow definition
func (s *Server) handleCreateDefinition(c *gin.Context) {
	var req domain.DefinitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err.Error())
		return
	}

	definition, err := s.service.CreateDefinition(c.Request.Context(), &req)
	if err != nil {
		s.writeError(c, err, nil)
		return
	}

	c.JSON(http.StatusCreated, definition)
}

// handleListDefinitions lists definitions, optionally only active ones or
// those whose name contains search
func (s *Server) handleListDefinitions(c *gin.Context) {
	filter := domain.DefinitionFilter{Search: c.Query("search")}
	if raw := c.Query("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			s.badRequest(c, "active must be a boolean")
			return
		}
		filter.ActiveOnly = active
	}

	definitions, err := s.service.ListDefinitions(c.Request.Context(), filter)
	if err != nil {
		s.writeError(c, err, nil)
		return
	}
	if definitions == nil {
		definitions = []*domain.Definition{}
	}

	c.JSON(http.StatusOK, definitions)
}

// handleGetDefinition returns one definition
func (s *Server) handleGetDefinition(c *gin.Context) {
	definition, err := s.service.GetDefinition(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err, nil)
		return
	}

	c.JSON(http.StatusOK, definition)
}

// handleUpdateDefinition replaces a definition's editable fields
func (s *Server) handleUpdateDefinition(c *gin.Context) {
	var req domain.DefinitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err.Error())
		return
	}

	definition, err := s.service.UpdateDefinition(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		s.writeError(c, err, nil)
		return
	}

	c.JSON(http.StatusOK, definition)
}

func (s *Server) handleDeleteDefinition(c *gin.Context) {
	if err := s.service.DeleteDefinition(c.Request.Context(), c.Param("id")); err != nil {
		s.writeError(c, err, nil)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) handleActivateDefinition(c *gin.Context) {
	definition, err := s.service.ActivateDefinition(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err, nil)
		return
	}

	c.JSON(http.StatusOK, definition)
}

func (s *Server) handleDeactivateDefinition(c *gin.Context) {
	definition, err := s.service.DeactivateDefinition(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err, nil)
		return
	}

	c.JSON(http.StatusOK, definition)
}
