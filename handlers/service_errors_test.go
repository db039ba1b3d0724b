package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/grc-control-plane/models"
	"github.com/upb/grc-control-plane/services"
	"github.com/upb/grc-control-plane/utils"
	"go.uber.org/zap"
)

func TestHandleServiceError(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedError  string
	}{
		{"not found", services.ErrPlanNotFound, http.StatusNotFound, "not_found"},
		{"validation", services.ErrInvalidInput, http.StatusBadRequest, "bad_request"},
		{"missing context", services.ErrMissingContext, http.StatusUnauthorized, "unauthorized"},
		{"policy violation", services.ErrPolicyViolation, http.StatusForbidden, "forbidden"},
		{"conflict", services.ErrConflict, http.StatusConflict, "conflict"},
		{"duplicate plan code", services.ErrDuplicatePlanCode, http.StatusConflict, "conflict"},
		{"invalid transition", services.ErrInvalidTransition, http.StatusUnprocessableEntity, "unprocessable_entity"},
		{"invalid progress", services.ErrInvalidProgress, http.StatusUnprocessableEntity, "unprocessable_entity"},
		{"internal", services.ErrRulesNotLoaded, http.StatusInternalServerError, "internal_error"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			HandleServiceError(w, tt.err, logger)

			assert.Equal(t, tt.expectedStatus, w.Code)

			var resp utils.ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Equal(t, tt.expectedError, resp.Error)
		})
	}
}

func TestHandleServiceError_InternalMessageIsGeneric(t *testing.T) {
	w := httptest.NewRecorder()
	HandleServiceError(w, services.WrapInternal("load plan", errors.New("pq: connection refused")), zap.NewNop())

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "connection refused")
}

func TestHandleServiceError_ViolationDetails(t *testing.T) {
	err := services.NewPolicyViolationError("actor is not the owner", []models.PolicyViolation{{
		RuleID:          "ownership.owner-or-elevated",
		Message:         "actor is not the owner",
		RemediationHint: "ask the owner or a compliance officer",
		Severity:        models.SeverityBlocking,
	}})

	w := httptest.NewRecorder()
	HandleServiceError(w, err, zap.NewNop())
	require.Equal(t, http.StatusForbidden, w.Code)

	var resp struct {
		Details struct {
			Violations []models.PolicyViolation `json:"violations"`
		} `json:"details"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Details.Violations, 1)
	assert.Equal(t, "ownership.owner-or-elevated", resp.Details.Violations[0].RuleID)
	assert.NotEmpty(t, resp.Details.Violations[0].RemediationHint)
}

func TestHandleServiceError_Nil(t *testing.T) {
	w := httptest.NewRecorder()
	HandleServiceError(w, nil, zap.NewNop())
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
}
