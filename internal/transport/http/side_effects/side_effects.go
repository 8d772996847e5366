package sideeffects

import (
	"context"
	"net/http"

	"github.com/corray333/backend-labs/orderflow/internal/service/models/sideeffect"
	"github.com/corray333/backend-labs/orderflow/internal/transport/http/response"
)

type service interface {
	ListUnreconciled(ctx context.Context) ([]sideeffect.Marker, error)
}

// ListUnreconciled returns the side effects that failed or never finished.
func ListUnreconciled(w http.ResponseWriter, r *http.Request, service service) {
	markers, err := service.ListUnreconciled(r.Context())
	if err != nil {
		response.Error(w, err)

		return
	}

	response.JSON(w, http.StatusOK, markers)
}
