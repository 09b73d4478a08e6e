package handlers

import (
	"net/http"
	"strings"

	"github.com/akolanti/kbchat/internal/api"
)

// GetCreditsHandler godoc
// @Summary      The caller's credit balance
// @Tags         Credits
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  api.CreditResponse
// @Router       /credits [get]
func GetCreditsHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	balance, err := deps.Credits.Balance(r.Context(), caller.UserId)
	if err != nil {
		writeDomainError(w, r, caller.UserId, err)
		return
	}
	writeJsonResponse(w, http.StatusOK, api.CreditResponse{OwnerId: caller.UserId, Balance: balance})
}

// GrantCreditsHandler godoc
// @Summary      Grant credits to an owner
// @Description  Billing hook. Requires the admin token.
// @Tags         Credits
// @Accept       json
// @Produce      json
// @Security     AdminAuth
// @Param        request  body      api.GrantCreditsRequest  true  "Owner and amount"
// @Success      200      {object}  api.CreditResponse
// @Failure      400      {object}  api.ErrorResponse
// @Router       /admin/credits [post]
func GrantCreditsHandler(w http.ResponseWriter, r *http.Request) {
	var req api.GrantCreditsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.OwnerId = strings.TrimSpace(req.OwnerId)
	if req.OwnerId == "" || req.Amount <= 0 {
		WriteErrorResponse(w, http.StatusBadRequest, req.OwnerId, "owner_id and a positive amount are required")
		return
	}
	balance, err := deps.Credits.Grant(r.Context(), req.OwnerId, req.Amount)
	if err != nil {
		writeDomainError(w, r, req.OwnerId, err)
		return
	}
	requestLogger(r).Info("Credits granted", "ownerId", req.OwnerId, "amount", req.Amount, "balance", balance)
	writeJsonResponse(w, http.StatusOK, api.CreditResponse{OwnerId: req.OwnerId, Balance: balance})
}
