/*
Package handler provides HTTP handler functions for party creation and joining.
*/
package handler

import (
	"net/http"

	"slopelink/internal/pkg/errs"
	"slopelink/internal/pkg/randx"
	"slopelink/internal/pkg/req"
	"slopelink/internal/pkg/resp"
)

// HandleCreateParty creates an HTTP HandlerFunc that opens a new party and
// returns its join code.
func HandleCreateParty(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		partyCode, err := randx.PartyCode()
		if err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		newParty, createErr := deps.Manager.CreateParty(partyCode)
		if createErr != nil {
			resp.RespondError(w, r, createErr)
			return
		}

		data := map[string]any{
			"partyCode":  newParty.Code,
			"maxMembers": newParty.MaxMembers,
		}
		resp.RespondSuccess(w, r, data)
	}
}

type JoinPartyInput struct {
	Code   string `json:"code"`
	UserID string `json:"userId"`
}

// HandleJoinParty validates a join request against the active party. The
// websocket upgrade on /ws/{code} performs the actual registration; this
// endpoint lets the client fail fast on an unknown code or a full party.
func HandleJoinParty(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input JoinPartyInput
		if customErr := req.BindJSON(r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		if !randx.IsValidPartyCode(input.Code) || input.UserID == "" {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		activeParty := deps.Manager.GetParty(input.Code)
		if activeParty == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrPartyNotFound))
			return
		}

		if activeParty.IsFull(input.UserID) {
			resp.RespondError(w, r, errs.NewError(errs.ErrPartyIsFull))
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"partyCode":  activeParty.Code,
			"maxMembers": activeParty.MaxMembers,
		})
	}
}
