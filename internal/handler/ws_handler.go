/*
Package handler provides the HTTP handler for websocket connection upgrading.

HandleWebSocket rate limits, validates the party and user parameters,
upgrades the connection, and starts the client's read/write pumps.
*/
package handler

import (
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"slopelink/internal/app/party"
	"slopelink/internal/pkg/errs"
	"slopelink/internal/pkg/limiter"
	"slopelink/internal/pkg/logx"
	"slopelink/internal/pkg/randx"
	"slopelink/internal/pkg/resp"
)

// HandleWebSocket creates an HTTP HandlerFunc to process websocket
// connection requests into a party.
func HandleWebSocket(upgrader websocket.Upgrader, rateLimiter *limiter.IPRateLimiter, deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}

		if ip == "" {
			ip = "unknown_ip"
		}

		if !rateLimiter.GetLimiter(ip).Allow() {
			logx.Warn("WebSocket connection rejected: Rate limit exceeded.", "ip", ip)
			resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		partyCode := chi.URLParam(r, "code")
		if !randx.IsValidPartyCode(partyCode) {
			logx.Warn("WebSocket request rejected: Invalid party code")
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		query := r.URL.Query()
		userID := query.Get("uid")
		avatarURL := query.Get("av")

		if userID == "" {
			logx.Warn("WebSocket request rejected: Missing uid query parameter", "party_code", partyCode)
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		activeParty := deps.Manager.GetParty(partyCode)
		if activeParty == nil {
			logx.Info("WebSocket connection rejected: Party not found.", "party_code", partyCode)
			resp.RespondError(w, r, errs.NewError(errs.ErrPartyNotFound))
			return
		}
		if activeParty.IsFull(userID) {
			logx.Info("WebSocket connection rejected: Party is full.", "party_code", partyCode)
			resp.RespondError(w, r, errs.NewError(errs.ErrPartyIsFull))
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		client := party.NewClient(activeParty, conn, userID, avatarURL)

		go client.WritePump()

		logx.Info("WebSocket connection established", "member_id", userID, "party_code", partyCode)

		activeParty.RegisterClient(client)

		client.ReadPump()
	}
}
