package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"hostlink-platform/internal/auth"
	"hostlink-platform/internal/earnings"
	"hostlink-platform/internal/pricing"
	"hostlink-platform/internal/rbac"
	"hostlink-platform/internal/rtc"
	"hostlink-platform/internal/signaling"
)

// PresenceReader answers "is this host reachable right now".
type PresenceReader interface {
	IsOnline(ctx context.Context, hostID string) (bool, error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth     *auth.Manager
	Calls    *signaling.Service
	Pricing  *pricing.Service
	Earnings *earnings.Service
	Presence PresenceReader
	Issuer   rtc.Issuer

	CredentialTTL time.Duration
}

/* ===================== AUTH ===================== */

type loginRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: identity is taken on faith; credential verification lives in the
// account service that fronts this API.
func (h Handlers) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.UserID == "" || req.Role == "" {
		fail(c, http.StatusBadRequest, "user_id and role required")
		return
	}
	switch req.Role {
	case rbac.RoleCustomer, rbac.RoleHost, rbac.RoleAdmin:
	default:
		fail(c, http.StatusBadRequest, "unknown role")
		return
	}

	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.Role)
	if err != nil {
		fail(c, http.StatusInternalServerError, "token issuance failed")
		return
	}
	ok(c, http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h Handlers) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		fail(c, http.StatusBadRequest, "refresh_token required")
		return
	}

	claims, err := h.Auth.Verify(req.RefreshToken, auth.TokenTypeRefresh, time.Now())
	if err != nil {
		fail(c, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), claims.UserID, claims.Role)
	if err != nil {
		fail(c, http.StatusInternalServerError, "token issuance failed")
		return
	}
	ok(c, http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

/* ===================== CALL REQUESTS ===================== */

type createCallRequestBody struct {
	HostID         string `json:"host_id"`
	CallType       string `json:"call_type"`
	PricePerMinute int64  `json:"price_per_minute_minor"`
	Message        string `json:"message,omitempty"`
}

func (h Handlers) CreateCallRequest(c *gin.Context) {
	customerID, err := auth.UserID(c.Request.Context())
	if err != nil {
		fail(c, http.StatusUnauthorized, "authentication required")
		return
	}

	var body createCallRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "invalid json")
		return
	}

	req, err := h.Calls.CreateRequest(c.Request.Context(), signaling.CreateRequestInput{
		CustomerID: customerID,
		HostID:     body.HostID,
		CallType:   signaling.CallType(body.CallType),
		RateMinor:  body.PricePerMinute,
		Message:    body.Message,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, gin.H{"call_request": req})
}

func (h Handlers) ListHostCallRequests(c *gin.Context) {
	reqs, err := h.Calls.ListPending(c.Request.Context(), c.Param("host_id"))
	if err != nil {
		failErr(c, err)
		return
	}
	if reqs == nil {
		reqs = []signaling.CallRequest{}
	}
	ok(c, http.StatusOK, gin.H{"call_requests": reqs})
}

type acceptCallRequestBody struct {
	ChannelName string `json:"channel_name,omitempty"`
}

func (h Handlers) AcceptCallRequest(c *gin.Context) {
	hostID, err := auth.UserID(c.Request.Context())
	if err != nil {
		fail(c, http.StatusUnauthorized, "authentication required")
		return
	}

	var body acceptCallRequestBody
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			fail(c, http.StatusBadRequest, "invalid json")
			return
		}
	}

	req, cred, err := h.Calls.Accept(c.Request.Context(), c.Param("id"), hostID, body.ChannelName)
	if errors.Is(err, rtc.ErrUnavailable) {
		// The accept is durable; only the join token is missing. Return the
		// request so the host can retry token issuance without re-accepting.
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{
			"success":      false,
			"message":      "credential service unavailable",
			"call_request": req,
		})
		return
	}
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"call_request": req, "credential": cred})
}

type rejectCallRequestBody struct {
	Reason string `json:"reason,omitempty"`
}

func (h Handlers) RejectCallRequest(c *gin.Context) {
	hostID, err := auth.UserID(c.Request.Context())
	if err != nil {
		fail(c, http.StatusUnauthorized, "authentication required")
		return
	}

	var body rejectCallRequestBody
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			fail(c, http.StatusBadRequest, "invalid json")
			return
		}
	}

	req, err := h.Calls.Reject(c.Request.Context(), c.Param("id"), hostID, body.Reason)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"call_request": req})
}

// CallRequestStatus is the authoritative poll endpoint for clients that
// missed the push notification.
func (h Handlers) CallRequestStatus(c *gin.Context) {
	uid := c.Query("uid")
	if uid == "" {
		uid, _ = auth.UserID(c.Request.Context())
	}

	res, err := h.Calls.Status(c.Request.Context(), c.Param("id"), uid)
	if errors.Is(err, rtc.ErrUnavailable) {
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{
			"success":      false,
			"message":      "credential service unavailable",
			"call_request": res.Request,
		})
		return
	}
	if err != nil {
		failErr(c, err)
		return
	}

	body := gin.H{"call_request": res.Request, "status": res.Request.Status}
	if res.Credential != nil {
		body["credential"] = res.Credential
	}
	ok(c, http.StatusOK, body)
}

/* ===================== CALL SESSIONS ===================== */

type startSessionBody struct {
	RequestID string `json:"request_id,omitempty"`

	CustomerID     string `json:"customer_id,omitempty"`
	HostID         string `json:"host_id,omitempty"`
	ChannelName    string `json:"channel_name,omitempty"`
	CallType       string `json:"call_type,omitempty"`
	PricePerMinute int64  `json:"price_per_minute_minor,omitempty"`
}

func (h Handlers) StartCallSession(c *gin.Context) {
	var body startSessionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "invalid json")
		return
	}

	sess, err := h.Calls.StartSession(c.Request.Context(), signaling.StartSessionInput{
		RequestID:   body.RequestID,
		CustomerID:  body.CustomerID,
		HostID:      body.HostID,
		ChannelName: body.ChannelName,
		CallType:    signaling.CallType(body.CallType),
		RateMinor:   body.PricePerMinute,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, gin.H{"call_session": sess})
}

type endSessionBody struct {
	DurationMinutes int `json:"duration_minutes"`
	Rating          int `json:"rating,omitempty"`
}

func (h Handlers) EndCallSession(c *gin.Context) {
	var body endSessionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "invalid json")
		return
	}

	sess, err := h.Calls.EndSession(c.Request.Context(), c.Param("id"), body.DurationMinutes, body.Rating)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"call_session": sess, "total_amount_minor": sess.TotalMinor})
}

func (h Handlers) CallHistory(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	sessions, err := h.Calls.CallHistory(c.Request.Context(), c.Param("user_id"), limit)
	if err != nil {
		failErr(c, err)
		return
	}
	if sessions == nil {
		sessions = []signaling.CallSession{}
	}
	ok(c, http.StatusOK, gin.H{"call_sessions": sessions})
}

/* ===================== EARNINGS ===================== */

func (h Handlers) EarningsSummary(c *gin.Context) {
	sum, err := h.Earnings.Summary(c.Request.Context(), c.Param("host_id"))
	if err != nil {
		if errors.Is(err, earnings.ErrInvalidRequest) {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"earnings": sum})
}

func (h Handlers) HostTransactions(c *gin.Context) {
	req := earnings.TransactionsRequest{HostID: c.Param("host_id")}

	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			fail(c, http.StatusBadRequest, "from must be RFC3339")
			return
		}
		req.From = t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			fail(c, http.StatusBadRequest, "to must be RFC3339")
			return
		}
		req.To = t
	}
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			req.Limit = n
		}
	}

	txns, err := h.Earnings.Transactions(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, earnings.ErrInvalidRequest) {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
		failErr(c, err)
		return
	}
	if txns == nil {
		txns = []signaling.Transaction{}
	}
	ok(c, http.StatusOK, gin.H{"transactions": txns})
}

/* ===================== HOST RATES ===================== */

func (h Handlers) GetHostRates(c *gin.Context) {
	rates, err := h.Pricing.ListRates(c.Request.Context(), c.Param("host_id"))
	if err != nil {
		failErr(c, err)
		return
	}
	if rates == nil {
		rates = []pricing.HostRate{}
	}
	ok(c, http.StatusOK, gin.H{"rates": rates})
}

type setRateBody struct {
	CallType       string `json:"call_type"`
	PricePerMinute int64  `json:"rate_per_minute_minor"`
	Currency       string `json:"currency,omitempty"`
}

func (h Handlers) SetHostRate(c *gin.Context) {
	var body setRateBody
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "invalid json")
		return
	}

	rate, err := h.Pricing.SetRate(c.Request.Context(), pricing.SetRateInput{
		HostID:             c.Param("host_id"),
		CallType:           signaling.CallType(body.CallType),
		RatePerMinuteMinor: body.PricePerMinute,
		Currency:           body.Currency,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"rate": rate})
}

/* ===================== PRESENCE ===================== */

func (h Handlers) HostPresence(c *gin.Context) {
	hostID := c.Param("host_id")
	if hostID == "" {
		fail(c, http.StatusBadRequest, "host_id required")
		return
	}
	if h.Presence == nil {
		ok(c, http.StatusOK, gin.H{"host_id": hostID, "online": false})
		return
	}
	online, err := h.Presence.IsOnline(c.Request.Context(), hostID)
	if err != nil {
		fail(c, http.StatusInternalServerError, "presence lookup failed")
		return
	}
	ok(c, http.StatusOK, gin.H{"host_id": hostID, "online": online})
}

/* ===================== RTC ===================== */

type rtcTokenBody struct {
	ChannelName string `json:"channel_name"`
	UID         string `json:"uid,omitempty"`
	Role        string `json:"role,omitempty"`
}

// IssueRTCToken mints a channel credential outside the call-request flow,
// e.g. for rejoining an interrupted call.
func (h Handlers) IssueRTCToken(c *gin.Context) {
	var body rtcTokenBody
	if err := c.ShouldBindJSON(&body); err != nil || body.ChannelName == "" {
		fail(c, http.StatusBadRequest, "channel_name required")
		return
	}

	uid := body.UID
	if uid == "" {
		uid, _ = auth.UserID(c.Request.Context())
	}
	role := rtc.Role(body.Role)
	if body.Role == "" {
		role = rtc.RoleSubscriber
	}
	if role != rtc.RolePublisher && role != rtc.RoleSubscriber {
		fail(c, http.StatusBadRequest, "role must be publisher or subscriber")
		return
	}

	cred, err := h.Issuer.Issue(c.Request.Context(), body.ChannelName, uid, role, h.CredentialTTL)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"credential": cred})
}
