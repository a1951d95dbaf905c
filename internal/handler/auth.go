package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/piewallah/pw-gateway/internal/auth"
	"github.com/piewallah/pw-gateway/internal/config"
	"github.com/piewallah/pw-gateway/internal/fetch"
	"github.com/piewallah/pw-gateway/internal/logging"
	"github.com/piewallah/pw-gateway/internal/middleware"
	"github.com/piewallah/pw-gateway/internal/model"
)

// Upstream auth paths of the learning platform.
const (
	upstreamOTPPath     = "/v1/users/get-otp"
	upstreamTokenPath   = "/v3/oauth/token"
	upstreamRefreshPath = "/v3/oauth/refresh-token"
	upstreamLogoutPath  = "/v1/oauth/logout"
)

// Caller performs one upstream exchange. *fetch.Client satisfies it.
type Caller interface {
	Do(ctx context.Context, req model.RequestContext) (*fetch.Response, error)
}

// AuthHandler runs the token exchanges server side so the OAuth client
// credentials never leave the gateway.
type AuthHandler struct {
	Cfg      config.Config
	Upstream Caller
	Events   auth.EventPublisher
	Log      logrus.FieldLogger
	Now      func() time.Time
}

func NewAuthHandler(cfg config.Config, upstream Caller, events auth.EventPublisher, log logrus.FieldLogger) *AuthHandler {
	if log == nil {
		log = logging.Discard()
	}
	return &AuthHandler{Cfg: cfg, Upstream: upstream, Events: events, Log: log, Now: time.Now}
}

// ----- DTOs -----

type otpReq struct {
	Phone       string `json:"phone"`
	CountryCode string `json:"countryCode"`
}
type tokenReq struct {
	Phone string `json:"phone"`
	OTP   string `json:"otp"`
}
type refreshReq struct {
	RefreshToken string `json:"refresh_token"`
}

// SendOTP asks the platform to text a one-time password.
func (h *AuthHandler) SendOTP(c echo.Context) error {
	var req otpReq
	if err := c.Bind(&req); err != nil {
		return failJSON(c, http.StatusBadRequest, "invalid body")
	}
	req.Phone = strings.TrimSpace(req.Phone)
	if req.Phone == "" {
		return failJSON(c, http.StatusBadRequest, "phone is required")
	}
	if req.CountryCode == "" {
		req.CountryCode = "+91"
	}

	rc := model.RequestContext{
		Method:     http.MethodPost,
		TargetPath: upstreamOTPPath,
		Body: map[string]string{
			"username":       req.Phone,
			"countryCode":    req.CountryCode,
			"organizationId": h.Cfg.OrganizationID,
		},
		Anonymous: true,
	}
	rc.SetQuery("smsType", "0")
	if _, err := h.Upstream.Do(c.Request().Context(), rc); err != nil {
		h.Log.WithError(err).Warn("auth: otp request failed")
		return upstreamFailure(c, err)
	}
	h.publish(c.Request().Context(), model.EventOTPSent, "phone:"+logging.TokenDigest(req.Phone), "")
	return c.JSON(http.StatusOK, echo.Map{"success": true})
}

// Token exchanges a phone number and OTP for a token pair.
func (h *AuthHandler) Token(c echo.Context) error {
	var req tokenReq
	if err := c.Bind(&req); err != nil {
		return failJSON(c, http.StatusBadRequest, "invalid body")
	}
	req.Phone, req.OTP = strings.TrimSpace(req.Phone), strings.TrimSpace(req.OTP)
	if req.Phone == "" {
		return failJSON(c, http.StatusBadRequest, "phone is required")
	}
	if req.OTP == "" {
		return failJSON(c, http.StatusBadRequest, "otp is required")
	}

	grant, err := h.exchange(c.Request().Context(), upstreamTokenPath, map[string]string{
		"username":       req.Phone,
		"otp":            req.OTP,
		"client_id":      h.Cfg.ClientID,
		"client_secret":  h.Cfg.ClientSecret,
		"grant_type":     "password",
		"organizationId": h.Cfg.OrganizationID,
	}, "")
	if err != nil {
		return upstreamFailure(c, err)
	}
	h.publish(c.Request().Context(), model.EventLogin, grantSubject(grant), "")
	return c.JSON(http.StatusOK, grant)
}

// Refresh exchanges a refresh token. The caller's current bearer, when
// sent, is forwarded because the platform ties refreshes to it.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
		return failJSON(c, http.StatusBadRequest, "refresh_token is required")
	}
	bearer, _ := bearerToken(c)

	grant, err := h.exchange(c.Request().Context(), upstreamRefreshPath, map[string]string{
		"refresh_token": strings.TrimSpace(req.RefreshToken),
		"client_id":     h.Cfg.ClientID,
		"client_secret": h.Cfg.ClientSecret,
	}, bearer)
	if err != nil {
		h.publish(c.Request().Context(), model.EventForcedLogout, "refresh:"+logging.TokenDigest(req.RefreshToken), "refresh-rejected")
		return upstreamFailure(c, err)
	}
	h.publish(c.Request().Context(), model.EventRefresh, grantSubject(grant), "")
	return c.JSON(http.StatusOK, grant)
}

// Logout revokes the session upstream. The local session is the caller's
// to clear; this endpoint always answers 204 once the request is valid.
func (h *AuthHandler) Logout(c echo.Context) error {
	bearer, ok := bearerToken(c)
	var req refreshReq
	_ = c.Bind(&req)
	if !ok && req.RefreshToken == "" {
		return failJSON(c, http.StatusBadRequest, "provide Authorization header or refresh_token")
	}
	if ok {
		_, err := h.Upstream.Do(c.Request().Context(), model.RequestContext{
			Method:       http.MethodPost,
			TargetPath:   upstreamLogoutPath,
			Body:         map[string]string{"refresh_token": req.RefreshToken},
			ExtraHeaders: http.Header{"Authorization": []string{"Bearer " + bearer}},
			Anonymous:    true,
		})
		if err != nil {
			h.Log.WithError(err).Debug("auth: upstream logout failed")
		}
	}
	subject := "refresh:" + logging.TokenDigest(req.RefreshToken)
	if ok {
		subject = logging.TokenDigest(bearer)
		if sub, _ := c.Get(middleware.KeyUserID).(string); sub != "" {
			subject = sub
		}
	}
	h.publish(c.Request().Context(), model.EventLogout, subject, "")
	return c.NoContent(http.StatusNoContent)
}

func (h *AuthHandler) exchange(ctx context.Context, path string, body map[string]string, bearer string) (model.TokenGrant, error) {
	rc := model.RequestContext{
		Method:     http.MethodPost,
		TargetPath: path,
		Body:       body,
		Anonymous:  true,
	}
	if bearer != "" {
		rc.ExtraHeaders = http.Header{"Authorization": []string{"Bearer " + bearer}}
	}
	res, err := h.Upstream.Do(ctx, rc)
	if err != nil {
		h.Log.WithError(err).WithField("path", path).Warn("auth: token exchange failed")
		return model.TokenGrant{}, err
	}
	grant, ok := NormalizeGrant(res.Raw, h.Now())
	if !ok {
		return model.TokenGrant{}, &fetch.Error{
			Kind:    fetch.KindHTTP,
			Status:  http.StatusBadGateway,
			Message: "token exchange returned no access token",
		}
	}
	return grant, nil
}

// NormalizeGrant reads the platform's token reply, which may or may not be
// wrapped in {data: ...}, into a TokenGrant. An expires_in that looks like
// an absolute epoch (seconds or milliseconds) is converted to a relative
// lifetime so the client always derives expiry from its own clock.
func NormalizeGrant(raw []byte, now time.Time) (model.TokenGrant, bool) {
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	payload := raw
	if json.Unmarshal(raw, &env) == nil && len(env.Data) > 0 && env.Data[0] == '{' {
		payload = env.Data
	}
	var g struct {
		AccessToken  string          `json:"access_token"`
		RefreshToken string          `json:"refresh_token"`
		ExpiresIn    json.Number     `json:"expires_in"`
		User         json.RawMessage `json:"user"`
	}
	if err := json.Unmarshal(payload, &g); err != nil || g.AccessToken == "" {
		return model.TokenGrant{}, false
	}
	exp, _ := g.ExpiresIn.Float64()
	sec := int64(exp)
	switch {
	case sec > 1e12: // epoch milliseconds
		sec = (sec - now.UnixMilli()) / 1000
	case sec > 1e9: // epoch seconds
		sec = sec - now.Unix()
	}
	if sec < 0 {
		sec = 0
	}
	return model.TokenGrant{
		AccessToken:  g.AccessToken,
		RefreshToken: g.RefreshToken,
		ExpiresIn:    sec,
		User:         g.User,
	}, true
}

func grantSubject(g model.TokenGrant) string {
	return auth.Subject(model.Credential{AccessToken: g.AccessToken, UserProfile: g.User})
}

func (h *AuthHandler) publish(ctx context.Context, t model.SessionEventType, subject, reason string) {
	if h.Events == nil {
		return
	}
	ev := model.SessionEvent{
		ID:         uuid.NewString(),
		Type:       t,
		Subject:    subject,
		Reason:     reason,
		Source:     "gateway",
		OccurredAt: h.Now().UTC(),
	}
	if err := h.Events.Publish(context.WithoutCancel(ctx), ev); err != nil {
		h.Log.WithError(err).WithField("event", t).Warn("auth: publish session event failed")
	}
}
