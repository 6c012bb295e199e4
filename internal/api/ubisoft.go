package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"r6-rolesync/internal/constants"
	"r6-rolesync/internal/rank"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

const ubiAppID = "39baebad-39e5-4552-8c25-2c9b919064e2"

// UbiClient talks to the official service using session-cookie style
// authentication: credentials are exchanged for a ticket + session id which
// accompany every request until the upstream rejects them.
type UbiClient struct {
	email    string
	password string
	baseURL  string
	client   *fasthttp.Client
	logger   zerolog.Logger

	sessionMu sync.Mutex
	session   *ubiSession

	requestCount atomic.Int64
}

type ubiSession struct {
	Ticket    string `json:"ticket"`
	SessionID string `json:"sessionId"`
	Expiry    string `json:"expiration"`
}

func NewUbiClient(email, password string, logger zerolog.Logger) *UbiClient {
	return &UbiClient{
		email:    email,
		password: password,
		baseURL:  "https://public-ubiservices.ubi.com",
		client: &fasthttp.Client{
			MaxConnsPerHost:     16,
			ReadTimeout:         10 * time.Second,
			WriteTimeout:        10 * time.Second,
			MaxIdleConnDuration: 1 * time.Minute,
		},
		logger: logger,
	}
}

// Authenticate exchanges credentials for a fresh session. Any existing
// session is torn down first so repeated calls never leak server-side
// sessions.
func (c *UbiClient) Authenticate(ctx context.Context) error {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	if c.session != nil {
		c.teardownSession(ctx, c.session)
		c.session = nil
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + "/v3/profiles/sessions")
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("Ubi-AppId", ubiAppID)
	creds := base64.StdEncoding.EncodeToString([]byte(c.email + ":" + c.password))
	req.Header.Set("Authorization", "Basic "+creds)

	if err := c.do(ctx, req, resp); err != nil {
		return fmt.Errorf("session request failed: %w", err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return fmt.Errorf("session request rejected: %d", resp.StatusCode())
	}

	var session ubiSession
	if err := json.Unmarshal(resp.Body(), &session); err != nil {
		return fmt.Errorf("failed to parse session response: %w", err)
	}

	c.session = &session
	c.logger.Info().Msg("authenticated with upstream session service")
	return nil
}

// teardownSession is best effort; a dead ticket is not worth failing over.
func (c *UbiClient) teardownSession(ctx context.Context, session *ubiSession) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + "/v3/profiles/sessions")
	req.Header.SetMethod(fasthttp.MethodDelete)
	req.Header.Set("Ubi-AppId", ubiAppID)
	req.Header.Set("Authorization", "Ubi_v1 t="+session.Ticket)
	req.Header.Set("Ubi-SessionId", session.SessionID)

	if err := c.do(ctx, req, resp); err != nil {
		c.logger.Debug().Err(err).Msg("ignoring error while closing old session")
	}
}

func (c *UbiClient) PlayerRank(ctx context.Context, handle, platform string) (Result, error) {
	return withReauth(ctx, c, c.logger, func(ctx context.Context) (Result, error) {
		profileID, found, err := c.lookupProfile(ctx, handle, platform)
		if err != nil {
			return Result{}, err
		}
		if !found {
			c.logger.Debug().Str("handle", handle).Msg("player not found")
			return Result{Found: false}, nil
		}

		rawRank, err := c.seasonalRank(ctx, profileID, platform)
		if err != nil {
			return Result{}, err
		}
		return Result{Rank: rank.Normalize(rawRank), Found: true}, nil
	})
}

func (c *UbiClient) HandleExists(ctx context.Context, handle, platform string) (bool, error) {
	return withReauth(ctx, c, c.logger, func(ctx context.Context) (bool, error) {
		_, found, err := c.lookupProfile(ctx, handle, platform)
		return found, err
	})
}

type ubiProfilesResponse struct {
	Profiles []struct {
		ProfileID      string `json:"profileId"`
		NameOnPlatform string `json:"nameOnPlatform"`
		PlatformType   string `json:"platformType"`
	} `json:"profiles"`
}

func (c *UbiClient) lookupProfile(ctx context.Context, handle, platform string) (string, bool, error) {
	url := fmt.Sprintf("%s/v3/profiles?nameOnPlatform=%s&platformType=%s",
		c.baseURL, handle, normalizePlatform(platform))

	result, err := c.authedRequest(ctx, url)
	if err != nil {
		return "", false, err
	}

	var profiles ubiProfilesResponse
	if err := json.Unmarshal(result, &profiles); err != nil {
		return "", false, fmt.Errorf("failed to parse profiles response: %w", err)
	}
	if len(profiles.Profiles) == 0 {
		return "", false, nil
	}
	return profiles.Profiles[0].ProfileID, true, nil
}

type ubiSeasonalResponse struct {
	SeasonalStats struct {
		Rank string `json:"rank"`
	} `json:"seasonal_stats"`
}

func (c *UbiClient) seasonalRank(ctx context.Context, profileID, platform string) (string, error) {
	url := fmt.Sprintf("%s/v1/profiles/%s/stats/seasonal?platformType=%s",
		c.baseURL, profileID, normalizePlatform(platform))

	result, err := c.authedRequest(ctx, url)
	if err != nil {
		return "", err
	}

	var seasonal ubiSeasonalResponse
	if err := json.Unmarshal(result, &seasonal); err != nil {
		return "", fmt.Errorf("failed to parse seasonal response: %w", err)
	}
	return seasonal.SeasonalStats.Rank, nil
}

// authedRequest performs a GET with the current session attached. A missing
// session or a 401/403 response surfaces as ErrAuthExpired for the shared
// retry wrapper.
func (c *UbiClient) authedRequest(ctx context.Context, url string) ([]byte, error) {
	c.sessionMu.Lock()
	session := c.session
	c.sessionMu.Unlock()

	if session == nil {
		return nil, ErrAuthExpired
	}

	c.requestCount.Add(1)

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Ubi-AppId", ubiAppID)
	req.Header.Set("Authorization", "Ubi_v1 t="+session.Ticket)
	req.Header.Set("Ubi-SessionId", session.SessionID)

	if err := c.do(ctx, req, resp); err != nil {
		return nil, err
	}

	switch resp.StatusCode() {
	case fasthttp.StatusOK:
		// Body is valid only until release; copy it out.
		body := make([]byte, len(resp.Body()))
		copy(body, resp.Body())
		return body, nil
	case fasthttp.StatusUnauthorized, fasthttp.StatusForbidden:
		return nil, ErrAuthExpired
	default:
		return nil, fmt.Errorf("API error: %d", resp.StatusCode())
	}
}

func (c *UbiClient) do(ctx context.Context, req *fasthttp.Request, resp *fasthttp.Response) error {
	if deadline, ok := ctx.Deadline(); ok {
		return c.client.DoDeadline(req, resp, deadline)
	}
	return c.client.Do(req, resp)
}

// RateLimitPercentage reports request pressure against a soft per-cycle
// budget; the session service has no hard quota of its own.
func (c *UbiClient) RateLimitPercentage() float64 {
	pct := float64(c.requestCount.Load()) / float64(constants.UbisoftCycleBudget) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

func (c *UbiClient) ResetRequestCount() {
	used := c.requestCount.Swap(0)
	c.logger.Info().Int64("used", used).Msg("resetting provider request count")
}

func (c *UbiClient) Close() error {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	if c.session != nil {
		ctx, cancel := context.WithTimeout(context.Background(), constants.ExternalAPITimeout)
		defer cancel()
		c.teardownSession(ctx, c.session)
		c.session = nil
		c.logger.Info().Msg("closed upstream session")
	}
	return nil
}
