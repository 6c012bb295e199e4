package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"r6-rolesync/internal/rank"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

// TRNClient reads ranks from the Tracker Network HTTP API using a header
// API key. Remaining quota is tracked from X-RateLimit response headers.
type TRNClient struct {
	apiKey  string
	baseURL string
	client  *fasthttp.Client
	logger  zerolog.Logger

	rateLimitMu sync.RWMutex
	rateLimit   RateLimitInfo

	requestMu    sync.Mutex
	requestCount int64
}

type RateLimitInfo struct {
	Used      int       `json:"used"`
	Remaining int       `json:"remaining"`
	Limit     int       `json:"limit"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewTRNClient(apiKey string, logger zerolog.Logger) *TRNClient {
	return &TRNClient{
		apiKey:  apiKey,
		baseURL: "https://public-api.tracker.gg",
		client: &fasthttp.Client{
			MaxConnsPerHost:     16,
			ReadTimeout:         10 * time.Second,
			WriteTimeout:        10 * time.Second,
			MaxIdleConnDuration: 1 * time.Minute,
		},
		logger: logger,
		rateLimit: RateLimitInfo{
			Limit:     100,
			Remaining: 100,
			UpdatedAt: time.Now(),
		},
	}
}

// Authenticate is a no-op for the key-based client; the key is stateless.
// Kept so both implementations share the same retry path.
func (c *TRNClient) Authenticate(ctx context.Context) error {
	if c.apiKey == "" {
		return fmt.Errorf("API key is not configured")
	}
	return nil
}

func (c *TRNClient) PlayerRank(ctx context.Context, handle, platform string) (Result, error) {
	return withReauth(ctx, c, c.logger, func(ctx context.Context) (Result, error) {
		profile, found, err := c.fetchProfile(ctx, handle, platform)
		if err != nil {
			return Result{}, err
		}
		if !found {
			c.logger.Debug().Str("handle", handle).Msg("player not found")
			return Result{Found: false}, nil
		}
		return Result{Rank: rank.Normalize(extractRank(profile)), Found: true}, nil
	})
}

func (c *TRNClient) HandleExists(ctx context.Context, handle, platform string) (bool, error) {
	return withReauth(ctx, c, c.logger, func(ctx context.Context) (bool, error) {
		_, found, err := c.fetchProfile(ctx, handle, platform)
		return found, err
	})
}

type trnProfileResponse struct {
	Data struct {
		Segments []trnSegment `json:"segments"`
	} `json:"data"`
}

type trnSegment struct {
	Type  string                  `json:"type"`
	Stats map[string]trnStatValue `json:"stats"`
}

type trnStatValue struct {
	DisplayValue string `json:"displayValue"`
}

func (c *TRNClient) fetchProfile(ctx context.Context, handle, platform string) (*trnProfileResponse, bool, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	url := fmt.Sprintf("%s/v2/r6siege/standard/profile/%s/%s",
		c.baseURL, normalizePlatform(platform), handle)
	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("TRN-Api-Key", c.apiKey)

	c.requestMu.Lock()
	c.requestCount++
	c.requestMu.Unlock()

	var err error
	if deadline, ok := ctx.Deadline(); ok {
		err = c.client.DoDeadline(req, resp, deadline)
	} else {
		err = c.client.Do(req, resp)
	}
	if err != nil {
		return nil, false, err
	}

	c.updateRateLimit(resp)

	switch resp.StatusCode() {
	case fasthttp.StatusOK:
	case fasthttp.StatusNotFound:
		return nil, false, nil
	case fasthttp.StatusUnauthorized, fasthttp.StatusForbidden:
		return nil, false, ErrAuthExpired
	default:
		return nil, false, fmt.Errorf("API error: %d", resp.StatusCode())
	}

	var profile trnProfileResponse
	if err := json.Unmarshal(resp.Body(), &profile); err != nil {
		return nil, false, fmt.Errorf("failed to parse profile response: %w", err)
	}
	return &profile, true, nil
}

// rankStatKeys is the resolution order for the loosely-structured segment
// stats: explicit current-season rank, then generic rank, then overall
// rank. First non-empty display value wins.
var rankStatKeys = []string{"currentSeasonRank", "rank", "overallRank"}

func extractRank(profile *trnProfileResponse) string {
	for _, key := range rankStatKeys {
		for _, segment := range profile.Data.Segments {
			if stat, ok := segment.Stats[key]; ok && stat.DisplayValue != "" {
				return stat.DisplayValue
			}
		}
	}
	return ""
}

func (c *TRNClient) updateRateLimit(resp *fasthttp.Response) {
	c.rateLimitMu.Lock()
	defer c.rateLimitMu.Unlock()

	if limit := string(resp.Header.Peek("X-RateLimit-Limit")); limit != "" {
		if val, err := strconv.Atoi(limit); err == nil {
			c.rateLimit.Limit = val
		}
	}
	if remaining := string(resp.Header.Peek("X-RateLimit-Remaining")); remaining != "" {
		if val, err := strconv.Atoi(remaining); err == nil {
			c.rateLimit.Remaining = val
		}
	}
	c.rateLimit.Used = c.rateLimit.Limit - c.rateLimit.Remaining
	c.rateLimit.UpdatedAt = time.Now()
}

func (c *TRNClient) GetRateLimitInfo() RateLimitInfo {
	c.rateLimitMu.RLock()
	defer c.rateLimitMu.RUnlock()
	return c.rateLimit
}

func (c *TRNClient) RateLimitPercentage() float64 {
	c.rateLimitMu.RLock()
	defer c.rateLimitMu.RUnlock()

	if c.rateLimit.Limit == 0 {
		return 0
	}
	pct := float64(c.rateLimit.Used) / float64(c.rateLimit.Limit) * 100
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return pct
}

func (c *TRNClient) ResetRequestCount() {
	c.requestMu.Lock()
	used := c.requestCount
	c.requestCount = 0
	c.requestMu.Unlock()

	c.logger.Info().Int64("used", used).Msg("resetting provider request count")
}

func (c *TRNClient) Close() error {
	return nil
}
