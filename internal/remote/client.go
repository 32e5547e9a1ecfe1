package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"homebooking/internal/availability"
	"homebooking/internal/metrics"
	"homebooking/internal/models"

	"github.com/redis/go-redis/v9"
)

// AvailabilityPath is the remote occupancy endpoint.
const AvailabilityPath = "/functions/v1/availability"

// Client calls a remote availability endpoint. It implements
// availability.Source and availability.Counter.
type Client struct {
	baseURL    string
	apiKey     string
	bearer     string
	httpClient *http.Client

	redis    *redis.Client
	cacheTTL time.Duration
}

// NewClient constructs a client for baseURL. apiKey goes to x-api-key and
// bearer, when set, to the Authorization header.
func NewClient(baseURL, apiKey, bearer string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		bearer:     bearer,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// UseRedisCache caches range responses for ttl. Real-time counts are never cached.
func (c *Client) UseRedisCache(redisClient *redis.Client, ttl time.Duration) {
	c.redis = redisClient
	c.cacheTTL = ttl
}

// Error is a non-2xx response.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.Status)
	}
	return fmt.Sprintf("http %d: %s", e.Status, e.Message)
}

// FetchRange posts the range request, serving repeated requests from Redis.
func (c *Client) FetchRange(ctx context.Context, req availability.RangeRequest) (*availability.RangeResult, error) {
	cacheKey := fmt.Sprintf("remote:availability:%s:%s:%s:%s", req.OrganizationID, req.StartDate, req.EndDate, req.ExcludeBookingID)

	var resp availability.RangeResult
	if c.readCache(ctx, cacheKey, &resp) {
		return normalize(&resp), nil
	}
	if err := c.post(ctx, req, &resp); err != nil {
		metrics.IncFetchError("remote")
		return nil, err
	}
	c.writeCache(ctx, cacheKey, resp)
	return normalize(&resp), nil
}

// CountActiveBookings asks for a single day, bypassing the cache.
func (c *Client) CountActiveBookings(ctx context.Context, organizationID, date, clock string) (int, error) {
	var resp availability.RangeResult
	err := c.post(ctx, availability.RangeRequest{
		OrganizationID: organizationID,
		StartDate:      date,
		EndDate:        date,
	}, &resp)
	if err != nil {
		return 0, err
	}
	return resp.Count(date, clock), nil
}

func normalize(r *availability.RangeResult) *availability.RangeResult {
	if r.Availability == nil {
		r.Availability = make(map[string]map[string]int)
	}
	if r.Blocks == nil {
		r.Blocks = make(map[string][]models.ScheduleBlock)
	}
	return r
}

func (c *Client) readCache(ctx context.Context, key string, out any) bool {
	if c.redis == nil || c.cacheTTL <= 0 {
		return false
	}
	val, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	return json.Unmarshal([]byte(val), out) == nil
}

func (c *Client) writeCache(ctx context.Context, key string, val any) {
	if c.redis == nil || c.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.cacheTTL).Err()
}

func (c *Client) post(ctx context.Context, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+AvailabilityPath, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = json.Unmarshal(raw, &e)
		return &Error{Status: resp.StatusCode, Message: e.Error}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
