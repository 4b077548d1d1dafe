package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"pkt.systems/agenthub/schema"
	"pkt.systems/pslog"
)

const (
	cacheTTL      = 30 * time.Second
	cacheMaxSize  = 500
	verifyTimeout = 10 * time.Second
)

// TokenVerifier resolves a bearer token to a stable user id.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (schema.UserID, error)
}

// Config points the verifier at the identity provider.
type Config struct {
	BaseURL string
	APIKey  string
}

// Verifier validates bearer tokens against an external identity provider
// and caches positive results for a short window.
type Verifier struct {
	cfg    Config
	client *retryablehttp.Client
	log    pslog.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	user    schema.UserID
	expires time.Time
}

// NewVerifier constructs a verifier. The HTTP client retries transient
// provider failures before the request is reported as unavailable.
func NewVerifier(cfg Config, logger pslog.Logger) *Verifier {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient.Timeout = verifyTimeout
	client.Logger = nil
	return &Verifier{
		cfg:    cfg,
		client: client,
		log:    logger,
		cache:  make(map[string]cacheEntry),
	}
}

type userResponse struct {
	ID string `json:"id"`
}

// Verify resolves the token to a user id. Results are cached for a short
// TTL so bursts of requests from the same client hit the provider once.
func (v *Verifier) Verify(ctx context.Context, token string) (schema.UserID, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", schema.ErrMissingToken
	}
	now := time.Now()
	v.mu.Lock()
	if entry, ok := v.cache[token]; ok && now.Before(entry.expires) {
		v.mu.Unlock()
		return entry.user, nil
	}
	v.mu.Unlock()

	user, err := v.lookup(ctx, token)
	if err != nil {
		return "", err
	}

	v.mu.Lock()
	if len(v.cache) >= cacheMaxSize {
		for key, entry := range v.cache {
			if now.After(entry.expires) {
				delete(v.cache, key)
			}
		}
		// Still full after expiry sweep means a flood of distinct tokens;
		// drop the cache rather than grow without bound.
		if len(v.cache) >= cacheMaxSize {
			v.cache = make(map[string]cacheEntry)
		}
	}
	v.cache[token] = cacheEntry{user: user, expires: now.Add(cacheTTL)}
	v.mu.Unlock()
	return user, nil
}

// Peek consults the cache only. It never contacts the provider.
func (v *Verifier) Peek(token string) (schema.UserID, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	entry, ok := v.cache[token]
	if !ok || time.Now().After(entry.expires) {
		return "", false
	}
	return entry.user, true
}

func (v *Verifier) lookup(ctx context.Context, token string) (schema.UserID, error) {
	url := strings.TrimRight(v.cfg.BaseURL, "/") + "/auth/v1/user"
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("identity request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if v.cfg.APIKey != "" {
		req.Header.Set("apikey", v.cfg.APIKey)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		v.log.Warn("identity provider unreachable", "err", err)
		return "", schema.ErrIdentityUnavailable
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", schema.ErrUnauthorized
	default:
		v.log.Warn("identity provider error", "status", resp.StatusCode)
		return "", schema.ErrIdentityUnavailable
	}

	var user userResponse
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		v.log.Warn("identity response decode failed", "err", err)
		return "", schema.ErrIdentityUnavailable
	}
	if user.ID == "" {
		return "", schema.ErrUnauthorized
	}
	return schema.UserID(user.ID), nil
}
