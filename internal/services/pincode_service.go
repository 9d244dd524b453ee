package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/example/nivora/internal/cache"
)

// Pincode lookup outcomes. StatusError means "unknown, do not reject the
// address"; StatusInvalid is an authoritative rejection.
const (
	PincodeStatusSuccess = "success"
	PincodeStatusInvalid = "invalid"
	PincodeStatusError   = "error"
)

const (
	pincodePositiveTTL     = 24 * time.Hour
	pincodeNegativeTTL     = 6 * time.Hour
	pincodeDefaultCooldown = 5 * time.Minute
	pincodeRequestTimeout  = 10 * time.Second
)

// PincodeResult is the outcome of a pincode validation.
type PincodeResult struct {
	Status string `json:"status"`
	Valid  bool   `json:"valid"`
}

// PincodeConfig carries the two lookup endpoints. The primary is a keyed
// government data API; the fallback is a public postal lookup.
type PincodeConfig struct {
	PrimaryURL string
	PrimaryKey string
	PostalURL  string
}

// PincodeService validates delivery pincodes against postal data sources,
// with caching, request coalescing, and rate-limit backoff.
type PincodeService struct {
	cfg    PincodeConfig
	store  cache.Store
	client *http.Client
	group  singleflight.Group

	mu            sync.Mutex
	cooldownUntil time.Time
}

// NewPincodeService constructs PincodeService backed by the given cache.
func NewPincodeService(cfg PincodeConfig, store cache.Store) *PincodeService {
	return &PincodeService{
		cfg:    cfg,
		store:  store,
		client: &http.Client{Timeout: pincodeRequestTimeout},
	}
}

// ValidatePincode checks whether a pincode exists. Non-6-digit input is
// rejected immediately without any remote call. Concurrent validations of
// the same pincode share one underlying lookup.
func (s *PincodeService) ValidatePincode(ctx context.Context, code string) PincodeResult {
	if !isSixDigits(code) {
		return PincodeResult{Status: PincodeStatusInvalid, Valid: false}
	}

	if cached, err := s.store.Get(ctx, pincodeCacheKey(code)); err == nil {
		if cached == "1" {
			return PincodeResult{Status: PincodeStatusSuccess, Valid: true}
		}
		return PincodeResult{Status: PincodeStatusInvalid, Valid: false}
	}

	value, err, _ := s.group.Do(code, func() (any, error) {
		return s.lookup(ctx, code)
	})
	if err != nil {
		log.Warn().Str("pincode", code).Err(err).Msg("pincode lookup unavailable")
		return PincodeResult{Status: PincodeStatusError, Valid: false}
	}

	exists := value.(bool)
	cacheValue, ttl := "0", pincodeNegativeTTL
	if exists {
		cacheValue, ttl = "1", pincodePositiveTTL
	}
	if err := s.store.Set(ctx, pincodeCacheKey(code), cacheValue, ttl); err != nil {
		log.Warn().Str("pincode", code).Err(err).Msg("pincode cache write failed")
	}

	if exists {
		return PincodeResult{Status: PincodeStatusSuccess, Valid: true}
	}
	return PincodeResult{Status: PincodeStatusInvalid, Valid: false}
}

func (s *PincodeService) lookup(ctx context.Context, code string) (bool, error) {
	if s.cfg.PrimaryKey != "" && !s.inCooldown() {
		exists, err := s.lookupPrimary(ctx, code)
		if err == nil {
			return exists, nil
		}
		log.Warn().Str("pincode", code).Err(err).Msg("primary pincode API failed, trying fallback")
	}

	return s.lookupFallback(ctx, code)
}

func (s *PincodeService) inCooldown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Now().Before(s.cooldownUntil)
}

func (s *PincodeService) setCooldown(retryAfter string) {
	d := pincodeDefaultCooldown
	if retryAfter != "" {
		if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
			d = time.Duration(seconds) * time.Second
		}
	}

	s.mu.Lock()
	s.cooldownUntil = time.Now().Add(d)
	s.mu.Unlock()

	log.Warn().Dur("cooldown", d).Msg("primary pincode API rate limited")
}

type primaryLookupResponse struct {
	Records []json.RawMessage `json:"records"`
}

func (s *PincodeService) lookupPrimary(ctx context.Context, code string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, pincodeRequestTimeout)
	defer cancel()

	url := fmt.Sprintf("%s?api-key=%s&format=json&filters[pincode]=%s", s.cfg.PrimaryURL, s.cfg.PrimaryKey, code)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("build primary pincode request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("execute primary pincode request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		s.setCooldown(resp.Header.Get("Retry-After"))
		return false, errors.New("primary pincode API rate limited")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("primary pincode API status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("read primary pincode response: %w", err)
	}

	var parsed primaryLookupResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return false, fmt.Errorf("unmarshal primary pincode response: %w", err)
	}

	return len(parsed.Records) > 0, nil
}

type postalLookupEntry struct {
	Status     string            `json:"Status"`
	PostOffice []json.RawMessage `json:"PostOffice"`
}

func (s *PincodeService) lookupFallback(ctx context.Context, code string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, pincodeRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.PostalURL+"/pincode/"+code, nil)
	if err != nil {
		return false, fmt.Errorf("build postal lookup request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("execute postal lookup request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("postal lookup status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("read postal lookup response: %w", err)
	}

	var parsed []postalLookupEntry
	if err := json.Unmarshal(body, &parsed); err != nil {
		return false, fmt.Errorf("unmarshal postal lookup response: %w", err)
	}

	if len(parsed) == 0 {
		return false, nil
	}
	return parsed[0].Status == "Success" && len(parsed[0].PostOffice) > 0, nil
}

func pincodeCacheKey(code string) string {
	return "pincode:" + code
}

func isSixDigits(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
