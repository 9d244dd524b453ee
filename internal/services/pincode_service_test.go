package services

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/nivora/internal/cache"
)

// fakePincodeBackends stands in for the primary keyed API and the public
// postal fallback, counting requests to each.
type fakePincodeBackends struct {
	primaryCalls  atomic.Int64
	fallbackCalls atomic.Int64

	// Zero status codes mean behave normally.
	primaryStatus  int
	primaryExists  bool
	fallbackStatus int
	fallbackExists bool

	primary  *httptest.Server
	fallback *httptest.Server
}

func newFakePincodeBackends(t *testing.T) *fakePincodeBackends {
	t.Helper()
	f := &fakePincodeBackends{primaryExists: true, fallbackExists: true}

	f.primary = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.primaryCalls.Add(1)
		if f.primaryStatus != 0 {
			if f.primaryStatus == http.StatusTooManyRequests {
				w.Header().Set("Retry-After", "60")
			}
			w.WriteHeader(f.primaryStatus)
			return
		}
		if f.primaryExists {
			fmt.Fprint(w, `{"records":[{"pincode":"560001"}]}`)
			return
		}
		fmt.Fprint(w, `{"records":[]}`)
	}))
	t.Cleanup(f.primary.Close)

	f.fallback = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.fallbackCalls.Add(1)
		if f.fallbackStatus != 0 {
			w.WriteHeader(f.fallbackStatus)
			return
		}
		if f.fallbackExists {
			fmt.Fprint(w, `[{"Status":"Success","PostOffice":[{"Name":"Bangalore GPO"}]}]`)
			return
		}
		fmt.Fprint(w, `[{"Status":"Error","PostOffice":null}]`)
	}))
	t.Cleanup(f.fallback.Close)

	return f
}

func (f *fakePincodeBackends) service() *PincodeService {
	return NewPincodeService(PincodeConfig{
		PrimaryURL: f.primary.URL,
		PrimaryKey: "test-key",
		PostalURL:  f.fallback.URL,
	}, cache.NewMemoryStore())
}

func TestValidatePincodeRejectsMalformedInputWithoutLookup(t *testing.T) {
	backends := newFakePincodeBackends(t)
	svc := backends.service()
	ctx := context.Background()

	for _, code := range []string{"", "12345", "1234567", "12a456", "ABCDEF"} {
		result := svc.ValidatePincode(ctx, code)
		assert.Equal(t, PincodeStatusInvalid, result.Status, "code %q", code)
		assert.False(t, result.Valid)
	}

	assert.Zero(t, backends.primaryCalls.Load(), "malformed input must not reach the network")
	assert.Zero(t, backends.fallbackCalls.Load())
}

func TestValidatePincodeCachesPositiveResult(t *testing.T) {
	backends := newFakePincodeBackends(t)
	svc := backends.service()
	ctx := context.Background()

	first := svc.ValidatePincode(ctx, "560001")
	assert.Equal(t, PincodeStatusSuccess, first.Status)
	assert.True(t, first.Valid)

	second := svc.ValidatePincode(ctx, "560001")
	assert.True(t, second.Valid)

	assert.EqualValues(t, 1, backends.primaryCalls.Load(), "second validation must hit the cache")
}

func TestValidatePincodeCachesNegativeResult(t *testing.T) {
	backends := newFakePincodeBackends(t)
	backends.primaryExists = false
	svc := backends.service()
	ctx := context.Background()

	first := svc.ValidatePincode(ctx, "999999")
	assert.Equal(t, PincodeStatusInvalid, first.Status)
	assert.False(t, first.Valid)

	second := svc.ValidatePincode(ctx, "999999")
	assert.Equal(t, PincodeStatusInvalid, second.Status,
		"a cached negative must come back invalid, not success")
	assert.False(t, second.Valid)
	assert.EqualValues(t, 1, backends.primaryCalls.Load())
}

func TestValidatePincodeFallsBackWhenPrimaryFails(t *testing.T) {
	backends := newFakePincodeBackends(t)
	backends.primaryStatus = http.StatusInternalServerError
	svc := backends.service()

	result := svc.ValidatePincode(context.Background(), "560001")
	assert.Equal(t, PincodeStatusSuccess, result.Status)
	assert.True(t, result.Valid)
	assert.EqualValues(t, 1, backends.fallbackCalls.Load())
}

func TestValidatePincodeSkipsPrimaryDuringCooldown(t *testing.T) {
	backends := newFakePincodeBackends(t)
	backends.primaryStatus = http.StatusTooManyRequests
	svc := backends.service()
	ctx := context.Background()

	svc.ValidatePincode(ctx, "560001")
	require.EqualValues(t, 1, backends.primaryCalls.Load())

	// After a 429 the primary must be left alone for the cooldown window.
	svc.ValidatePincode(ctx, "110001")
	assert.EqualValues(t, 1, backends.primaryCalls.Load())
	assert.EqualValues(t, 2, backends.fallbackCalls.Load())
}

func TestValidatePincodeErrorsWhenBothSourcesFail(t *testing.T) {
	backends := newFakePincodeBackends(t)
	backends.primaryStatus = http.StatusInternalServerError
	backends.fallbackStatus = http.StatusServiceUnavailable
	svc := backends.service()
	ctx := context.Background()

	result := svc.ValidatePincode(ctx, "560001")
	assert.Equal(t, PincodeStatusError, result.Status)
	assert.False(t, result.Valid)

	// Failures are not cached: the next call retries the lookup.
	before := backends.fallbackCalls.Load()
	svc.ValidatePincode(ctx, "560001")
	assert.Greater(t, backends.fallbackCalls.Load(), before)
}

func TestValidatePincodeHonorsFallbackNegativeAnswer(t *testing.T) {
	backends := newFakePincodeBackends(t)
	backends.primaryStatus = http.StatusInternalServerError
	backends.fallbackExists = false
	svc := backends.service()

	result := svc.ValidatePincode(context.Background(), "000001")
	assert.Equal(t, PincodeStatusInvalid, result.Status)
	assert.False(t, result.Valid)
}

func TestValidatePincodeCoalescesConcurrentLookups(t *testing.T) {
	calls := atomic.Int64{}
	release := make(chan struct{})
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		fmt.Fprint(w, `{"records":[{"pincode":"560001"}]}`)
	}))
	defer primary.Close()

	svc := NewPincodeService(PincodeConfig{
		PrimaryURL: primary.URL,
		PrimaryKey: "test-key",
		PostalURL:  primary.URL,
	}, cache.NewMemoryStore())

	var wg sync.WaitGroup
	results := make([]PincodeResult, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = svc.ValidatePincode(context.Background(), "560001")
		}(i)
	}

	// Give the goroutines time to pile onto the in-flight lookup.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load(), "concurrent validations must share one lookup")
	for _, r := range results {
		assert.True(t, r.Valid)
	}
}
