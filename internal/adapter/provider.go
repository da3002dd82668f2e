package adapter

import (
	"fmt"
	"sync"
	"time"
)

// EndpointHealth is the health snapshot of one upstream endpoint pair
type EndpointHealth struct {
	CurrentURL       string        `json:"currentUrl"`
	TotalRequests    int64         `json:"totalRequests"`
	FailedRequests   int64         `json:"failedRequests"`
	SuccessRate      float64       `json:"successRate"`
	AverageLatency   time.Duration `json:"averageLatency"`
	LastSuccess      time.Time     `json:"lastSuccess"`
	LastFailure      time.Time     `json:"lastFailure"`
	ConsecutiveFails int           `json:"consecutiveFails"`
	IsHealthy        bool          `json:"isHealthy"`
}

// EndpointProvider tracks a primary and an optional fallback base URL.
// Callers record outcomes; after maxConsecutiveFails failures in a row the
// provider switches to the other endpoint.
type EndpointProvider struct {
	mu sync.RWMutex

	primaryURL  string
	fallbackURL string
	currentURL  string

	totalRequests    int64
	failedRequests   int64
	totalLatency     time.Duration
	lastSuccess      time.Time
	lastFailure      time.Time
	consecutiveFails int

	maxConsecutiveFails int
}

// NewEndpointProvider creates a provider; fallbackURL may be empty
func NewEndpointProvider(primaryURL, fallbackURL string) (*EndpointProvider, error) {
	if primaryURL == "" {
		return nil, fmt.Errorf("primary URL cannot be empty")
	}
	return &EndpointProvider{
		primaryURL:          primaryURL,
		fallbackURL:         fallbackURL,
		currentURL:          primaryURL,
		maxConsecutiveFails: 3,
	}, nil
}

// CurrentURL returns the endpoint requests should go to
func (p *EndpointProvider) CurrentURL() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.currentURL
}

// HasFallback reports whether a second endpoint is configured
func (p *EndpointProvider) HasFallback() bool {
	return p.fallbackURL != ""
}

// Failover swaps the current endpoint with the other one
func (p *EndpointProvider) Failover() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.fallbackURL == "" {
		return fmt.Errorf("no fallback endpoint configured")
	}
	if p.currentURL == p.primaryURL {
		p.currentURL = p.fallbackURL
	} else {
		p.currentURL = p.primaryURL
	}
	p.consecutiveFails = 0
	return nil
}

// RecordSuccess records a successful request
func (p *EndpointProvider) RecordSuccess(latency time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.totalRequests++
	p.totalLatency += latency
	p.lastSuccess = time.Now()
	p.consecutiveFails = 0
}

// RecordFailure records a failed request and reports whether the provider
// switched endpoints as a result
func (p *EndpointProvider) RecordFailure() bool {
	p.mu.Lock()
	p.totalRequests++
	p.failedRequests++
	p.lastFailure = time.Now()
	p.consecutiveFails++
	trip := p.consecutiveFails >= p.maxConsecutiveFails && p.fallbackURL != ""
	p.mu.Unlock()

	if trip {
		return p.Failover() == nil
	}
	return false
}

// IsHealthy reports whether the current endpoint is below the failure threshold
func (p *EndpointProvider) IsHealthy() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.consecutiveFails < p.maxConsecutiveFails
}

// Health returns the current health snapshot
func (p *EndpointProvider) Health() *EndpointHealth {
	p.mu.RLock()
	defer p.mu.RUnlock()

	h := &EndpointHealth{
		CurrentURL:       p.currentURL,
		TotalRequests:    p.totalRequests,
		FailedRequests:   p.failedRequests,
		LastSuccess:      p.lastSuccess,
		LastFailure:      p.lastFailure,
		ConsecutiveFails: p.consecutiveFails,
		IsHealthy:        p.consecutiveFails < p.maxConsecutiveFails,
	}
	if p.totalRequests > 0 {
		ok := p.totalRequests - p.failedRequests
		h.SuccessRate = float64(ok) / float64(p.totalRequests)
		if ok > 0 {
			h.AverageLatency = p.totalLatency / time.Duration(ok)
		}
	}
	return h
}

// Reset returns to the primary endpoint
func (p *EndpointProvider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.currentURL = p.primaryURL
	p.consecutiveFails = 0
}
