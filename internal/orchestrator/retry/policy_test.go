package retry

import (
	"testing"
	"time"

	"github.com/AltairaLabs/agentvine/internal/orchestrator/config"
)

func TestDefaultPolicy(t *testing.T) {
	policy := DefaultPolicy()

	if policy.MaxRetries != 3 {
		t.Errorf("Expected MaxRetries=3, got %d", policy.MaxRetries)
	}
	if policy.InitialDelay != 0 {
		t.Errorf("Expected InitialDelay=0, got %v", policy.InitialDelay)
	}
	if policy.BackoffMultiplier != 2.0 {
		t.Errorf("Expected BackoffMultiplier=2.0, got %f", policy.BackoffMultiplier)
	}
	if err := policy.Validate(); err != nil {
		t.Errorf("Expected default policy to validate, got %v", err)
	}
}

func TestPolicyFromConfig(t *testing.T) {
	cfg := config.DefaultQueueConfig()
	cfg.MaxRetries = 5
	cfg.RetryInitialDelay = time.Second
	cfg.RetryMaxDelay = time.Minute

	policy := PolicyFromConfig(cfg)
	if policy.MaxRetries != 5 || policy.InitialDelay != time.Second || policy.MaxDelay != time.Minute {
		t.Errorf("Unexpected policy: %+v", policy)
	}
}

func TestPolicyCalculateDelay(t *testing.T) {
	policy := Policy{
		MaxRetries:        3,
		InitialDelay:      1 * time.Second,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2.0,
	}

	tests := []struct {
		retryCount int
		expected   time.Duration
	}{
		{0, 1 * time.Second},
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second}, // Capped at MaxDelay
		{64, 10 * time.Second},
	}

	for _, test := range tests {
		actual := policy.CalculateDelay(test.retryCount)
		if actual != test.expected {
			t.Errorf("CalculateDelay(%d) = %v, expected %v", test.retryCount, actual, test.expected)
		}
	}
}

func TestPolicyCalculateDelayImmediate(t *testing.T) {
	policy := Policy{BackoffMultiplier: 2.0, MaxDelay: time.Minute}
	for _, n := range []int{0, 1, 5} {
		if d := policy.CalculateDelay(n); d != 0 {
			t.Errorf("Expected no delay for retry %d, got %v", n, d)
		}
	}
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		retryCount, maxRetries int
		expected               bool
	}{
		{0, 3, true},
		{2, 3, true},
		{3, 3, false},
		{0, 0, false},
	}

	for _, test := range tests {
		if got := ShouldRetry(test.retryCount, test.maxRetries); got != test.expected {
			t.Errorf("ShouldRetry(%d, %d) = %v, expected %v", test.retryCount, test.maxRetries, got, test.expected)
		}
	}
}

func TestPolicyValidate(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		wantErr string
	}{
		{"valid", Policy{MaxRetries: 1, InitialDelay: time.Second, MaxDelay: time.Minute, BackoffMultiplier: 2}, ""},
		{"negative retries", Policy{MaxRetries: -1, BackoffMultiplier: 2}, "MaxRetries must be non-negative"},
		{"negative delay", Policy{InitialDelay: -time.Second, BackoffMultiplier: 2}, "InitialDelay cannot be negative"},
		{"zero multiplier", Policy{}, "BackoffMultiplier must be positive"},
		{"initial above max", Policy{InitialDelay: time.Minute, MaxDelay: time.Second, BackoffMultiplier: 2}, "InitialDelay cannot be greater than MaxDelay"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
				}
				return
			}
			if err == nil || err.Error() != tt.wantErr {
				t.Errorf("Expected error %q, got %v", tt.wantErr, err)
			}
		})
	}
}
