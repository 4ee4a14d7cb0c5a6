// This file tests the token-bucket rate limiters used across the three
// HTTP surfaces: per-IP, per-agent, and per-agent-per-endpoint.
package middleware

import (
	"testing"
	"time"
)

func TestRateLimiter_AllowsUpToBurst(t *testing.T) {
	rl := NewRateLimiter(1, 3)
	key := "203.0.113.1"

	for i := 0; i < 3; i++ {
		if !rl.getLimiter(key).Allow() {
			t.Errorf("request %d should have been allowed within burst", i+1)
		}
	}
	if rl.getLimiter(key).Allow() {
		t.Error("request beyond burst should have been rate limited")
	}
}

func TestRateLimiter_ReplenishesOverTime(t *testing.T) {
	rl := NewRateLimiter(100, 1)
	key := "203.0.113.2"

	if !rl.getLimiter(key).Allow() {
		t.Fatal("first request should have been allowed")
	}
	if rl.getLimiter(key).Allow() {
		t.Fatal("second immediate request should have been rate limited")
	}

	time.Sleep(20 * time.Millisecond)
	if !rl.getLimiter(key).Allow() {
		t.Error("request should succeed once the token bucket replenishes")
	}
}

func TestAgentRateLimiter_SeparatesLimitersPerAgent(t *testing.T) {
	arl := NewAgentRateLimiter(3600, 1)

	if !arl.getLimiter("agent-a").Allow() {
		t.Fatal("agent-a's first request should have been allowed")
	}
	if arl.getLimiter("agent-a").Allow() {
		t.Error("agent-a's second request should have been rate limited")
	}
	if !arl.getLimiter("agent-b").Allow() {
		t.Error("agent-b should have its own independent limiter")
	}
}

func TestEndpointRateLimiter_SeparatesLimitersPerEndpoint(t *testing.T) {
	erl := NewEndpointRateLimiter(3600, 1)

	key1 := "agent-a:heartbeat"
	key2 := "agent-a:jobs"

	if !erl.getOrCreate(key1).Allow() {
		t.Fatal("first heartbeat request should have been allowed")
	}
	if erl.getOrCreate(key1).Allow() {
		t.Error("second heartbeat request should have been rate limited")
	}
	if !erl.getOrCreate(key2).Allow() {
		t.Error("jobs endpoint should have its own independent limiter")
	}
}
