// Package loadbalancer selects an outbound channel number for every
// dispatch and signup redirect, subject to a per-number messages-per-
// second ceiling, and raises cooldown-gated alerts when a number runs
// hot.
package loadbalancer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/convobridge/gateway/audit"
	"github.com/convobridge/gateway/config"
	"github.com/convobridge/gateway/gatewayerr"
	"github.com/convobridge/gateway/kv"
	"github.com/convobridge/gateway/metrics"
	"github.com/convobridge/gateway/notify"
)

const currentIndexKey = "lb:current_index"

// LoadBalancer picks channel numbers under the hybrid round-robin /
// least-loaded policy and tracks their per-second dispatch load.
type LoadBalancer struct {
	store    kv.Store
	sink     audit.Sink
	notifier notify.Notifier
	logger   *slog.Logger

	numbers        []string
	maxMps         int
	highThreshold  float64
	alertThreshold float64
	statsWindow    time.Duration
	cooldown       time.Duration
}

// New builds a LoadBalancer over the configured channel numbers.
func New(store kv.Store, sink audit.Sink, notifier notify.Notifier, logger *slog.Logger, numbers []string, lb config.LoadBalancer, cooldown time.Duration) *LoadBalancer {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = notify.NewNilNotifier()
	}
	if sink == nil {
		sink = audit.NilSink{}
	}
	return &LoadBalancer{
		store:          store,
		sink:           sink,
		notifier:       notifier,
		logger:         logger,
		numbers:        numbers,
		maxMps:         lb.MaxMessagesPerSecond,
		highThreshold:  lb.HighThreshold,
		alertThreshold: lb.AlertThreshold,
		statsWindow:    lb.StatsWindow,
		cooldown:       cooldown,
	}
}

func bucketKey(number string, now time.Time) string {
	bucket := now.Unix()
	return fmt.Sprintf("msg_count:%s:%d", number, bucket)
}

// loads returns fractional load (count / MaxMps) for every configured
// number, in configured order.
func (lb *LoadBalancer) loads(ctx context.Context, now time.Time) (map[string]float64, error) {
	loads := make(map[string]float64, len(lb.numbers))
	for _, n := range lb.numbers {
		count, err := lb.store.Get(ctx, bucketKey(n, now))
		if err != nil && err != kv.ErrNotFound {
			return nil, err
		}
		var c float64
		if err == nil {
			fmt.Sscanf(count, "%f", &c)
		}
		loads[n] = c / float64(lb.maxMps)
	}
	return loads, nil
}

// Pick selects one channel number using the hybrid policy: least-loaded
// whenever any number's load fraction exceeds HighThreshold, round-robin
// otherwise. On a KV read failure it falls back to a time-seeded
// selection so a transient KV error never blocks dispatch; with no
// numbers configured it returns a SYSTEM_ERROR.
func (lb *LoadBalancer) Pick(ctx context.Context) (string, map[string]float64, error) {
	if len(lb.numbers) == 0 {
		return "", nil, gatewayerr.New(gatewayerr.CodeSystemError).WithContext(map[string]any{"reason": "no numbers configured"})
	}

	now := time.Now()
	loads, err := lb.loads(ctx, now)
	if err != nil {
		lb.logger.Warn("loadbalancer: falling back to time-seeded selection", "error", err)
		return lb.fallback(now), map[string]float64{}, nil
	}

	if lb.isHighLoad(loads) {
		selected := lb.leastLoaded(loads)
		lb.logger.Info("loadbalancer: selected number", "decision", "least_loaded", "number", selected)
		return selected, loads, nil
	}

	selected, err := lb.roundRobin(ctx)
	if err != nil {
		lb.logger.Warn("loadbalancer: round robin failed, falling back", "error", err)
		return lb.fallback(now), loads, nil
	}
	lb.logger.Info("loadbalancer: selected number", "decision", "round_robin", "number", selected)
	return selected, loads, nil
}

func (lb *LoadBalancer) isHighLoad(loads map[string]float64) bool {
	for _, l := range loads {
		if l > lb.highThreshold {
			return true
		}
	}
	return false
}

func (lb *LoadBalancer) leastLoaded(loads map[string]float64) string {
	best := lb.numbers[0]
	bestLoad := loads[best]
	for _, n := range lb.numbers[1:] {
		if loads[n] < bestLoad {
			best = n
			bestLoad = loads[n]
		}
	}
	return best
}

func (lb *LoadBalancer) roundRobin(ctx context.Context) (string, error) {
	idx, err := lb.store.Incr(ctx, currentIndexKey)
	if err != nil {
		return "", err
	}
	n := int64(len(lb.numbers))
	pos := (idx - 1) % n

	// Reset the cursor once it completes a full cycle so the counter
	// doesn't grow without bound; (idx-1) mod n already gives the right
	// phase for this call, and the next Incr starts the cycle over at 1.
	if idx >= n {
		if err := lb.store.Set(ctx, currentIndexKey, "0", 0); err != nil {
			return "", err
		}
	}
	return lb.numbers[pos], nil
}

func (lb *LoadBalancer) fallback(now time.Time) string {
	idx := int(now.Unix()) % len(lb.numbers)
	return lb.numbers[idx]
}

// RecordDispatch increments number's per-second load counter, logs an
// audit row when it crosses the 0.8*MaxMps watermark, and raises a
// cooldown-gated alert when it crosses AlertThreshold*MaxMps.
func (lb *LoadBalancer) RecordDispatch(ctx context.Context, number string) error {
	now := time.Now()
	key := bucketKey(number, now)

	count, err := lb.store.Incr(ctx, key)
	if err != nil {
		return gatewayerr.Wrap(gatewayerr.CodeKVError, err)
	}
	if err := lb.store.Expire(ctx, key, lb.statsWindow); err != nil {
		return gatewayerr.Wrap(gatewayerr.CodeKVError, err)
	}

	currentLoad := float64(count)
	metrics.NumberLoad.WithLabelValues(number).Set(currentLoad / float64(lb.maxMps))
	if currentLoad >= 0.8*float64(lb.maxMps) {
		if err := lb.sink.LogNumberLoadStat(ctx, audit.NumberLoadStat{
			PhoneNumber:       number,
			MessagesPerSecond: currentLoad,
		}); err != nil {
			lb.logger.Warn("loadbalancer: failed to log number load stat", "number", number, "error", err)
		}

		if currentLoad >= lb.alertThreshold*float64(lb.maxMps) {
			lb.maybeAlert(ctx, number, currentLoad)
		}
	}
	return nil
}

func (lb *LoadBalancer) maybeAlert(ctx context.Context, number string, currentLoad float64) {
	cooldownKey := "load_balancer:last_alert:" + number
	acquired, err := lb.store.SetNX(ctx, cooldownKey, "1", lb.cooldown)
	if err != nil {
		lb.logger.Warn("loadbalancer: cooldown check failed", "number", number, "error", err)
		return
	}
	if !acquired {
		return
	}

	err = lb.notifier.Send(ctx, notify.Notification{
		Timestamp: time.Now(),
		Type:      notify.Alarm,
		Source:    "loadbalancer",
		Message:   fmt.Sprintf("channel number %s is experiencing high load (%.2f msgs/sec)", number, currentLoad),
		Fields:    map[string]interface{}{"number": number, "messages_per_second": currentLoad},
	})
	if err != nil {
		lb.logger.Error("loadbalancer: alert send failed", "number", number, "error", err)
	}
}

// SignupResult carries everything the webhookapi /signup handler needs
// to redirect the caller and audit the decision.
type SignupResult struct {
	RedirectURL string
	Number      string
}

// Signup picks a number, schedules its dispatch-load increment, and
// logs the redirect, returning the vendor chat URL to redirect to.
func (lb *LoadBalancer) Signup(ctx context.Context, clientIP, userAgent, referrer string) (SignupResult, error) {
	number, loads, err := lb.Pick(ctx)
	if err != nil {
		return SignupResult{}, err
	}
	if number == "" {
		return SignupResult{}, gatewayerr.New(gatewayerr.CodeSystemError).WithContext(map[string]any{"reason": "no numbers available"})
	}

	go func() {
		bgCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lb.RecordDispatch(bgCtx, number); err != nil {
			lb.logger.Error("loadbalancer: background RecordDispatch failed", "number", number, "error", err)
		}
	}()

	if err := lb.sink.LogLoadBalancerRedirect(ctx, audit.LoadBalancerLog{
		ClientIP:       clientIP,
		UserAgent:      userAgent,
		Referrer:       referrer,
		AssignedNumber: number,
		CurrentLoads:   loads,
	}); err != nil {
		lb.logger.Warn("loadbalancer: failed to log signup redirect", "number", number, "error", err)
	}

	return SignupResult{
		RedirectURL: "https://wa.me/" + waDigits(number),
		Number:      number,
	}, nil
}

// waDigits strips the whatsapp: vendor prefix and the leading + so the
// number can be embedded in a wa.me URL.
func waDigits(number string) string {
	n := strings.TrimPrefix(number, "whatsapp:")
	n = strings.TrimPrefix(n, "+")
	return strings.TrimSpace(n)
}

// Stats reports the current load fraction for every configured number,
// for the /stats/load endpoint, refreshing the gateway_number_load
// gauge for every configured number (not just ones dispatched through
// since the last call) along the way.
func (lb *LoadBalancer) Stats(ctx context.Context) (map[string]float64, error) {
	loads, err := lb.loads(ctx, time.Now())
	if err != nil {
		return nil, err
	}
	for number, load := range loads {
		metrics.NumberLoad.WithLabelValues(number).Set(load)
	}
	return loads, nil
}
