package reqauth

import (
	"context"
	"crypto/hmac"
	"crypto/subtle"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"licgate/internal/middleware"
)

var loopbackNames = map[string]struct{}{"localhost": {}, "127.0.0.1": {}, "::1": {}}

// Коды причин отказа. Наружу не отдаются, только в лог и метрики.
const (
	ReasonMissingFields     = "missing_fields"
	ReasonBadAPIKey         = "bad_api_key"
	ReasonBadTimestamp      = "bad_timestamp"
	ReasonStaleTimestamp    = "stale_timestamp"
	ReasonBadSignature      = "bad_signature"
	ReasonReplayed          = "replayed_signature"
	ReasonInsecureTransport = "insecure_transport"
)

// GenericMessage — единственный текст, который видит клиент при любом отказе.
const GenericMessage = "Security verification failed"

// ReplayGuard фиксирует принятые подписи; Seen=true, если подпись уже встречалась.
type ReplayGuard interface {
	Seen(ctx context.Context, signature string, ttl time.Duration) (bool, error)
}

type Options struct {
	APIKey       string
	Secret       string
	Grace        time.Duration // окно свежести timestamp в обе стороны
	RequireHTTPS bool
	LocalHosts   []string // доп. имена без TLS; localhost/127.0.0.1/::1 пускаются только с loopback
	Replay       ReplayGuard
}

type Result struct {
	OK     bool
	Reason string
}

type Verifier struct {
	apiKey       string
	secret       string
	grace        time.Duration
	requireHTTPS bool
	localHosts   map[string]struct{}
	replay       ReplayGuard
	now          func() time.Time
}

func NewVerifier(o Options) *Verifier {
	if o.Grace <= 0 {
		o.Grace = 5 * time.Minute
	}
	hosts := map[string]struct{}{}
	for _, h := range o.LocalHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			hosts[h] = struct{}{}
		}
	}
	return &Verifier{
		apiKey:       o.APIKey,
		secret:       o.Secret,
		grace:        o.Grace,
		requireHTTPS: o.RequireHTTPS,
		localHosts:   hosts,
		replay:       o.Replay,
		now:          time.Now,
	}
}

func fail(reason string) Result { return Result{Reason: reason} }

// Verify проверяет apiKey, свежесть timestamp, подпись и повтор подписи.
// error возвращается только при недоступности replay-хранилища.
func (v *Verifier) Verify(ctx context.Context, payload map[string]any) (Result, error) {
	apiKey, _ := payload[FieldAPIKey].(string)
	sig, _ := payload[FieldSignature].(string)
	if apiKey == "" || sig == "" || payload[FieldTimestamp] == nil {
		return fail(ReasonMissingFields), nil
	}
	if subtle.ConstantTimeCompare([]byte(apiKey), []byte(v.apiKey)) != 1 {
		return fail(ReasonBadAPIKey), nil
	}

	tsText, ok := timestampText(payload[FieldTimestamp])
	if !ok {
		return fail(ReasonBadTimestamp), nil
	}
	ts, err := ParseTimestamp(tsText)
	if err != nil {
		return fail(ReasonBadTimestamp), nil
	}
	now := v.now()
	if ts.Before(now.Add(-v.grace)) || ts.After(now.Add(v.grace)) {
		return fail(ReasonStaleTimestamp), nil
	}

	msg, err := Canonical(payload)
	if err != nil {
		return fail(ReasonBadSignature), nil
	}
	want := mac(msg, v.secret)
	// сравнение с постоянным временем
	if !hmacEqualHex(sig, want) {
		return fail(ReasonBadSignature), nil
	}

	// повтор имеет смысл только пока timestamp в окне; храним с запасом
	if v.replay != nil {
		seen, err := v.replay.Seen(ctx, strings.ToLower(sig), 2*v.grace)
		if err != nil {
			return Result{}, fmt.Errorf("replay guard: %w", err)
		}
		if seen {
			return fail(ReasonReplayed), nil
		}
	}
	return Result{OK: true}, nil
}

// CheckTransport требует HTTPS, кроме локальных хостов разработки.
func (v *Verifier) CheckTransport(r *http.Request) bool {
	if !v.requireHTTPS || middleware.IsHTTPS(r) {
		return true
	}
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(strings.Trim(host, "[]"))
	if _, ok := v.localHosts[host]; ok {
		return true
	}
	// Host присылает клиент: loopback-имена принимаем только с loopback-адреса
	if _, ok := loopbackNames[host]; ok {
		ip := net.ParseIP(middleware.ClientIP(r))
		return ip != nil && ip.IsLoopback()
	}
	return false
}

// ParseTimestamp принимает RFC 3339 или unix-время в секундах/миллисекундах.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
	}
	// больше 1e11 — это уже миллисекунды (секунды дадут 5138 год)
	if f > 1e11 {
		return time.UnixMilli(int64(f)), nil
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)), nil
}

func hmacEqualHex(got, want string) bool {
	return hmac.Equal([]byte(strings.ToLower(got)), []byte(want))
}
