package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
)

const (
	clientIPKey ctxKey = "client_ip"
	httpsKey    ctxKey = "forwarded_https"
)

// ProxyTrust — сети обратных прокси, чьим X-Forwarded-* можно верить.
// Пустой список: заголовки игнорируются, клиент — это RemoteAddr.
type ProxyTrust struct {
	nets []*net.IPNet
}

// ParseProxyTrust принимает CIDR или одиночные адреса.
func ParseProxyTrust(entries []string) (*ProxyTrust, error) {
	p := &ProxyTrust{}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if !strings.Contains(e, "/") {
			ip := net.ParseIP(e)
			if ip == nil {
				return nil, fmt.Errorf("trusted proxy %q: not an IP or CIDR", e)
			}
			bits := 128
			if ip.To4() != nil {
				bits = 32
			}
			e = fmt.Sprintf("%s/%d", ip, bits)
		}
		_, n, err := net.ParseCIDR(e)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", e, err)
		}
		p.nets = append(p.nets, n)
	}
	return p, nil
}

func (p *ProxyTrust) trusts(ip net.IP) bool {
	if p == nil || ip == nil {
		return false
	}
	for _, n := range p.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Handler определяет адрес клиента и схему один раз на запрос.
// X-Forwarded-For читается справа налево до первого недоверенного адреса.
func (p *ProxyTrust) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		peer := remoteHost(r)
		ip, https := peer, r.TLS != nil
		if p.trusts(net.ParseIP(peer)) {
			if fwd := p.forwardedFor(r); fwd != "" {
				ip = fwd
			}
			if strings.EqualFold(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")), "https") {
				https = true
			}
		}
		ctx := context.WithValue(r.Context(), clientIPKey, ip)
		ctx = context.WithValue(ctx, httpsKey, https)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (p *ProxyTrust) forwardedFor(r *http.Request) string {
	var hops []string
	for _, v := range r.Header.Values("X-Forwarded-For") {
		for _, h := range strings.Split(v, ",") {
			if h = strings.TrimSpace(h); h != "" {
				hops = append(hops, h)
			}
		}
	}
	for i := len(hops) - 1; i >= 0; i-- {
		ip := net.ParseIP(hops[i])
		if ip == nil {
			// мусор в цепочке: дальше верить нечему
			return ""
		}
		if !p.trusts(ip) || i == 0 {
			return ip.String()
		}
	}
	return ""
}

// ClientIP — адрес клиента, определённый ProxyTrust.Handler, иначе RemoteAddr без порта.
func ClientIP(r *http.Request) string {
	if v, ok := r.Context().Value(clientIPKey).(string); ok && v != "" {
		return v
	}
	return remoteHost(r)
}

// IsHTTPS — TLS на этом соединении или https от доверенного прокси.
func IsHTTPS(r *http.Request) bool {
	if v, ok := r.Context().Value(httpsKey).(bool); ok {
		return v
	}
	return r.TLS != nil
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
