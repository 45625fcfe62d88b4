// Package nets builds the HTTP transport used to reach the model service.
package nets

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/proxy"
)

// NewTransport returns a transport that honours proxyAddr, or the
// environment's proxy settings when proxyAddr is empty.
func NewTransport(proxyAddr string) (*http.Transport, error) {
	direct := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           direct.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	proxyAddr = strings.TrimSpace(proxyAddr)
	if proxyAddr == "" {
		return transport, nil
	}

	u, err := url.Parse(proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("parse proxy %q: %w", proxyAddr, err)
	}
	switch u.Scheme {
	case "http", "https":
		transport.Proxy = http.ProxyURL(u)
	case "socks", "socks5", "socks5h":
		if u.Scheme != "socks5h" {
			u.Scheme = "socks5"
		}
		dialer, err := proxy.FromURL(u, direct)
		if err != nil {
			return nil, fmt.Errorf("proxy dialer: %w", err)
		}
		contextDialer, ok := dialer.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("proxy dialer for %q does not support contexts", u.Scheme)
		}
		transport.Proxy = nil
		transport.DialContext = contextDialer.DialContext
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}
	return transport, nil
}
