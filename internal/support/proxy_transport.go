package support

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"time"

	"poolwarden/internal/domain"

	"golang.org/x/net/proxy"
)

// Proxy protocols understood by CreateProxyTransport.
const (
	ProxyProtocolHTTP   = "http"
	ProxyProtocolSocks5 = "socks5"
)

// CreateProxyTransport builds a one-shot transport that tunnels requests
// through the given proxy server. Keep-alives are disabled: each probe or
// lookup owns its connection and releases it immediately.
func CreateProxyTransport(through domain.ProxyServer, protocol string, timeout time.Duration) (*http.Transport, error) {
	dialer := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 0,
	}

	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		DisableKeepAlives:     true,
		MaxIdleConns:          0,
		MaxIdleConnsPerHost:   0,
		IdleConnTimeout:       0,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	switch protocol {
	case ProxyProtocolSocks5:
		var auth *proxy.Auth
		if through.HasAuth() {
			auth = &proxy.Auth{User: through.Username, Password: through.Password}
		}
		socksDialer, err := proxy.SOCKS5("tcp", through.Address(), auth, dialer)
		if err != nil {
			return nil, err
		}
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			if contextDialer, ok := socksDialer.(proxy.ContextDialer); ok {
				return contextDialer.DialContext(ctx, network, addr)
			}
			return socksDialer.Dial(network, addr)
		}
	default:
		proxyURL := &url.URL{
			Scheme: "http",
			Host:   through.Address(),
		}
		if through.HasAuth() {
			proxyURL.User = url.UserPassword(through.Username, through.Password)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return transport, nil
}
