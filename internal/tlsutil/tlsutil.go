// Package tlsutil builds the hardened HTTP clients used to reach upstream
// model providers.
package tlsutil

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// ClientOptions 上游客户端参数
type ClientOptions struct {
	// ResponseHeaderTimeout 等待响应头的最长时间；流式响应体不受此限制
	ResponseHeaderTimeout time.Duration
	MaxIdleConnsPerHost   int
}

// DefaultClientOptions returns options tuned for long-lived streaming calls.
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		ResponseHeaderTimeout: 60 * time.Second,
		MaxIdleConnsPerHost:   16,
	}
}

// DefaultTLSConfig returns a hardened TLS configuration.
// MinVersion TLS 1.2, AEAD-only cipher suites.
func DefaultTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
		},
	}
}

// UpstreamTransport returns an http.Transport with TLS hardening.
func UpstreamTransport(opts ClientOptions) *http.Transport {
	return &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: DefaultTLSConfig(),
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   opts.MaxIdleConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: opts.ResponseHeaderTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// StreamingHTTPClient 返回没有整体超时的客户端。
// http.Client.Timeout 会覆盖读取响应体的时间，从而截断长回复；
// 请求的生命周期由调用方的 context 控制。
func StreamingHTTPClient(opts ClientOptions) *http.Client {
	return &http.Client{Transport: UpstreamTransport(opts)}
}
