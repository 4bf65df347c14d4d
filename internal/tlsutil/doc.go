// Package tlsutil 为上游模型提供方构建安全加固的 HTTP 客户端
// （TLS 1.2+，仅 AEAD 密码套件，流式请求不设整体超时）。
package tlsutil
