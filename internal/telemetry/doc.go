// Package telemetry 封装 OpenTelemetry SDK 初始化，
// 为 HTTP 中间件提供 TracerProvider 与 MeterProvider。
// 禁用时使用 noop 实现，不连接任何外部服务。
package telemetry
