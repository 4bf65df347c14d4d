/*
Package main 提供 chat 服务端程序入口。

# 概述

cmd/chat 装配存储、缓存、LLM Provider、聊天服务与 HTTP 路由，
提供 serve、migrate、health、version 子命令。

# 核心类型

  - Server         — 持有所有依赖，管理 HTTP、Metrics 双端口及优雅关闭
  - Middleware     — HTTP 中间件函数签名 func(http.Handler) http.Handler
  - responseWriter — 记录状态码与响应大小，透传 Flush / Hijack

# 中间件链

Recovery → RequestID → SecurityHeaders → RequestLogger → Metrics →
OTelTracing → CORS → RateLimiter（基于 IP）→ JWTAuth（/api/ 下除注册、登录外）

# 关闭顺序

收到 SIGINT/SIGTERM 后停止接收请求并排空在途连接，随后依次停止限流清理、
排空后台分析任务、关闭 Redis 与数据库，最后刷新 OpenTelemetry。
*/
package main
