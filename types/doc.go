// Copyright (c) Chat Authors.
// Licensed under the MIT License.

/*
Package types 提供 chat 服务的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 llm、chat、store、api 等
上层模块提供统一的错误契约与请求上下文传播。

# 核心类型

  - Error / ErrorCode — 结构化错误体系，含 HTTP 状态码与 Retryable 标记
  - WithUserID / UserID — 认证后的用户 ID 在 context 中传播
  - WithRequestID / WithTraceID — 请求追踪标识
*/
package types
