/*
# 概述

包 openai 基于官方 github.com/openai/openai-go SDK 提供 OpenAI Chat
Completions 的 Provider 实现。

# 核心结构体

  - Provider — 实现 llm.Provider；Stream 把 SDK 的 SSE 流转换为
    llm.StreamChunk 通道，ctx 取消即中止上游请求
  - ChatCompletions — SDK 客户端子集接口，便于测试替换

# 错误映射

SDK 返回的 *openai.Error 按 HTTP 状态映射为 llm.Error；
insufficient_quota 映射为 QUOTA_EXCEEDED。
*/
package openai
