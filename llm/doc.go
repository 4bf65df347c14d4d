/*
包 llm 提供统一的大语言模型接入层。

# 概述

本包屏蔽 OpenAI 与 Anthropic 在接口、错误语义和流式协议上的差异，
对上层业务暴露一致的请求与响应模型。

# 核心接口

  - [Provider]：Completion / Stream / Name
  - [StreamChunk]：流式增量片段，Err 非空表示上游失败

# 子包

  - providers/openai、providers/anthropic：具体 Provider 实现
  - factory：按配置构造 Provider
  - retry：有界重试策略
  - streaming：流式响应管线（缓冲、编码、持久化、控制器）
  - tokenizer：Token 计数，用于历史消息裁剪
*/
package llm
