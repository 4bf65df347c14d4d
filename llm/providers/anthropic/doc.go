/*
# 概述

包 anthropic 基于官方 anthropic-sdk-go 实现 llm.Provider，
对接 Claude Messages API（/v1/messages）。

# 协议差异

  - system 消息从 messages 中提取，单独放入 system 字段
  - 相邻同角色消息会被合并，开头的 assistant 消息会被丢弃
  - 每个请求都必须带 max_tokens，未指定时使用 DefaultMaxTokens
  - 流式事件中只关心 content_block_delta（text_delta）与 message_delta
*/
package anthropic
