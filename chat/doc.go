/*
Package chat 实现聊天应用服务层，连接存储、上游 LLM 与流式控制器。

# 核心能力

  - SendMessage: 发送任务（生成主题、创建会话、持久化用户消息）与
    分析任务（抽取用户资料）作为两个独立任务并行执行，分析失败不影响发送
  - Analyze: 让模型以 JSON 数组返回新的用户资料并追加到用户档案
  - PrepareStream / Stream.Run: 组装系统提示词与历史消息，驱动
    streaming.Controller，完成时由 Completion Sink 持久化助手回复

会话与消息的创建统一经过 llm/retry 的有界重试策略；分析任务提交到
internal/pool 的有界协程池，服务关闭时排空。
*/
package chat
