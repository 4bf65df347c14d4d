/*
Package handlers 提供聊天服务 HTTP API 的请求处理器实现。

# 核心类型

  - AuthHandler         — 注册、登录与令牌校验
  - UserHandler         — 更新当前用户的白名单字段
  - ConversationHandler — 会话列表、重命名、删除与消息列表
  - MessageHandler      — 发送消息（发送 + 分析两个并行任务）与单独分析
  - StreamHandler       — SSE 与 WebSocket 两种传输的流式回复
  - UploadHandler       — multipart 附件上传，存储由 BlobStore 抽象
  - HealthHandler       — /health、/healthz、/ready、/version

# 通用约定

  - 统一响应格式：WriteSuccess / WriteError / WriteJSON
  - ToAPIError 将服务层、Provider 与存储层错误映射为 types.Error
  - 所有受保护路由通过 types.UserID 读取 JWT 中间件注入的用户
*/
package handlers
