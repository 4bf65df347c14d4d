/*
包 streaming 实现把上游逐 token 生成的内容转成客户端事件流的管线。

# 组件

  - ChunkBuffer：累积片段，按时间间隔或句末标点（. ! ?）决定刷新时机。
  - Encoder：StructuredEncoder（每个事件一条 JSON 记录，SSE 或裸 JSON 帧）
    与 RawEncoder（原文输出，以关闭连接表示结束），按流固定。
  - Sink：正常结束后以完整文本调用且最多调用一次的持久化回调。
  - Transport：HTTPTransport（分块响应，首次写入时才提交响应头）与
    WebSocketTransport（每个事件一条文本消息）。
  - Controller：状态机 Idle → Streaming → (Flushing)* → Completing → Closed，
    另有 Erroring 与 Cancelling 分支。

# 策略

默认取消时丢弃未完成内容，Sink 失败只记录日志，空响应不持久化；
对应 Config.PersistPartialOnCancel、SinkFailureFatal、PersistEmpty 三个开关。
Sink 在上游结束后以脱离请求取消的 context 执行，客户端此时断开不会中断写入。
*/
package streaming
