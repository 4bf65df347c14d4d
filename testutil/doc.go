/*
Package testutil 提供各包测试共享的辅助函数。

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext
  - 异步断言: AssertEventuallyTrue / WaitFor
  - 流式辅助: CollectStreamContent / SendChunksToChannel / ParseSSE
  - 存储辅助: NewTestStore（内存 SQLite）与 StepClock

子包 testutil/mocks 提供脚本化的 MockProvider。
*/
package testutil
