/*
包 server 提供 HTTP 服务器生命周期管理：非阻塞启动、
优雅关闭、信号监听以及关闭钩子。

# 核心类型

  - Manager：封装 net/http.Server，提供 Start/Shutdown/Run/WaitForShutdown。
  - Config：监听地址、读写超时、空闲超时与优雅关闭超时。

# 关闭顺序

Shutdown 先排空 http.Server 上的请求（包括仍在进行的流式响应），
再以注册的逆序执行 OnShutdown 钩子，例如排空后台分析任务池、
关闭缓存与数据库连接。
*/
package server
