/*
包 cache 提供基于 Redis 的缓存管理。

# 核心类型

  - Manager：封装 go-redis 客户端，提供字符串与 JSON 读写、删除、Ping 与关闭。
  - HistoryCache：按会话缓存最近消息，Load 实现读穿透与回填，
    新消息落库后通过 Invalidate 失效。
*/
package cache
