/*
包 metrics 提供基于 Prometheus 的指标采集，覆盖 HTTP、
非流式 LLM 调用、流式会话、缓存、数据库与后台任务。

# 核心类型

  - Collector：持有 Counter、Histogram、Gauge 等向量指标。
    它同时实现 streaming.Recorder，由流控制器在每个流结束时回调。

# 主要指标

  - streams_total{outcome}、stream_fragments_total、stream_flushes_total
  - stream_duration_seconds{outcome}、stream_sink_failures_total、streams_active
  - http_requests_total{method,path,status}、http_request_duration_seconds
  - llm_requests_total、llm_tokens_used_total
  - cache_hits_total、cache_misses_total、db_connections_open/idle
*/
package metrics
