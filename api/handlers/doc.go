// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 MediaFlow HTTP API 的请求处理器实现。

# 概述

handlers 包把 task.Runner 暴露为 HTTP 端点：提交并等待、仅提交、
带外状态查询、同步调用以及 provider 列表，同时提供健康检查和
统一的响应/错误处理。所有 Handler 均遵循标准 net/http 接口。

# 核心类型

  - TaskHandler      — 任务端点（generate / tasks / status / invoke / providers）
  - HealthHandler    — 服务健康检查（/health, /healthz, /ready, /version）
  - Response         — 统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo        — 结构化错误信息，含 code、task_id、retryable 标记
  - ResponseWriter   — 包装 http.ResponseWriter 以捕获状态码与响应大小
  - HealthCheck      — 可插拔就绪检查接口，NewCheck 适配 Redis Ping 等函数

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteJSON 辅助函数
  - 请求验证：DecodeJSONBody（大小限制 + 严格模式）、ValidateContentType
  - ErrorCode → HTTP 状态码映射：TIMEOUT 504、CANCELLED 499、REMOTE_FAILURE 422
  - TIMEOUT 与 CANCELLED 响应携带 task_id，可通过状态端点继续查询
  - 请求级轮询预算覆盖（poll.interval_ms、poll.max_attempts 等）
*/
package handlers
