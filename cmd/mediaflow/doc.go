// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 MediaFlow 服务端程序入口。

# 概述

cmd/mediaflow 是生成式媒体网关的可执行入口，提供 HTTP API 服务、
健康检查和版本查询等子命令。程序支持 YAML 配置与 .env 文件加载、
结构化日志（zap）、Prometheus 指标、OpenTelemetry 追踪以及
S3 结果转存。

# 核心类型

  - Server        — 主服务器，装配 provider、转存与缓存，管理 HTTP、Metrics 双端口
  - Middleware    — HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve（启动服务）、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、
    Metrics、OTelTracing、RateLimiter（基于 IP）
  - Redis 不可用时降级为无 URL 缓存，并在 /ready 中报告
  - 优雅关闭：信号监听 → 关闭 HTTP → 关闭 Metrics → 关闭 Redis → 刷新遥测
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
