// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package metrics 基于 Prometheus 收集网关指标：HTTP 请求、任务提交与
// 轮询轮次、任务终态耗时，以及结果转存与 URL 缓存命中情况。
//
// 该包为内部包，不应被外部项目导入。
package metrics
