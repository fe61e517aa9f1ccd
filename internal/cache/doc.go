// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package cache 提供基于 Redis 的键值缓存管理器，带统一的键前缀、默认 TTL
// 与后台健康检查。转存模块用它记录"源 URL → 已转存 URL"的映射。
//
// 该包为内部包，不应被外部项目导入。
package cache
