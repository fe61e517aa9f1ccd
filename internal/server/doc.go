// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package server 管理 HTTP 服务器生命周期：非阻塞启动、可选 TLS、
// 优雅关闭与异步错误传播。API 服务与 metrics 服务各持有一个 Manager。
package server
