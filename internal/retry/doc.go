// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package retry 为出站短请求提供指数退避重试（可选抖动），
// 默认只重试上游 5xx/429 与网络层错误。
package retry
