// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package fal 适配 fal.ai 队列 API：POST /{endpoint} 入队，
// status_url 轮询，完成后从 response_url 取回结果。
package fal
