// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package bfl 适配 Black Forest Labs Flux 异步图片生成：POST /v1/{model}
// 提交，polling_url（或 /v1/get_result?id=）轮询，结果归一为
// {"images": [sample]}。
package bfl
