// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package openai 适配 OpenAI 同步接口：gpt-image-1 图像生成
// （/images/generations）与编辑（/images/edits，multipart），
// 其余模型走 /chat/completions，支持图像理解。
package openai
