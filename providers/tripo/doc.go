// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package tripo 适配 Tripo3D 三维模型生成：POST /task 提交（type 字段选择
// text_to_model、image_to_model、refine_model 等），GET /task/{id} 轮询。
package tripo
