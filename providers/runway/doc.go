// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package runway 适配 Runway 异步任务 API（image_to_video、video_to_video、
// text_to_image、video_upscale、character_performance），统一通过
// GET /tasks/{id} 轮询。
package runway
