// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package gemini 适配 Gemini generateContent 图像生成。响应中的内联
// base64 图像上传到对象存储后以 URL 返回，未配置存储时调用失败。
package gemini
