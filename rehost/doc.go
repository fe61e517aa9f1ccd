// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package rehost 将 Provider 结果中的文件 URL 转存到对象存储并改写结果。
//
// Rehoster 递归遍历字符串、数组与对象，提取 Markdown 图片与裸 URL，
// 用 HEAD（失败时回退到 GET）探测内容类型，跳过 HTML 页面，下载后以
// uploads/<时间戳>-<uuid>.<扩展名> 为键上传。单个 URL 失败时保留原 URL。
// 已经指向目标存储的 URL 不再处理，因此重复处理同一结果不会产生变化。
// 可选的 Redis 缓存记录已转存的 URL，避免重复上传。
package rehost
