// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package volcvisual 适配火山引擎视觉智能（即梦 v4）异步接口：
// CVSync2AsyncSubmitTask 提交、CVSync2AsyncGetResult 轮询，
// 每次请求都使用 volc 包重新签名。API code 非 10000 视为失败。
package volcvisual
