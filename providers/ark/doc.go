// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package ark 适配火山方舟（Ark）同步图像生成接口 /images/generations，
// 通过 task.Runner.Call 调用，不经过轮询。
package ark
