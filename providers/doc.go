// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package providers 汇总各生成式媒体 Provider 的共享配置与适配工具。

# 概述

各子包实现 task.Provider（异步）或 task.Caller（同步）：

  - bfl — Black Forest Labs Flux，x-key 认证
  - runway — Runway 视频/图片，Bearer + X-Runway-Version
  - tripo — Tripo3D 三维生成，Bearer
  - volcvisual — 火山引擎视觉（即梦 v4），AK/SK 签名
  - fal — fal.ai 队列 API，Key 认证
  - ark — 火山方舟同步图片生成，Bearer
  - googlesearch — Serper 谷歌搜索，X-API-KEY
  - openai — OpenAI 图像生成/编辑与对话，Bearer
  - gemini — Gemini 图像生成，x-goog-api-key，内联图像上传到对象存储

本包提供 PollConfig（轮询预算配置）、各 Provider 的 Config、
ChooseOperation（端点/模型选择）以及统一的 SUBMISSION 错误构造。
*/
package providers
