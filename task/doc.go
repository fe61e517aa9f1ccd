// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package task 实现异步任务的提交、轮询与状态归并引擎。

# 概述

各 Provider 的状态词汇各不相同（Ready / SUCCEEDED / success / done /
COMPLETED ...）。task 通过声明式的 Table 将其统一映射为
processing、completed、failed 三种状态，再由通用 Poller 在有界预算内
驱动轮询循环；预算耗尽时合成 timeout 终态并返回携带任务 ID 的
TIMEOUT 错误，便于调用方通过状态接口继续查询。

# 核心类型

  - Handle — 已提交远程任务的句柄，凭据随句柄贯穿每次轮询，从不持久化
  - Table / Classifier — 每个 Provider 的状态分类表
  - Budget / Option — 初始等待、轮询间隔、最大次数、连续瞬时失败上限
  - Poller — 通用轮询循环，无共享可变状态
  - Runner — 注册 Provider，提供 SubmitAndWait / Submit / Query / Call

# 错误语义

  - REMOTE_FAILURE：Provider 明确报告失败，Details 携带上游诊断载荷
  - TIMEOUT：预算内始终处理中（可重试）
  - POLL_UNREACHABLE：状态接口连续不可达（可重试）
  - CANCELLED：入站请求取消，轮询随之停止
*/
package task
