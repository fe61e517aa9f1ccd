// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供网关的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 task、credential、providers、
api 等上层模块提供统一的错误契约与 context 传播工具，以避免循环依赖。

# 核心类型

  - Error / ErrorCode — 结构化错误体系，含 HTTP 状态码、Retryable、Provider、
    TaskID 以及上游诊断载荷 Details
  - 任务错误码：CONFIGURATION、SUBMISSION、TRANSIENT_POLL、REMOTE_FAILURE、
    TIMEOUT、POLL_UNREACHABLE、CANCELLED

# 主要能力

  - 错误工具链：AsError / GetErrorCode / IsErrorCode / IsRetryable
  - Context 传播：WithRequestID / WithProvider
*/
package types
