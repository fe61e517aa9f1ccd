// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package credential 将入站请求携带的凭据信封解析为封闭的凭据类型。

# 概述

信封可能是纯字符串、包含直接字段或 encryptedData 的对象，也可能缺失。
Resolver 按固定优先级解析：纯字符串 → 直接字段 → encryptedData
（JSON 解析失败时原样作为 API Key）→ 配置中的进程级回退凭据。
全部落空时返回 CONFIGURATION 错误。每次请求都重新解析，不做缓存。

# 核心类型

  - Credential — 封闭的和类型：APIKey / AKSK / Absent
  - Envelope — 兼容任意 JSON 形态的凭据信封
  - Resolver — 单个 Provider 的解析器（Provider、Family、Fallback）

所有凭据与信封在 String() 和 MarshalJSON() 中都会脱敏。
*/
package credential
