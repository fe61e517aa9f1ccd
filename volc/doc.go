// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package volc 实现火山引擎（Volcengine）风格的 HMAC-SHA256 请求签名。

# 概述

Sign 按固定步骤构造签名：请求体 SHA-256 → 规范化请求头 → RFC 3986
查询串 → 规范请求 → 待签字符串 → 派生签名密钥链 → 十六进制签名，
最终生成 Authorization 头。签名是纯函数：相同输入（含 XDate）得到
逐字节相同的输出，与查询参数、请求头的插入顺序无关。

# 核心类型

  - Request — 参与签名的全部输入（方法、主机、路径、查询、请求头、
    请求体、AK/SK、region、service、可选的固定时间戳）
  - Signature — 输出请求头及中间产物（规范请求、待签字符串），便于排查

# 主要能力

  - Sign / Signature.Apply：生成并写入出站请求头
  - SigningKey / CanonicalQuery / EncodeRFC3986：可单独复用的步骤
*/
package volc
