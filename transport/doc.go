// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package transport 提供访问上游 Provider 的出站 HTTP 基础设施。

# 概述

NewClient 根据显式传入的 ProxyConfig 构造 http.Client：代理选择通过
golang.org/x/net/http/httpproxy 完成，不会修改进程环境变量；localhost
与 127.0.0.1 始终直连。传输层使用 TLS 1.2+ 与仅 AEAD 的密码套件。

Do / Send 读取完整响应体并只把网络层错误作为 error 返回，HTTP 状态
由调用方（提交器、轮询器）自行分类；IsTransientStatus 将 5xx 与 429
视为可重试。
*/
package transport
