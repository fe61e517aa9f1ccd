// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package telemetry 封装 OpenTelemetry SDK 初始化，安装全局
// TracerProvider、MeterProvider 与 W3C 传播器。遥测禁用时不连接任何外部服务。
package telemetry
