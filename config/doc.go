// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package config 提供 MediaFlow 的配置加载与校验。
//
// 加载顺序为默认值、YAML 文件、环境变量（MEDIAFLOW_ 前缀，按 env 标签逐层
// 拼接），.env 文件只补充进程环境中缺失的变量。配置在启动后只读。
package config
