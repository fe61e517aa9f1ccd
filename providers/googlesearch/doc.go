// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package googlesearch 通过 Serper 提供谷歌搜索（网页、图片、新闻、购物等），
// 同步调用，使用 X-API-KEY 鉴权。
package googlesearch
