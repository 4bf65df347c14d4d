// Package config 提供 chat 服务的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量（CHAT_ 前缀）的顺序加载，
// Validate 汇总所有校验错误后一次性返回。
package config
