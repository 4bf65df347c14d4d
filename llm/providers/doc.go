// Package providers 提供各 LLM Provider 共享的配置结构与错误映射。
//
// 具体实现位于子包 openai 与 anthropic，均基于官方 Go SDK。
package providers
