// Package auth 提供密码哈希（bcrypt）与 JWT 令牌的签发和校验。
//
// 令牌使用 HS256 签名，载荷携带 user_id、exp、iat 与可选的 iss，
// 由 cmd/chat 的 JWTAuth 中间件在每个受保护路由上校验。
package auth
