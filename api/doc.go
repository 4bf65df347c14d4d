// Package api 定义聊天服务 HTTP API 的请求与响应结构。
//
// # 认证
//
// 除 /api/auth/register 与 /api/auth/login 外，所有 /api/ 路由都需要
// Bearer 令牌：
//
//	Authorization: Bearer <token>
//
// # 响应格式
//
// 普通接口使用统一信封 {success, data, error, timestamp}；
// /api/chat/stream 返回 text/event-stream，每个事件为 "data: <json>\n\n"：
//
//	{"message": "...", "userInfo": [...], "isPartial": true}
//	{"message": "...", "userInfo": [...], "isPartial": false}   // 上游结束时剩余的缓冲
//	{"message": "<全文>", "userInfo": [...], "isComplete": true}
//	{"error": "Stream processing failed", "details": "..."}
package api
