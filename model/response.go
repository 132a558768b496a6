package model

import "github.com/chaos-io/bgstudio/session"

// SessionResponse 会话状态响应
type SessionResponse struct {
	Success bool              `json:"success"`
	Message string            `json:"message,omitempty"`
	Data    *session.Snapshot `json:"data,omitempty"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// ColorRequest 修改背景色请求
type ColorRequest struct {
	Color string `json:"color" binding:"required"`
}

// RemovalResponse 发起去背景响应
type RemovalResponse struct {
	Success bool   `json:"success"`
	Attempt string `json:"attempt"`
}
