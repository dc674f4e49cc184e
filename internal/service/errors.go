package service

import "errors"

// 业务层通用错误，handler 可根据错误类型映射到合适的 HTTP 状态码。
var (
	ErrEmailTaken         = errors.New("email taken")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTeamNotFound       = errors.New("team not found")
	ErrTaskNotFound       = errors.New("task not found")
	ErrNotTeamMember      = errors.New("not a team member")
	ErrAlreadyMember      = errors.New("already a team member")
)
