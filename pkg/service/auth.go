package service

// AuthContext 已通过鉴权的调用方，由 HTTP 层构建后显式传入
type AuthContext struct {
	AdminID string
	Token   string
	Source  string // api, scheduler, cli
}

// Actor 记录到任务集 created_by 的标识
func (a AuthContext) Actor() string {
	if a.AdminID != "" {
		return a.Source + ":" + a.AdminID
	}
	return a.Source
}

// SystemAuth 定时任务与命令行使用的内部身份
func SystemAuth(source string) AuthContext {
	return AuthContext{Source: source}
}
