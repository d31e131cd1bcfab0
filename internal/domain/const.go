package domain

const (
	UserCtxKey = "rh-user"
)
