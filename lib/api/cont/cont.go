package cont

import (
	"context"
)

type ctxKey string

const (
	PrincipalKey  ctxKey = "principal"
	RemoteAddrKey ctxKey = "remoteAddr"
)

// PutPrincipal stores the principal id resolved from the API key.
func PutPrincipal(c context.Context, principal int64) context.Context {
	return context.WithValue(c, PrincipalKey, principal)
}

func GetPrincipal(c context.Context) (int64, bool) {
	principal, ok := c.Value(PrincipalKey).(int64)
	return principal, ok
}

func PutRemoteAddr(c context.Context, addr string) context.Context {
	return context.WithValue(c, RemoteAddrKey, addr)
}

func GetRemoteAddr(c context.Context) string {
	addr, _ := c.Value(RemoteAddrKey).(string)
	return addr
}
