package handlers

import (
	"context"

	"github.com/campusloop/campusloop/internal/models"
	"github.com/campusloop/campusloop/internal/services"
)

type contextKey string

const (
	userContextKey         contextKey = "user"
	capabilitiesContextKey contextKey = "capabilities"
)

func SetUserInContext(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

func GetUserFromContext(ctx context.Context) *models.User {
	user, _ := ctx.Value(userContextKey).(*models.User)
	return user
}

func SetCapabilitiesInContext(ctx context.Context, caps services.Capabilities) context.Context {
	return context.WithValue(ctx, capabilitiesContextKey, caps)
}

func GetCapabilitiesFromContext(ctx context.Context) services.Capabilities {
	caps, _ := ctx.Value(capabilitiesContextKey).(services.Capabilities)
	return caps
}
