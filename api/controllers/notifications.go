package controllers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/dispatchly/dispatchly-backend/api/middleware"
	"github.com/dispatchly/dispatchly-backend/api/responses"
	"github.com/dispatchly/dispatchly-backend/api/validators"
	"github.com/dispatchly/dispatchly-backend/internal/notifications"
	pkgerrors "github.com/dispatchly/dispatchly-backend/pkg/errors"
	"github.com/dispatchly/dispatchly-backend/pkg/logger"
	"github.com/dispatchly/dispatchly-backend/pkg/pagination"
)

var errInboxUnavailable = pkgerrors.New(pkgerrors.CodeInternal, "notifications service unavailable")

// inboxCaller resolves the authenticated user for an inbox endpoint.
func inboxCaller(svc notifications.Service, r *http.Request) (uuid.UUID, error) {
	if svc == nil {
		return uuid.Nil, errInboxUnavailable
	}
	userID, _, err := middleware.Caller(r)
	return userID, err
}

// ListNotifications returns the caller's inbox, newest first.
func ListNotifications(svc notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return responses.Handle(logg, func(_ http.ResponseWriter, r *http.Request) (int, any, error) {
		userID, err := inboxCaller(svc, r)
		if err != nil {
			return 0, nil, err
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			return 0, nil, err
		}
		unreadOnly, err := validators.ParseQueryBool(r, "unreadOnly")
		if err != nil {
			return 0, nil, err
		}

		page, err := svc.List(r.Context(), notifications.ListParams{
			UserID:     userID,
			Limit:      limit,
			Cursor:     strings.TrimSpace(r.URL.Query().Get("cursor")),
			UnreadOnly: unreadOnly,
		})
		return http.StatusOK, page, err
	})
}

func MarkNotificationRead(svc notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return responses.Handle(logg, func(_ http.ResponseWriter, r *http.Request) (int, any, error) {
		userID, err := inboxCaller(svc, r)
		if err != nil {
			return 0, nil, err
		}
		id, err := validators.ParseUUIDParam(r, "notificationId")
		if err != nil {
			return 0, nil, err
		}
		if err := svc.MarkRead(r.Context(), userID, id); err != nil {
			return 0, nil, err
		}
		return http.StatusOK, map[string]bool{"read": true}, nil
	})
}

func MarkAllNotificationsRead(svc notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return responses.Handle(logg, func(_ http.ResponseWriter, r *http.Request) (int, any, error) {
		userID, err := inboxCaller(svc, r)
		if err != nil {
			return 0, nil, err
		}
		updated, err := svc.MarkAllRead(r.Context(), userID)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, map[string]int64{"updated": updated}, nil
	})
}
