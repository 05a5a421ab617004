package api

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/plexoapp/plexo/domain"
)

// streamChanges bridges one change subscription onto a server-sent-event
// connection. Closing the HTTP connection closes the subscription and frees
// its dedicated database connection.
func streamChanges(streams Streams, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		resource, err := domain.ParseResourceType(c.QueryParam("resource"))
		if err != nil {
			return c.String(http.StatusBadRequest, err.Error())
		}

		ctx := c.Request().Context()
		sub, err := streams.Listen(ctx, resource)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusServiceUnavailable, err.Error())
		}
		defer sub.Close()

		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		c.Response().WriteHeader(http.StatusOK)
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}
		flusher.Flush()

		for {
			select {
			case <-ctx.Done():
				return nil
			case event, ok := <-sub.Events():
				if !ok {
					if err := sub.Err(); err != nil {
						logger.WithError(err).Warnf("change stream for %s terminated", resource)
						return err
					}
					return nil
				}
				data, err := json.Marshal(event)
				if err != nil {
					c.Logger().Error(err)
					return err
				}
				if _, err := c.Response().Write([]byte("data: ")); err != nil {
					return err
				}
				if _, err := c.Response().Write(data); err != nil {
					return err
				}
				if _, err := c.Response().Write([]byte("\n\n")); err != nil {
					return err
				}
				flusher.Flush()
			}
		}
	}
}
