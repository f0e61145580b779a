package httpapi

import (
	"bufio"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"github.com/i474232898/disease-trend-forecast/internal/logging"
	"github.com/i474232898/disease-trend-forecast/internal/query"
)

// streamHandler serves live updates as Server-Sent Events. The subscription is
// released as soon as a write to the client fails.
func streamHandler(service *query.Service, opts Options) fiber.Handler {
	log := logging.Component("sse")

	return func(c *fiber.Ctx) error {
		q, err := parseSeriesQuery(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		updates, unsubscribe, err := service.Subscribe(q.City, q.Disease)
		if err != nil {
			return mapError(err, "failed to subscribe")
		}

		c.Set(fiber.HeaderContentType, "text/event-stream")
		c.Set(fiber.HeaderCacheControl, "no-cache")
		c.Set(fiber.HeaderConnection, "keep-alive")
		c.Set("X-Accel-Buffering", "no")

		remote := c.IP()
		c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
			defer unsubscribe()

			heartbeat := time.NewTicker(opts.Heartbeat)
			defer heartbeat.Stop()

			fmt.Fprint(w, "retry: 5000\n\n")
			if err := w.Flush(); err != nil {
				return
			}

			sent := 0
			for {
				select {
				case u, ok := <-updates:
					if !ok {
						return
					}
					data, err := json.Marshal(u)
					if err != nil {
						log.Error().Err(err).Msg("failed to encode live update")
						continue
					}
					fmt.Fprintf(w, "event: update\ndata: %s\n\n", data)
					if err := w.Flush(); err != nil {
						log.Debug().Str("remote", remote).Err(err).Msg("stream client went away")
						return
					}
					sent++
					if opts.StreamLimit > 0 && sent >= opts.StreamLimit {
						return
					}
				case <-heartbeat.C:
					fmt.Fprint(w, ": heartbeat\n\n")
					if err := w.Flush(); err != nil {
						log.Debug().Str("remote", remote).Err(err).Msg("stream client went away")
						return
					}
				}
			}
		}))

		return nil
	}
}
