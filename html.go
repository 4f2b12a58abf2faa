/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"fmt"
	"html"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/Seednode/partyrelay/relay"
)

// serveHomePage hands websocket upgrades on the root path to the relay
// and answers everything else with a short usage page.
func serveHomePage(cfg *Config, srv *relay.Server, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		if websocket.IsWebSocketUpgrade(r) {
			srv.ServeHTTP(w, r)

			return
		}

		startTime := time.Now()

		ws := html.EscapeString(cfg.prefix + "/ws")

		body := fmt.Sprintf(`<h1>partyrelay v%s</h1>`+
			`<p>Connect a websocket to <code>%s?room=&lt;room&gt;</code>. `+
			`Frames are JSON objects of the form <code>{"room": "...", "payload": ...}</code> `+
			`and reach every other connection in the same room.</p>`+
			`<p>Connections that do not name a room join <code>%s</code>.</p>`,
			releaseVersion, ws, html.EscapeString(cfg.defaultRoom))

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		securityHeaders(cfg, w)

		written, err := w.Write([]byte(newPage("partyrelay", body)))
		if err != nil {
			errs <- err

			return
		}

		logf(cfg, "SERVE: Home page (%s) to %s in %s",
			humanReadableSize(int64(written)),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

func serveHealthCheck(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		securityHeaders(cfg, w)

		_, err := w.Write([]byte("Ok\n"))
		if err != nil {
			errs <- err

			return
		}
	}
}

func serveRobots(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		data := `User-agent: *
Disallow: /`

		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		securityHeaders(cfg, w)

		_, err := w.Write([]byte(data))
		if err != nil {
			errs <- err

			return
		}
	}
}
