package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"image"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/namuol/magic-eye-mirror/appconfig"
	"github.com/namuol/magic-eye-mirror/auth"
	"github.com/namuol/magic-eye-mirror/imgio"
	"github.com/namuol/magic-eye-mirror/pipeline"
	"github.com/namuol/magic-eye-mirror/renderer"
	"github.com/namuol/magic-eye-mirror/snapshot"
	"github.com/namuol/magic-eye-mirror/stream"
)

// Dependencies struct to hold shared dependencies
type Dependencies struct {
	Config     appconfig.Config
	ConfigPath string

	Controls  *pipeline.Controls
	Loop      *pipeline.Loop
	Depth     *pipeline.DepthTracker
	Frames    *stream.ConnectionManager[[]byte]
	Events    *stream.ConnectionManager[stream.Message]
	Snapshots *snapshot.Service
	Auth      *auth.AuthService

	Started time.Time
}

// HomeTemplateData feeds the "home" template.
type HomeTemplateData struct {
	Width     int
	Height    int
	FPS       int
	DepthMode string
	Settings  pipeline.Settings
}

type LoginTemplateData struct {
	Username string
	Error    string
}

type SnapshotsTemplateData struct {
	Snapshots []snapshot.Record
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write json: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func wantsJSON(r *http.Request) bool {
	return r.URL.Query().Get("format") == "json" ||
		strings.Contains(r.Header.Get("Accept"), "application/json") ||
		strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}

func homeHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		renderer.Render(w, "home", HomeTemplateData{
			Width:     deps.Config.Width,
			Height:    deps.Config.Height,
			FPS:       deps.Config.FPS,
			DepthMode: deps.Config.Depth.Mode,
			Settings:  deps.Controls.Get(),
		})
	}
}

func getParamsHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Controls.Get())
	}
}

// updateParamsHandler applies a full or partial settings object. Fields
// missing from the body keep their current values.
func updateParamsHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := deps.Controls.Get()
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&s); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := deps.Controls.Update(s); err != nil {
			if errors.Is(err, pipeline.ErrInvalidParams) {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		s = deps.Controls.Get()
		persistSettings(deps, s)
		publish(deps, "params", s)
		writeJSON(w, http.StatusOK, s)
	}
}

// persistSettings writes the tunables back to the config file so they
// survive a restart. Failure only costs persistence.
func persistSettings(deps *Dependencies, s pipeline.Settings) {
	if deps.ConfigPath == "" {
		return
	}
	cfg := appconfig.Get()
	cfg.Stereogram = s.Fractions
	if _, err := appconfig.SaveTo(deps.ConfigPath, cfg); err != nil {
		log.Printf("warning: failed to save settings: %v", err)
	}
}

func publish(deps *Dependencies, typ string, v any) {
	if deps.Events == nil {
		return
	}
	msg, err := stream.JSONMessage(typ, v)
	if err != nil {
		log.Printf("events: encode %s: %v", typ, err)
		return
	}
	deps.Events.Broadcast(msg)
}

// freezeHandler sets freeze from {"freeze": bool}, or toggles it when the
// body is empty.
func freezeHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Freeze *bool `json:"freeze"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<10)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		var frozen bool
		if body.Freeze != nil {
			deps.Controls.SetFreeze(*body.Freeze)
			frozen = *body.Freeze
		} else {
			frozen = deps.Controls.ToggleFreeze()
		}
		log.Printf("Freeze: %v", frozen)
		publish(deps, "params", deps.Controls.Get())
		writeJSON(w, http.StatusOK, map[string]bool{"freeze": frozen})
	}
}

// encodeImage writes img in the format named by ?format=, PNG by default.
func encodeImage(w http.ResponseWriter, r *http.Request, img image.Image, quality int) {
	f := imgio.PNG
	if name := r.URL.Query().Get("format"); name != "" {
		var err error
		if f, err = imgio.ParseFormat(name); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	var buf bytes.Buffer
	if err := imgio.Encode(&buf, img, f, quality); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", f.ContentType())
	w.Header().Set("Cache-Control", "no-store")
	w.Write(buf.Bytes())
}

func frameHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fr, ok := deps.Loop.Latest()
		if !ok {
			writeError(w, http.StatusServiceUnavailable, errors.New("no frame rendered yet"))
			return
		}
		encodeImage(w, r, fr.Image, deps.Config.JPEGQuality)
	}
}

func depthHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cur := deps.Depth.Current()
		if cur == nil || cur.Map == nil {
			writeError(w, http.StatusServiceUnavailable, errors.New("no depth map yet"))
			return
		}
		encodeImage(w, r, cur.Map.Gray(), deps.Config.JPEGQuality)
	}
}

func snapshotHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fr, ok := deps.Loop.Latest()
		if !ok {
			writeError(w, http.StatusServiceUnavailable, snapshot.ErrNoFrame)
			return
		}
		rec, err := deps.Snapshots.Take(r.Context(), fr)
		if err != nil {
			log.Printf("snapshot failed: %v", err)
			writeError(w, http.StatusBadGateway, err)
			return
		}
		log.Printf("Snapshot %s saved to %s", rec.ID, rec.Location)
		publish(deps, "snapshot", rec)
		writeJSON(w, http.StatusCreated, rec)
	}
}

func snapshotsHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recs, err := deps.Snapshots.Catalog.List(r.Context(), 100)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if wantsJSON(r) {
			if recs == nil {
				recs = []snapshot.Record{}
			}
			writeJSON(w, http.StatusOK, recs)
			return
		}
		renderer.Render(w, "snapshots", SnapshotsTemplateData{Snapshots: recs})
	}
}

// loginHandler serves the sign-in form and exchanges credentials for a
// session token. JSON clients get the token in the body, browsers get the
// session cookie and a redirect.
func loginHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			renderer.Render(w, "login", LoginTemplateData{})
			return
		}

		var creds struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		jsonReq := strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
		if jsonReq {
			if err := json.NewDecoder(io.LimitReader(r.Body, 1<<12)).Decode(&creds); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
		} else {
			creds.Username = r.FormValue("username")
			creds.Password = r.FormValue("password")
		}

		token, err := deps.Auth.Login(creds.Username, creds.Password)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, auth.ErrInvalidCreds) {
				status = http.StatusUnauthorized
			}
			if jsonReq {
				writeError(w, status, err)
				return
			}
			renderer.RenderStatus(w, status, "login", LoginTemplateData{Username: creds.Username, Error: "Invalid username or password."})
			return
		}

		http.SetCookie(w, auth.SessionCookie(token))
		if jsonReq {
			writeJSON(w, http.StatusOK, map[string]string{"token": token})
			return
		}
		http.Redirect(w, r, "/", http.StatusSeeOther)
	}
}

func healthHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"status":        "ok",
			"uptimeSeconds": int64(time.Since(deps.Started).Seconds()),
			"frozen":        deps.Controls.Frozen(),
			"depthFailures": deps.Depth.Failures(),
		}
		if cur := deps.Depth.Current(); cur != nil {
			resp["depthGeneration"] = cur.Generation
		}
		if deps.Frames != nil {
			resp["frames"] = deps.Frames.Stats()
		}
		if deps.Events != nil {
			resp["events"] = deps.Events.Stats()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// routes registers every endpoint on a new mux.
func routes(deps *Dependencies) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", renderer.ApplyMiddlewares(homeHandler(deps), renderer.RolePublic))
	mux.HandleFunc("GET /stream.mjpg", renderer.ApplyMiddlewares(stream.MJPEGHandler(deps.Frames), renderer.RolePublic))
	mux.HandleFunc("GET /events", renderer.ApplyMiddlewares(stream.EventsHandler(deps.Events), renderer.RolePublic))
	mux.HandleFunc("GET /frame.png", renderer.ApplyMiddlewares(frameHandler(deps), renderer.RolePublic))
	mux.HandleFunc("GET /depth.png", renderer.ApplyMiddlewares(depthHandler(deps), renderer.RolePublic))
	mux.HandleFunc("GET /params", renderer.ApplyMiddlewares(getParamsHandler(deps), renderer.RolePublic))
	mux.HandleFunc("POST /params", renderer.ApplyMiddlewares(updateParamsHandler(deps), renderer.RoleAdmin))
	mux.HandleFunc("POST /freeze", renderer.ApplyMiddlewares(freezeHandler(deps), renderer.RolePublic))
	mux.HandleFunc("POST /snapshot", renderer.ApplyMiddlewares(snapshotHandler(deps), renderer.RoleAdmin))
	mux.HandleFunc("GET /snapshots", renderer.ApplyMiddlewares(snapshotsHandler(deps), renderer.RolePublic))
	mux.HandleFunc("/login", renderer.ApplyMiddlewares(loginHandler(deps), renderer.RolePublic))
	mux.HandleFunc("GET /health", healthHandler(deps))
	return mux
}
