package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/SimplyPrint/srix-agent/internal/core"
	"github.com/SimplyPrint/srix-agent/internal/dump"
	"github.com/SimplyPrint/srix-agent/internal/logging"
	"github.com/SimplyPrint/srix-agent/internal/settings"
	"github.com/SimplyPrint/srix-agent/internal/srix"
	"github.com/SimplyPrint/srix-agent/internal/updater"
)

// Version information (set via ldflags in production builds)
var (
	Version   = ""
	BuildTime = ""
	GitCommit = ""
)

func init() {
	// If version wasn't set via ldflags, this is a dev build
	// Try to get VCS info from Go's build info
	if Version == "" {
		Version = "dev"
		if info, ok := debug.ReadBuildInfo(); ok {
			var vcsRevision, vcsTime string
			var vcsModified bool
			for _, setting := range info.Settings {
				switch setting.Key {
				case "vcs.revision":
					vcsRevision = setting.Value
				case "vcs.time":
					vcsTime = setting.Value
				case "vcs.modified":
					vcsModified = setting.Value == "true"
				}
			}
			if vcsRevision != "" {
				shortCommit := vcsRevision
				if len(shortCommit) > 7 {
					shortCommit = shortCommit[:7]
				}
				GitCommit = vcsRevision
				Version = "dev-" + shortCommit
				if vcsModified {
					Version += "-dirty"
				}
			}
			if vcsTime != "" {
				BuildTime = vcsTime
			}
		}
	}
}

// maxDumpBody bounds uploaded dumps. A snapshot of the largest tag is well below it.
const maxDumpBody = 64 << 10

// shutdownHandler is called when a shutdown is requested via API
var shutdownHandler func()

// tags serves every tag route. Set by NewMux.
var tags TagService

// updateChecker serves /v1/updates. NewMux creates one if unset.
var updateChecker *updater.Checker

// SetUpdateChecker replaces the release checker used by /v1/updates.
func SetUpdateChecker(c *updater.Checker) {
	updateChecker = c
}

// SetShutdownHandler sets the callback for shutdown requests
func SetShutdownHandler(handler func()) {
	shutdownHandler = handler
}

// endpoint binds a handler to the methods it accepts.
type endpoint struct {
	path    string
	methods []string
	handler http.HandlerFunc
}

var endpoints = []endpoint{
	{"/v1/readers", []string{http.MethodGet}, handleListReaders},
	{"/v1/tag", []string{http.MethodGet}, handleTag},
	{"/v1/dump", []string{http.MethodGet}, handleDump},
	{"/v1/restore/", []string{http.MethodPost}, handleRestoreRoutes},
	{"/v1/otp", []string{http.MethodGet}, handleOTP},
	{"/v1/otp/reset/", []string{http.MethodPost}, handleOTPReset},
	{"/v1/version", []string{http.MethodGet}, handleVersion},
	{"/v1/health", []string{http.MethodGet}, handleHealth},
	{"/v1/updates", []string{http.MethodGet}, handleUpdates},
	{"/v1/logs", []string{http.MethodGet, http.MethodDelete}, handleLogs},
	{"/v1/crashes", []string{http.MethodGet}, handleCrashes},
	{"/v1/settings", []string{http.MethodGet, http.MethodPost}, handleSettings},
	{"/v1/shutdown", []string{http.MethodPost}, handleShutdown},
}

// NewMux registers every endpoint behind CORS, panic recovery and a method
// check, serving tag routes from svc.
func NewMux(svc TagService) *http.ServeMux {
	tags = svc
	if updateChecker == nil {
		updateChecker = updater.NewChecker(Version, "")
	}

	mux := http.NewServeMux()
	for _, e := range endpoints {
		mux.HandleFunc(e.path, corsMiddleware(allow(e.methods, e.handler)))
	}
	return mux
}

// allow answers 405 with an Allow header for any other method.
func allow(methods []string, next http.HandlerFunc) http.HandlerFunc {
	allowed := strings.Join(methods, ", ")
	return func(w http.ResponseWriter, r *http.Request) {
		if !slices.Contains(methods, r.Method) {
			w.Header().Set("Allow", allowed)
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}

// queryLimit reads ?limit=, clamped to max. Missing or invalid values give def.
func queryLimit(q url.Values, def, max int) int {
	l, err := strconv.Atoi(q.Get("limit"))
	if err != nil || l <= 0 {
		return def
	}
	return min(l, max)
}

// recoveryMiddleware catches panics and logs them to crash files.
func recoveryMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				stack := debug.Stack()
				context := fmt.Sprintf("HTTP %s %s", r.Method, r.URL.Path)

				// Send to Sentry if enabled
				logging.CapturePanic(rec, stack, context)

				logging.Error(logging.CatHTTP, fmt.Sprintf("PANIC in %s: %v", context, rec), map[string]any{
					"panic":  fmt.Sprintf("%v", rec),
					"stack":  string(stack),
					"method": r.Method,
					"path":   r.URL.Path,
				})

				crashFile, err := logging.WriteCrashLog(rec, stack)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Failed to write crash log: %v\n", err)
					crashFile = ""
				}

				fmt.Fprintf(os.Stderr, "\n=== PANIC in %s ===\n%v\n\nStack trace:\n%s\n", context, rec, string(stack))

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error":     "internal server error",
					"crashFile": crashFile,
				})
			}
		}()
		next(w, r)
	}
}

// corsMiddleware adds CORS headers to allow browser access from any origin.
func corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		recoveryMiddleware(next)(w, r)
	}
}

// statusFor maps tag and transport errors to HTTP status codes.
func statusFor(err error) int {
	var (
		fe *srix.FrameLengthError
		be *srix.BlockReadError
		pe *core.PN532Error
	)
	switch {
	case errors.Is(err, ErrPlanNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrTagChanged):
		return http.StatusConflict
	case errors.Is(err, srix.ErrTransportUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case srix.IsStorageError(err):
		return http.StatusBadRequest
	case errors.As(err, &fe), errors.As(err, &be), errors.As(err, &pe):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	level := logging.LevelDebug
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		level = logging.LevelWarn
	}
	logging.Get().Log(level, logging.CatHTTP, "Tag request failed", map[string]any{
		"path":   r.URL.Path,
		"status": status,
		"error":  err.Error(),
	})
	respondJSON(w, status, map[string]string{
		"error": err.Error(),
	})
}

// tagTypeParam reads ?type=, falling back to the stored default.
func tagTypeParam(r *http.Request) (srix.TagType, error) {
	v := r.URL.Query().Get("type")
	if v == "" {
		return settings.TagType(), nil
	}
	return srix.ParseTagType(v)
}

func handleListReaders(w http.ResponseWriter, r *http.Request) {
	readers, err := tags.Readers()
	if err != nil {
		respondError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, readers)
}

// handleTag returns the UID and system block.
// GET /v1/tag?blocks=true also returns every block.
func handleTag(w http.ResponseWriter, r *http.Request) {
	t, err := tagTypeParam(r)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	withBlocks, _ := strconv.ParseBool(r.URL.Query().Get("blocks"))

	info, err := tags.ReadTag(r.Context(), t, withBlocks)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, info)
}

// handleDump streams the EEPROM image.
// GET /v1/dump?format=raw|cbor
func handleDump(w http.ResponseWriter, r *http.Request) {
	t, err := tagTypeParam(r)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format != "" && format != "raw" && format != "cbor" {
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"error": "format must be raw or cbor",
		})
		return
	}

	res, err := tags.Dump(r.Context(), t)
	if err != nil {
		respondError(w, r, err)
		return
	}

	body := res.Store.Bytes()
	ext := ".bin"
	ctype := "application/octet-stream"
	if format == "cbor" {
		body, err = dump.EncodeSnapshot(dump.NewSnapshot(res.Store, &res.Identity, &res.SystemBlock, time.Now()))
		if err != nil {
			respondError(w, r, err)
			return
		}
		ext = dump.SnapshotExt
		ctype = "application/cbor"
	}

	w.Header().Set("Content-Type", ctype)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.Identity.String()+ext))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// readDumpBody parses an uploaded raw dump or CBOR snapshot.
func readDumpBody(r *http.Request, t srix.TagType) (*srix.Store, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxDumpBody+1))
	if err != nil {
		return nil, &srix.StorageError{Op: "read", Err: err}
	}
	if len(data) > maxDumpBody {
		return nil, &srix.StorageError{Op: "read", Err: errors.New("request body too large")}
	}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/cbor") {
		snap, err := dump.DecodeSnapshot(data)
		if err != nil {
			return nil, &srix.StorageError{Op: "load", Err: err}
		}
		return snap.Store()
	}
	return srix.StoreFromBytes(t, data)
}

func handleRestoreRoutes(w http.ResponseWriter, r *http.Request) {
	// Parse path: /v1/restore/{plan|id}
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 || parts[2] == "" {
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid path",
		})
		return
	}
	if parts[2] == "plan" {
		handlePlanRestore(w, r)
		return
	}
	handleExecutePlan(w, r, parts[2])
}

// handlePlanRestore diffs the uploaded dump against the tag.
// POST /v1/restore/plan
func handlePlanRestore(w http.ResponseWriter, r *http.Request) {
	t, err := tagTypeParam(r)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	store, err := readDumpBody(r, t)
	if err != nil {
		respondError(w, r, err)
		return
	}

	plan, err := tags.PlanRestore(r.Context(), store)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, plan)
}

// handleExecutePlan writes a previously planned restore.
// POST /v1/restore/{id}
func handleExecutePlan(w http.ResponseWriter, r *http.Request, id string) {
	out, err := tags.ExecutePlan(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

// handleOTP previews an OTP reset without writing.
func handleOTP(w http.ResponseWriter, r *http.Request) {
	info, err := tags.OTPStatus(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, info)
}

// handleOTPReset executes a reset previewed by GET /v1/otp.
// POST /v1/otp/reset/{id}
func handleOTPReset(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/otp/reset/")
	if id == "" || strings.Contains(id, "/") {
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"error": "OTP reset is irreversible, preview it with GET /v1/otp and post its id",
		})
		return
	}

	info, err := tags.ResetOTP(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, info)
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"version":   Version,
		"buildTime": BuildTime,
		"gitCommit": GitCommit,
	})
}

// handleUpdates reports whether a newer release exists. ?force=true
// bypasses the cache.
func handleUpdates(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	respondJSON(w, http.StatusOK, updateChecker.Check(r.Context(), force))
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	// Check if we can list readers (basic health check)
	readers, err := tags.Readers()
	resp := map[string]interface{}{
		"status":      "ok",
		"readerCount": len(readers),
	}
	if err != nil {
		resp["status"] = "degraded"
		resp["error"] = err.Error()
	}
	respondJSON(w, http.StatusOK, resp)
}

func handleShutdown(w http.ResponseWriter, r *http.Request) {
	if shutdownHandler == nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "shutdown not available",
		})
		return
	}

	logging.Info(logging.CatSystem, "Shutdown requested via API", nil)
	respondJSON(w, http.StatusOK, map[string]string{
		"success": "shutting down",
	})

	// Trigger shutdown after response is sent
	go func() {
		shutdownHandler()
	}()
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data) // Error logged but not returned (header already sent)
}

// handleLogs returns buffered entries filtered by ?limit=, ?level= and
// ?category=. DELETE clears the buffer.
func handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodDelete {
		logging.Get().Clear()
		respondJSON(w, http.StatusOK, map[string]string{
			"success": "logs cleared",
		})
		return
	}

	query := r.URL.Query()
	var minLevel *logging.Level
	if v := query.Get("level"); v != "" {
		if l, err := logging.ParseLevel(v); err == nil {
			minLevel = &l
		}
	}
	var category *logging.Category
	if c := logging.Category(query.Get("category")); c != "" {
		category = &c
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"entries": logging.Get().GetEntries(queryLimit(query, 100, 1000), minLevel, category),
		"stats":   logging.Get().Stats(),
	})
}

// handleCrashes lists crash logs, or returns one with ?file=.
func handleCrashes(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if filename := query.Get("file"); filename != "" {
		content, err := logging.ReadCrashLog(filename)
		if err != nil {
			respondJSON(w, http.StatusNotFound, map[string]string{
				"error": "crash log not found: " + err.Error(),
			})
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"filename": filename,
			"content":  content,
		})
		return
	}

	logs, err := logging.GetCrashLogs(queryLimit(query, 20, 100))
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list crash logs: " + err.Error(),
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"crashes":  logs,
		"crashDir": logging.CrashLogDir(),
	})
}

// handleSettings returns the stored preferences, or applies a partial
// update on POST.
func handleSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		respondJSON(w, http.StatusOK, settings.Get())
		return
	}

	var patch settings.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid request body: " + err.Error(),
		})
		return
	}

	updated, err := settings.Apply(patch)
	if err != nil {
		status := http.StatusInternalServerError
		if patch.DefaultTagType != nil {
			if _, perr := srix.ParseTagType(*patch.DefaultTagType); perr != nil {
				status = http.StatusBadRequest
			}
		}
		respondJSON(w, status, map[string]string{
			"error": "failed to save settings: " + err.Error(),
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"settings": updated,
		"message":  "Settings updated. Restart may be required for some changes to take effect.",
	})
}
