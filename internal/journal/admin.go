package journal

import (
	"fmt"
	"net/http"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/undulator/internal/httputil"
)

const defaultRecent = 100

// AttachAdminRoutes mounts a live SQL console over the journal and JSON views
// of recent events and failures under /debug/.
func (j *Journal) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+j.path, j.db, &tailsql.DBOptions{
		Label: "Move journal",
	})
	debug.Handle("tailsql/", "SQL live debugging of the move journal", tsql.NewMux())

	debug.Handle("journal", "Recent axis status events (?axis=&n=)", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n, err := httputil.PositiveInt(r, "n", defaultRecent)
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		entries, err := j.Recent(r.Context(), r.URL.Query().Get("axis"), n)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, entries)
	}))

	debug.Handle("journal/failures", "Recent move failures (?n=)", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n, err := httputil.PositiveInt(r, "n", defaultRecent)
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		failures, err := j.Failures(r.Context(), n)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, failures)
	}))
	return nil
}
