package undulator

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/undulator/internal/lut"
)

func localHostRequest(method, target string, form url.Values) *http.Request {
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func TestParseRequest(t *testing.T) {
	t.Parallel()
	req, err := ParseRequest(" 250 ", "", "LA 30")
	require.NoError(t, err)
	assert.Equal(t, Request{Energy: 250, Harmonic: 1, Polarization: lut.LinearAngle(30)}, req)

	req, err = ParseRequest("900", "3", "linear-horizontal")
	require.NoError(t, err)
	assert.Equal(t, 3, req.Harmonic)
	assert.Equal(t, lut.ModeLinearHorizontal, req.Polarization.Mode)

	for _, bad := range [][3]string{
		{"", "1", "LH"},
		{"x", "1", "LH"},
		{"100", "third", "LH"},
		{"100", "1", "sideways"},
	} {
		_, err := ParseRequest(bad[0], bad[1], bad[2])
		assert.Error(t, err, bad)
	}
}

func TestAdminRoutes(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	mux := http.NewServeMux()
	f.calc.AttachAdminRoutes(mux)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/undulator", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var v stateView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	assert.False(t, v.Known)
	assert.Contains(t, v.Positions, "gap")
	assert.Contains(t, v.Positions, "energy")

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, localHostRequest(http.MethodPost, "/debug/undulator/move", url.Values{
		"energy": {"150"}, "harmonic": {"1"}, "polarization": {"LH"},
	}))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var accepted struct {
		Request requestView  `json:"request"`
		Legs    [][2]float64 `json:"legs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &accepted))
	assert.Equal(t, "LH", accepted.Request.Polarization)
	require.Len(t, accepted.Legs, 1)
	assert.InDelta(t, 7.5, accepted.Legs[0][0], 1e-9)

	require.Eventually(t, func() bool { return f.calc.State().Known }, 5*time.Second, 5*time.Millisecond)

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/undulator?refresh=1", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	assert.True(t, v.Known)
	assert.False(t, v.Stale)
	assert.Equal(t, 150.0, v.Current.Energy)
	assert.InDelta(t, 7.5, v.Snapshot["gap"], 1e-9)
	assert.Empty(t, v.Locked)
}

func TestAdminRoutes_Errors(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	mux := http.NewServeMux()
	f.calc.AttachAdminRoutes(mux)

	tests := []struct {
		name   string
		method string
		path   string
		form   url.Values
		code   int
	}{
		{"move via GET", http.MethodGet, "/debug/undulator/move", nil, http.StatusMethodNotAllowed},
		{"bad energy", http.MethodPost, "/debug/undulator/move", url.Values{"energy": {"lots"}, "polarization": {"LH"}}, http.StatusBadRequest},
		{"no table", http.MethodPost, "/debug/undulator/move", url.Values{"energy": {"150"}, "harmonic": {"7"}, "polarization": {"LH"}}, http.StatusConflict},
		{"stop via GET", http.MethodGet, "/debug/undulator/stop", nil, http.StatusMethodNotAllowed},
		{"stop", http.MethodPost, "/debug/undulator/stop", url.Values{}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, localHostRequest(tt.method, tt.path, tt.form))
			assert.Equal(t, tt.code, w.Code, w.Body.String())
		})
	}
}
