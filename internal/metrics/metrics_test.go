package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordIndexBuild(t *testing.T) {
	successBefore := testutil.ToFloat64(indexBuildsTotal.WithLabelValues(resultSuccess))
	failureBefore := testutil.ToFloat64(indexBuildsTotal.WithLabelValues(resultFailure))

	RecordIndexBuild(time.Second, 12, 3, nil)
	RecordIndexBuild(time.Second, 99, 99, errors.New("root missing"))

	if got := testutil.ToFloat64(indexBuildsTotal.WithLabelValues(resultSuccess)) - successBefore; got != 1 {
		t.Fatalf("expected one successful build, got %v", got)
	}
	if got := testutil.ToFloat64(indexBuildsTotal.WithLabelValues(resultFailure)) - failureBefore; got != 1 {
		t.Fatalf("expected one failed build, got %v", got)
	}
	if got := testutil.ToFloat64(indexNodes.WithLabelValues("file")); got != 12 {
		t.Fatalf("expected failed build to keep file gauge at 12, got %v", got)
	}
}

func TestMiddlewareRecordsStatus(t *testing.T) {
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/teapot", "418"))
	handler := Middleware(func(*http.Request) string { return "/teapot" }, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/teapot?x=1", nil))

	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/teapot", "418")) - before; got != 1 {
		t.Fatalf("expected one recorded request, got %v", got)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	SetIndexBuilding(true)
	recorder := httptest.NewRecorder()
	Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(recorder.Body.String(), "ctxserve_index_building 1") {
		t.Fatalf("expected building gauge in exposition")
	}
	SetIndexBuilding(false)
}
