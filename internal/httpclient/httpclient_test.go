package httpclient

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestClientLogsWithoutQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	var buf bytes.Buffer
	client := New(Options{Logger: zerolog.New(&buf).Level(zerolog.DebugLevel)})

	resp, err := client.Get(srv.URL + "/v1beta/models?key=secret")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Body.Close()

	out := buf.String()
	if !strings.Contains(out, `"status":418`) || !strings.Contains(out, `"path":"/v1beta/models"`) {
		t.Fatalf("log = %s", out)
	}
	if strings.Contains(out, "secret") {
		t.Fatalf("api key leaked into log: %s", out)
	}
}
