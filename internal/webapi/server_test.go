package webapi

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"image-magic/internal/batch"
	"image-magic/internal/gemini"
	"image-magic/internal/session"
)

type stubGenerator struct {
	fail string
}

func (g stubGenerator) Generate(_ context.Context, req gemini.Request) (gemini.Image, error) {
	if g.fail != "" {
		return gemini.Image{}, &gemini.Error{Kind: gemini.KindAuth, Message: g.fail}
	}
	return gemini.Image{Data: []byte(fmt.Sprintf("out-%d", req.Variant)), MimeType: "image/png"}, nil
}

type testServer struct {
	*httptest.Server
	api *Server
}

func newTestServer(t *testing.T, gen gemini.Generator) *testServer {
	t.Helper()
	store := session.NewStore(session.Options{
		NewSession: func(string) *batch.Session {
			return batch.New(batch.Options{Generator: gen})
		},
	})
	api := New(Options{Sessions: store})
	srv := httptest.NewServer(api.Routes())
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, api: api}
}

func (ts *testServer) do(t *testing.T, method, path string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+path, body)
	if err != nil {
		t.Fatal(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s %s = %d, want %d: %s", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want, body)
	}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

type part struct {
	name, mime string
	data       []byte
}

func multipartBody(t *testing.T, parts ...part) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="images"; filename=%q`, p.name))
		h.Set("Content-Type", p.mime)
		w, err := mw.CreatePart(h)
		if err != nil {
			t.Fatal(err)
		}
		w.Write(p.data)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func (ts *testServer) createSession(t *testing.T) string {
	t.Helper()
	resp := ts.do(t, http.MethodPost, "/api/sessions", nil, "")
	expectStatus(t, resp, http.StatusCreated)
	return decode[sessionView](t, resp).ID
}

func (ts *testServer) upload(t *testing.T, sid string, parts ...part) uploadView {
	t.Helper()
	body, ct := multipartBody(t, parts...)
	resp := ts.do(t, http.MethodPost, "/api/sessions/"+sid+"/items", body, ct)
	expectStatus(t, resp, http.StatusCreated)
	return decode[uploadView](t, resp)
}

func (ts *testServer) configure(t *testing.T, sid, body string) {
	t.Helper()
	resp := ts.do(t, http.MethodPut, "/api/sessions/"+sid+"/settings", strings.NewReader(body), "application/json")
	expectStatus(t, resp, http.StatusOK)
}

func TestHealthAndOptions(t *testing.T) {
	ts := newTestServer(t, stubGenerator{})
	expectStatus(t, ts.do(t, http.MethodGet, "/healthz", nil, ""), http.StatusOK)

	resp := ts.do(t, http.MethodGet, "/api/options", nil, "")
	expectStatus(t, resp, http.StatusOK)
	opts := decode[map[string]any](t, resp)
	if themes, _ := opts["themes"].([]any); len(themes) != 7 {
		t.Fatalf("themes = %v", opts["themes"])
	}
}

func TestUnknownSession(t *testing.T) {
	ts := newTestServer(t, stubGenerator{})
	resp := ts.do(t, http.MethodGet, "/api/sessions/nope", nil, "")
	expectStatus(t, resp, http.StatusNotFound)
	if e := decode[apiError](t, resp); e.Error == "" {
		t.Fatal("missing error body")
	}
}

func TestBatchFlow(t *testing.T) {
	ts := newTestServer(t, stubGenerator{})
	sid := ts.createSession(t)
	img := pngBytes(t)

	up := ts.upload(t, sid,
		part{"a.png", "image/png", img},
		part{"notes.txt", "text/plain", []byte("hi")},
		part{"b.png", "image/png", img},
	)
	if len(up.Added) != 2 || up.Invalid != 1 || up.Notice == "" {
		t.Fatalf("upload = %+v", up)
	}

	resp := ts.do(t, http.MethodPost, "/api/sessions/"+sid+"/run", nil, "")
	expectStatus(t, resp, http.StatusUnprocessableEntity)

	ts.configure(t, sid, `{"instruction":"white studio background","variants":2}`)

	resp = ts.do(t, http.MethodPost, "/api/sessions/"+sid+"/run", nil, "")
	expectStatus(t, resp, http.StatusAccepted)
	if got := decode[acceptedView](t, resp); got.Dispatched != 2 {
		t.Fatalf("dispatched = %d", got.Dispatched)
	}
	ts.api.Wait()

	resp = ts.do(t, http.MethodGet, "/api/sessions/"+sid, nil, "")
	expectStatus(t, resp, http.StatusOK)
	view := decode[sessionView](t, resp)
	if view.Counts.Succeeded != 2 || !view.BundleReady || view.Running {
		t.Fatalf("view = %+v", view)
	}
	first := view.Items[0]
	if len(first.ResultURLs) != 2 || first.Run == nil || first.Run.Variants != 2 {
		t.Fatalf("item = %+v", first)
	}

	resp = ts.do(t, http.MethodGet, first.ResultURLs[1], nil, "")
	expectStatus(t, resp, http.StatusOK)
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "gemini-edit-0-1-background-1-1-") {
		t.Fatalf("content-disposition = %q", cd)
	}
	if body, _ := io.ReadAll(resp.Body); string(body) != "out-1" {
		t.Fatalf("result body = %q", body)
	}

	resp = ts.do(t, http.MethodGet, first.PreviewURL, nil, "")
	expectStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Fatalf("preview content-type = %q", ct)
	}

	resp = ts.do(t, http.MethodGet, "/api/sessions/"+sid+"/archive", nil, "")
	expectStatus(t, resp, http.StatusOK)
	data, _ := io.ReadAll(resp.Body)
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if len(zr.File) != 4 {
		t.Fatalf("archive entries = %d, want 4", len(zr.File))
	}
}

func TestArchiveNeedsTwoSucceeded(t *testing.T) {
	ts := newTestServer(t, stubGenerator{})
	sid := ts.createSession(t)
	ts.upload(t, sid, part{"a.png", "image/png", pngBytes(t)})
	ts.configure(t, sid, `{"instruction":"x"}`)
	expectStatus(t, ts.do(t, http.MethodPost, "/api/sessions/"+sid+"/run", nil, ""), http.StatusAccepted)
	ts.api.Wait()

	expectStatus(t, ts.do(t, http.MethodGet, "/api/sessions/"+sid+"/archive", nil, ""), http.StatusConflict)
}

func TestFailedRunReportsMappedError(t *testing.T) {
	ts := newTestServer(t, stubGenerator{fail: "Requested entity was not found."})
	sid := ts.createSession(t)
	ts.upload(t, sid, part{"a.png", "image/png", pngBytes(t)})
	ts.configure(t, sid, `{"mode":"banner"}`)

	expectStatus(t, ts.do(t, http.MethodPost, "/api/sessions/"+sid+"/run", nil, ""), http.StatusAccepted)
	ts.api.Wait()

	view := decode[sessionView](t, ts.do(t, http.MethodGet, "/api/sessions/"+sid, nil, ""))
	it := view.Items[0]
	if it.Status != batch.StatusFailed || it.ErrorKind != string(gemini.KindAuth) || !strings.Contains(it.Error, "API key") {
		t.Fatalf("item = %+v", it)
	}
}

type blockingGenerator struct {
	release chan struct{}
}

func (g blockingGenerator) Generate(ctx context.Context, req gemini.Request) (gemini.Image, error) {
	select {
	case <-g.release:
		return gemini.Image{Data: []byte("out"), MimeType: "image/png"}, nil
	case <-ctx.Done():
		return gemini.Image{}, ctx.Err()
	}
}

func TestSecondRunIsRejectedWhileRunning(t *testing.T) {
	gen := blockingGenerator{release: make(chan struct{})}
	ts := newTestServer(t, gen)
	sid := ts.createSession(t)
	up := ts.upload(t, sid, part{"a.png", "image/png", pngBytes(t)})
	ts.configure(t, sid, `{"instruction":"x"}`)

	expectStatus(t, ts.do(t, http.MethodPost, "/api/sessions/"+sid+"/run", nil, ""), http.StatusAccepted)
	expectStatus(t, ts.do(t, http.MethodPost, "/api/sessions/"+sid+"/run", nil, ""), http.StatusConflict)

	view := decode[sessionView](t, ts.do(t, http.MethodGet, "/api/sessions/"+sid, nil, ""))
	if !view.Running || view.Items[0].Attempt != 1 {
		t.Fatalf("second run re-triggered the item: %+v", view)
	}

	close(gen.release)
	ts.api.Wait()

	it := decode[sessionView](t, ts.do(t, http.MethodGet, "/api/sessions/"+sid, nil, "")).Items[0]
	if it.ID != up.Added[0].ID || it.Status != batch.StatusSucceeded {
		t.Fatalf("item = %+v", it)
	}
}

func TestItemOperations(t *testing.T) {
	ts := newTestServer(t, stubGenerator{})
	sid := ts.createSession(t)
	up := ts.upload(t, sid, part{"a.png", "image/png", pngBytes(t)})
	iid := up.Added[0].ID

	resp := ts.do(t, http.MethodPost, "/api/sessions/"+sid+"/items/"+iid+"/duplicate", nil, "")
	expectStatus(t, resp, http.StatusCreated)
	dup := decode[itemView](t, resp)
	if dup.ID == iid || dup.Status != batch.StatusIdle {
		t.Fatalf("duplicate = %+v", dup)
	}

	expectStatus(t, ts.do(t, http.MethodPost, "/api/sessions/"+sid+"/items/"+iid+"/retry", nil, ""), http.StatusUnprocessableEntity)
	ts.configure(t, sid, `{"instruction":"x"}`)
	expectStatus(t, ts.do(t, http.MethodPost, "/api/sessions/"+sid+"/items/"+iid+"/retry", nil, ""), http.StatusAccepted)
	ts.api.Wait()

	view := decode[sessionView](t, ts.do(t, http.MethodGet, "/api/sessions/"+sid, nil, ""))
	if view.Items[0].Status != batch.StatusSucceeded || view.Items[1].Status != batch.StatusIdle {
		t.Fatalf("items = %+v", view.Items)
	}

	expectStatus(t, ts.do(t, http.MethodDelete, "/api/sessions/"+sid+"/items/"+iid, nil, ""), http.StatusNoContent)
	expectStatus(t, ts.do(t, http.MethodDelete, "/api/sessions/"+sid+"/items/"+iid, nil, ""), http.StatusNotFound)
	expectStatus(t, ts.do(t, http.MethodPost, "/api/sessions/"+sid+"/items/missing/retry", nil, ""), http.StatusNotFound)

	resp = ts.do(t, http.MethodDelete, "/api/sessions/"+sid, nil, "")
	expectStatus(t, resp, http.StatusOK)
	if v := decode[sessionView](t, resp); len(v.Items) != 0 || v.Settings.Instruction != "" {
		t.Fatalf("after reset = %+v", v)
	}
}

func TestUploadLimits(t *testing.T) {
	ts := newTestServer(t, stubGenerator{})
	sid := ts.createSession(t)
	img := pngBytes(t)

	parts := make([]part, 12)
	for i := range parts {
		parts[i] = part{fmt.Sprintf("%d.png", i), "image/png", img}
	}
	up := ts.upload(t, sid, parts...)
	if len(up.Added) != batch.MaxItems || up.Dropped != 2 {
		t.Fatalf("upload = %d added, %d dropped", len(up.Added), up.Dropped)
	}

	body, ct := multipartBody(t, part{"x.png", "image/png", img})
	expectStatus(t, ts.do(t, http.MethodPost, "/api/sessions/"+sid+"/items", body, ct), http.StatusConflict)

	sid2 := ts.createSession(t)
	body, ct = multipartBody(t, part{"x.txt", "text/plain", []byte("x")})
	expectStatus(t, ts.do(t, http.MethodPost, "/api/sessions/"+sid2+"/items", body, ct), http.StatusUnprocessableEntity)
}

func TestConfigureValidation(t *testing.T) {
	ts := newTestServer(t, stubGenerator{})
	sid := ts.createSession(t)

	resp := ts.do(t, http.MethodPut, "/api/sessions/"+sid+"/settings", strings.NewReader(`{"variants":9}`), "application/json")
	expectStatus(t, resp, http.StatusUnprocessableEntity)

	resp = ts.do(t, http.MethodPut, "/api/sessions/"+sid+"/settings", strings.NewReader(`{"colour":"red"}`), "application/json")
	expectStatus(t, resp, http.StatusBadRequest)

	resp = ts.do(t, http.MethodPut, "/api/sessions/"+sid+"/settings", strings.NewReader(`{"mode":"banner","aspect_ratio":"16:9","high_quality":true}`), "application/json")
	expectStatus(t, resp, http.StatusOK)
	st := decode[settingsView](t, resp)
	if st.Mode != "banner" || st.AspectRatio != "16:9" || st.Model != "gemini-3-pro-image-preview" {
		t.Fatalf("settings = %+v", st)
	}
}
