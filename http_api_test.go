package procket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newApi() (*Procket, *busRecorder, http.Handler) {
	fx, rec := newRecordedFixture()
	pr := &Procket{Name: "rig", fixture: fx}
	return pr, rec, pr.Handler()
}

func serve(handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	request := httptest.NewRequest(method, target, strings.NewReader(body))
	response := httptest.NewRecorder()
	handler.ServeHTTP(response, request)
	return response
}

func assertStatus(t testing.TB, got *httptest.ResponseRecorder, want int) {
	t.Helper()

	if got.Code != want {
		t.Errorf("got status %d want %d (body: %s)", got.Code, want, got.Body.String())
	}
}

func decodeState(t testing.TB, response *httptest.ResponseRecorder) (state State) {
	t.Helper()

	err := json.NewDecoder(response.Body).Decode(&state)
	if err != nil {
		t.Fatalf("failed to decode state: %v", err)
	}
	return
}

func TestHttpPower(t *testing.T) {
	_, rec, handler := newApi()

	response := serve(handler, http.MethodPost, "/power/2/up", `{"targets": ["+24V_ENABLE", "bogus", "+5v_enable"]}`)
	assertStatus(t, response, http.StatusOK)
	assertByte(t, decodeState(t, response).Power, 0xFC)
	assertOps(t, rec.ops, []string{"start", "send 0x44", "send 0xfc", "stop", "disconnect"})

	response = serve(handler, http.MethodPost, "/power/2/down", `{"targets": ["ALL"]}`)
	assertStatus(t, response, http.StatusOK)
	assertByte(t, decodeState(t, response).Power, 0xFF)
}

func TestHttpBadRequests(t *testing.T) {
	_, rec, handler := newApi()

	cases := []struct {
		name   string
		method string
		target string
		body   string
	}{
		{"power on relay expander", http.MethodPost, "/power/3/up", `{"targets": ["ALL"]}`},
		{"expander not a number", http.MethodPost, "/power/two/up", `{"targets": ["ALL"]}`},
		{"unknown action", http.MethodPost, "/power/2/sideways", `{"targets": ["ALL"]}`},
		{"broken body", http.MethodPost, "/relays/set", `{"targets": [`},
		{"pins action", http.MethodPost, "/pins/toggle", `{}`},
		{"read pins on 4", http.MethodGet, "/pins/4", ""},
		{"memory index", http.MethodGet, "/memory/300", ""},
		{"memory value", http.MethodPut, "/memory/3/256", ""},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assertStatus(t, serve(handler, c.method, c.target, c.body), http.StatusBadRequest)
		})
	}

	if len(rec.ops) != 0 {
		t.Errorf("expected no bus traffic, got %v", rec.ops)
	}
}

func TestHttpNackIsBadGateway(t *testing.T) {
	_, rec, handler := newApi()
	rec.nackOn[0x76] = true

	response := serve(handler, http.MethodPost, "/relays/set", `{"targets": ["EXP0_A76_0"]}`)
	assertStatus(t, response, http.StatusBadGateway)
}

func TestHttpPinsAndRelays(t *testing.T) {
	_, rec, handler := newApi()

	response := serve(handler, http.MethodPost, "/pins/set", `{"targets": ["X121-ALL"]}`)
	assertStatus(t, response, http.StatusOK)
	assertByte(t, decodeState(t, response).Connectors, 0x0F)

	response = serve(handler, http.MethodPost, "/relays/set", `{"targets": ["EXP0_A76_4"]}`)
	assertStatus(t, response, http.StatusOK)
	assertByte(t, decodeState(t, response).Relays, 0xF0)

	response = serve(handler, http.MethodPost, "/relays/reset", `{"targets": ["ALL"]}`)
	assertStatus(t, response, http.StatusOK)
	assertByte(t, decodeState(t, response).Relays, 0xFF)

	rec.receive = []byte{0x5A}
	response = serve(handler, http.MethodGet, "/pins/2", "")
	assertStatus(t, response, http.StatusOK)
	if strings.TrimSpace(response.Body.String()) != `{"value":90}` {
		t.Errorf("got %s want {\"value\":90}", response.Body.String())
	}
}

func TestHttpMemory(t *testing.T) {
	_, rec, handler := newApi()

	response := serve(handler, http.MethodPut, "/memory/5/0x33", "")
	assertStatus(t, response, http.StatusOK)
	assertOps(t, rec.ops, []string{"start", "send 0xa0", "send 0x05", "send 0x33", "stop", "disconnect"})

	rec.ops = nil
	rec.receive = []byte{0x33}
	response = serve(handler, http.MethodGet, "/memory/5", "")
	assertStatus(t, response, http.StatusOK)
	if strings.TrimSpace(response.Body.String()) != `{"index":5,"value":51}` {
		t.Errorf("got %s", response.Body.String())
	}
}

func TestHttpUpDownStatus(t *testing.T) {
	_, rec, handler := newApi()

	response := serve(handler, http.MethodPost, "/up", "")
	assertStatus(t, response, http.StatusOK)
	assertByte(t, decodeState(t, response).Power, 0xFE)

	rec.receive = []byte{0x40}
	response = serve(handler, http.MethodGet, "/status", "")
	assertStatus(t, response, http.StatusOK)

	report := StatusReport{}
	err := json.NewDecoder(response.Body).Decode(&report)
	if err != nil {
		t.Fatal(err)
	}
	if report.Name != "rig" || len(report.Rails) != 1 || report.Rails[0] != "SUPPLIES_OK" {
		t.Errorf("unexpected report %+v", report)
	}
	assertByte(t, report.State.Power, 0xFE)

	response = serve(handler, http.MethodPost, "/down", "")
	assertStatus(t, response, http.StatusOK)
	assertByte(t, decodeState(t, response).Power, 0xFF)
}
