package procket

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"

	"github.com/hubertat/procket/bitbang"
)

const httpTimeoutsMs = 3000

type targetsBody struct {
	Targets []string `json:"targets"`
}

// Handler builds the HTTP control API router.
func (pr *Procket) Handler() http.Handler {
	router := httprouter.New()
	router.GET("/status", pr.handleStatus)
	router.POST("/up", pr.handleUp)
	router.POST("/down", pr.handleDown)
	router.POST("/power/:expander/:action", pr.handlePower)
	router.POST("/pins/:action", pr.handlePins)
	router.POST("/relays/:action", pr.handleRelays)
	router.GET("/pins/:expander", pr.handleReadPins)
	router.GET("/memory/:index", pr.handleReadMemory)
	router.PUT("/memory/:index/:value", pr.handleWriteMemory)
	return router
}

// StartHttp serves the control API on HttpAddr until ctx is done.
func (pr *Procket) StartHttp(ctx context.Context) error {
	if len(pr.HttpAddr) == 0 {
		return errors.New("http address not set")
	}

	httpTimeout := httpTimeoutsMs * time.Millisecond

	pr.server = &http.Server{
		Addr:              pr.HttpAddr,
		Handler:           pr.Handler(),
		ReadTimeout:       httpTimeout,
		ReadHeaderTimeout: httpTimeout,
		WriteTimeout:      httpTimeout,
		IdleTimeout:       2 * httpTimeout,
	}

	go func() {
		<-ctx.Done()
		pr.server.Close()
	}()

	pr.getLogger().Info("http api listening", "addr", pr.HttpAddr)
	err := pr.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func statusCode(err error) int {
	var confErr *ConfigurationError
	if errors.As(err, &confErr) {
		return http.StatusBadRequest
	}
	if bitbang.IsNack(err) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (pr *Procket) writeError(w http.ResponseWriter, err error) {
	pr.getLogger().Warn("http request failed", "err", err)
	http.Error(w, err.Error(), statusCode(err))
}

func writeJson(w http.ResponseWriter, value interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(value)
}

func (pr *Procket) writeState(w http.ResponseWriter) {
	writeJson(w, pr.fixture.State())
}

func readTargets(r *http.Request) ([]string, error) {
	body := targetsBody{}
	err := json.NewDecoder(r.Body).Decode(&body)
	if err != nil {
		return nil, &ConfigurationError{Field: "body", Reason: err.Error()}
	}
	return body.Targets, nil
}

func parseExpander(p httprouter.Params) (Expander, error) {
	value, err := strconv.ParseUint(p.ByName("expander"), 10, 8)
	if err != nil {
		return 0, &ConfigurationError{Field: "expander", Value: p.ByName("expander")}
	}
	return Expander(value), nil
}

func (pr *Procket) handleStatus(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	writeJson(w, pr.SampleStatus(r.Context()))
}

func (pr *Procket) handleUp(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	err := pr.fixture.Up()
	if err != nil {
		pr.writeError(w, err)
		return
	}
	pr.writeState(w)
}

func (pr *Procket) handleDown(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	err := pr.fixture.Down()
	if err != nil {
		pr.writeError(w, err)
		return
	}
	pr.writeState(w)
}

type targetAction func(ex Expander, targets ...Target) error

func (pr *Procket) runTargets(w http.ResponseWriter, r *http.Request, ex Expander, action targetAction) {
	names, err := readTargets(r)
	if err != nil {
		pr.writeError(w, err)
		return
	}

	err = action(ex, pr.fixture.ParseTargets(ex, names...)...)
	if err != nil {
		pr.writeError(w, err)
		return
	}
	pr.writeState(w)
}

func (pr *Procket) handlePower(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	ex, err := parseExpander(p)
	if err != nil {
		pr.writeError(w, err)
		return
	}

	switch p.ByName("action") {
	case "up":
		pr.runTargets(w, r, ex, pr.fixture.PowerUp)
	case "down":
		pr.runTargets(w, r, ex, pr.fixture.PowerDown)
	default:
		pr.writeError(w, &ConfigurationError{Field: "action", Value: p.ByName("action"), Reason: "want up or down"})
	}
}

func (pr *Procket) handlePins(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	switch p.ByName("action") {
	case "set":
		pr.runTargets(w, r, ExpanderConnectors, pr.fixture.SetConnectorPins)
	case "reset":
		pr.runTargets(w, r, ExpanderConnectors, pr.fixture.ResetConnectorPins)
	default:
		pr.writeError(w, &ConfigurationError{Field: "action", Value: p.ByName("action"), Reason: "want set or reset"})
	}
}

func (pr *Procket) handleRelays(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	switch p.ByName("action") {
	case "set":
		pr.runTargets(w, r, ExpanderRelays, pr.fixture.SetRelays)
	case "reset":
		pr.runTargets(w, r, ExpanderRelays, pr.fixture.ResetRelays)
	default:
		pr.writeError(w, &ConfigurationError{Field: "action", Value: p.ByName("action"), Reason: "want set or reset"})
	}
}

func (pr *Procket) handleReadPins(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	ex, err := parseExpander(p)
	if err != nil {
		pr.writeError(w, err)
		return
	}

	value, err := pr.fixture.ReadConnectorPins(ex)
	if err != nil {
		pr.writeError(w, err)
		return
	}
	writeJson(w, map[string]byte{"value": value})
}

func parseMemoryIndex(p httprouter.Params) (byte, error) {
	index, err := strconv.ParseInt(p.ByName("index"), 0, 64)
	if err == nil {
		err = checkIndex(index)
	}
	if err != nil {
		return 0, &ConfigurationError{Field: "memory index", Value: p.ByName("index")}
	}
	return byte(index), nil
}

func (pr *Procket) handleReadMemory(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	index, err := parseMemoryIndex(p)
	if err != nil {
		pr.writeError(w, err)
		return
	}

	value, err := pr.fixture.Memory().ReadByteAt(index)
	if err != nil {
		pr.writeError(w, err)
		return
	}
	writeJson(w, map[string]byte{"index": index, "value": value})
}

func (pr *Procket) handleWriteMemory(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	index, err := parseMemoryIndex(p)
	if err != nil {
		pr.writeError(w, err)
		return
	}

	value, err := strconv.ParseUint(p.ByName("value"), 0, 8)
	if err != nil {
		pr.writeError(w, &ConfigurationError{Field: "memory value", Value: p.ByName("value")})
		return
	}

	err = pr.fixture.Memory().WriteByteAt(index, byte(value))
	if err != nil {
		pr.writeError(w, err)
		return
	}
	writeJson(w, map[string]byte{"index": index, "value": byte(value)})
}
