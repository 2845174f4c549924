// Package server exposes the read-only query surface of the engine: state
// variable and method reads against disposable working sets, payload
// assembly, and persisted transaction lookups. Nothing here ever mutates
// the store.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/denaro-coin/dvm/core"
)

type Server struct {
	addr string
	dvm  *core.DVM
}

func New(addr string, dvm *core.DVM) *Server {
	return &Server{addr: addr, dvm: dvm}
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestLogger)
	r.Get("/contract/{hash}/{name}", s.handleRead)
	r.Post("/get_payload/{hash}/{method}", s.handleGetPayload)
	r.Get("/get_transaction/{txHash}", s.handleGetTransaction)
	return r
}

// Start blocks serving the query surface.
func (s *Server) Start() error {
	logrus.Infof("query server listening on %s", s.addr)
	return http.ListenAndServe(s.addr, s.Router())
}

type response struct {
	OK     bool   `json:"ok"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrUnknownContract):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrForbiddenMethod),
		errors.Is(err, core.ErrArgumentType),
		errors.Is(err, core.ErrMalformedPayload):
		status = http.StatusBadRequest
	case errors.Is(err, core.ErrExecution):
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, response{OK: false, Error: err.Error()})
}

// handleRead returns a state variable when name matches one, and otherwise
// invokes name as an exported method with the query-string arguments. Any
// state the method mutates dies with the disposable working set.
func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	hash, err := core.ParseContractHash(chi.URLParam(r, "hash"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, response{OK: false, Error: err.Error()})
		return
	}
	args := make(map[string]string)
	for key, vals := range r.URL.Query() {
		if len(vals) > 0 {
			args[key] = vals[0]
		}
	}
	res, err := s.dvm.ReadContractNamed(r.Context(), hash, chi.URLParam(r, "name"), args)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response{OK: true, Result: core.ValueToInterface(res)})
}

// handleGetPayload assembles the hex-encoded framed call payload for a JSON
// argument list.
func (s *Server) handleGetPayload(w http.ResponseWriter, r *http.Request) {
	hash, err := core.ParseContractHash(chi.URLParam(r, "hash"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, response{OK: false, Error: err.Error()})
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, response{OK: false, Error: err.Error()})
		return
	}
	args, err := core.TupleFromJSONArgs(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, response{OK: false, Error: err.Error()})
		return
	}
	call := &core.ContractCall{
		ContractHash: hash,
		Method:       chi.URLParam(r, "method"),
		Args:         args,
	}
	payload, err := call.Payload()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response{OK: true, Result: hexutil.Encode(payload)})
}

type transactionResult struct {
	Rows []transactionRow `json:"rows"`
}

type transactionRow struct {
	ContractHash string `json:"contract_hash"`
	TxHash       string `json:"tx_hash"`
	OutputIndex  int    `json:"output_index"`
	PayloadHex   string `json:"payload"`
	Decoded      any    `json:"decoded,omitempty"`
}

// handleGetTransaction returns the persisted execution rows of a ledger
// transaction together with the decoded call records.
func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	txHash := chi.URLParam(r, "txHash")
	rows, err := s.dvm.Store().GetTransactionRows(r.Context(), txHash)
	if err != nil {
		writeError(w, err)
		return
	}
	result := transactionResult{}
	for _, row := range rows {
		out := transactionRow{
			ContractHash: row.ContractHash.Hex(),
			TxHash:       row.TxHash,
			OutputIndex:  row.OutputIndex,
			PayloadHex:   row.PayloadHex,
		}
		if raw, err := hexutil.Decode("0x" + row.PayloadHex); err == nil {
			if rec, err := core.DecodeRecord(raw); err == nil {
				out.Decoded = describeRecord(rec)
			}
		}
		result.Rows = append(result.Rows, out)
	}
	writeJSON(w, http.StatusOK, response{OK: true, Result: result})
}

func describeRecord(rec core.CallRecord) any {
	switch t := rec.(type) {
	case *core.ContractCall:
		return map[string]any{
			"kind":          "call",
			"contract_hash": t.ContractHash.Hex(),
			"method":        t.Method,
			"args":          core.ValueToInterface(t.Args),
		}
	case *core.ContractCreation:
		return map[string]any{
			"kind":   "creation",
			"source": t.Source,
			"args":   core.ValueToInterface(t.Args),
		}
	}
	return nil
}
