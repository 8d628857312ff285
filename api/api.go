// Package api exposes the gateway over HTTP using gorilla/mux's
// path-templated routing (spec §6). Grounded on the corpus-wide
// convention (the teacher's own RPC layer is not in scope here, but
// json-over-http with mux path variables is the pattern the rest of
// the retrieved pack converges on for this kind of service surface).
package api

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/ethereum/go-ethereum/log"

	"github.com/marketplace-builder/builder-core/coretypes"
	"github.com/marketplace-builder/builder-core/gateway"
)

// Server wires the Gateway's operations onto the four HTTP routes spec
// §6 names.
type Server struct {
	gw *gateway.Gateway
}

// NewServer wraps gw; Router builds the http.Handler that serves it.
func NewServer(gw *gateway.Gateway) *Server { return &Server{gw: gw} }

// Router builds the gorilla/mux router for the four builder endpoints.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/available_blocks/{parent}/{view}/{sender}/{signature}", s.handleAvailableBlocks).Methods(http.MethodGet)
	r.HandleFunc("/claim_block/{commitment}/{view}/{sender}/{signature}", s.handleClaimBlock).Methods(http.MethodGet)
	r.HandleFunc("/builder_address", s.handleBuilderAddress).Methods(http.MethodGet)
	r.HandleFunc("/submit_txns", s.handleSubmitTxns).Methods(http.MethodPost)
	return r
}

func (s *Server) handleAvailableBlocks(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)

	parentBytes, err := hexDecode(vars["parent"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var parent coretypes.PayloadCommitment
	if len(parentBytes) != len(parent) {
		writeError(w, http.StatusBadRequest, errors.New("api: malformed parent commitment"))
		return
	}
	copy(parent[:], parentBytes)

	view, err := parseView(vars["view"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	senderPub, err := hexDecode(vars["sender"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	signature, err := hexDecode(vars["signature"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	blocks, err := s.gw.AvailableBlocks(parent, view, senderPub, signature)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, blocks)
}

func (s *Server) handleClaimBlock(w http.ResponseWriter, req *http.Request) {
	vars := mux.Vars(req)

	commitmentBytes, err := hexDecode(vars["commitment"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var bc coretypes.BuilderCommitment
	if len(commitmentBytes) != len(bc) {
		writeError(w, http.StatusBadRequest, errors.New("api: malformed builder commitment"))
		return
	}
	copy(bc[:], commitmentBytes)

	view, err := parseView(vars["view"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	senderPub, err := hexDecode(vars["sender"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	signature, err := hexDecode(vars["signature"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	block, err := s.gw.ClaimBlock(bc, view, senderPub, signature)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, block)
}

func (s *Server) handleBuilderAddress(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"address": "0x" + hex.EncodeToString(s.gw.BuilderAddress()),
	})
}

type submitTxnsRequest struct {
	Transactions []string `json:"transactions"`
	Namespace    *uint64  `json:"namespace,omitempty"`
}

func (s *Server) handleSubmitTxns(w http.ResponseWriter, req *http.Request) {
	var body submitTxnsRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	raw := make([][]byte, 0, len(body.Transactions))
	for _, enc := range body.Transactions {
		b, err := hexDecode(enc)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		raw = append(raw, b)
	}

	var ns *coretypes.NamespaceID
	if body.Namespace != nil {
		id := coretypes.NamespaceID(*body.Namespace)
		ns = &id
	}

	commitments := s.gw.SubmitTxns(raw, ns)
	hexCommitments := make([]string, len(commitments))
	for i, c := range commitments {
		hexCommitments[i] = c.Hex()
	}
	writeJSON(w, http.StatusOK, map[string][]string{"commitments": hexCommitments})
}

func writeGatewayError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, coretypes.ErrInvalidSignature):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, coretypes.ErrViewAlreadyDecided), errors.Is(err, coretypes.ErrBlockNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, coretypes.ErrNoBlocksAvailable), errors.Is(err, coretypes.ErrNoBuilderState):
		writeError(w, http.StatusGatewayTimeout, err)
	default:
		log.Error("api: unhandled gateway error", "err", err)
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("api: failed to encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func hexDecode(s string) ([]byte, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	return hex.DecodeString(s)
}

func parseView(s string) (coretypes.View, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return coretypes.View(v), nil
}
