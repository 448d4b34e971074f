// Package httpapi is the JSON-over-HTTP gateway of spec §6: one handler
// per endpoint in the table, decoding/encoding the internal/rpcpb types
// that internal/rpc's handlers take and return (the gRPC listener serves
// only health checks). Grounded on froz-husain-PairDB's
// api-gateway/internal/server (gorilla/mux routing, one route per
// endpoint, a NotFoundHandler writing a structured body) and
// internal/converter (HTTP<->message conversion) — simplified here
// because rpcpb's request/response structs already carry the right JSON
// tags and base64-encode []byte fields for free, so there is no separate
// wire format to convert between; a handler decodes the request body
// directly into the same struct type the gRPC path would receive.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"etcdkv/internal/apierr"
	"etcdkv/internal/rpc"

	"github.com/gorilla/mux"
)

// NewRouter builds the endpoint table of spec §6's JSON-over-HTTP column.
func NewRouter(s *rpc.Server) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/v3/kv/range", handle(s.Range)).Methods(http.MethodPost)
	r.HandleFunc("/v3/kv/put", handle(s.Put)).Methods(http.MethodPost)
	r.HandleFunc("/v3/kv/delete_range", handle(s.DeleteRange)).Methods(http.MethodPost)
	r.HandleFunc("/v3/kv/txn", handle(s.Txn)).Methods(http.MethodPost)
	r.HandleFunc("/v3/kv/compact", handle(s.Compact)).Methods(http.MethodPost)

	r.HandleFunc("/v3/lease/grant", handle(s.LeaseGrant)).Methods(http.MethodPost)
	r.HandleFunc("/v3/lease/revoke", handle(s.LeaseRevoke)).Methods(http.MethodPost)
	r.HandleFunc("/v3/lease/timetolive", handle(s.LeaseTimeToLive)).Methods(http.MethodPost)
	r.HandleFunc("/v3/lease/leases", handle(s.LeaseLeases)).Methods(http.MethodPost)
	r.HandleFunc("/v3/lease/keepalive", handle(s.LeaseKeepAlive)).Methods(http.MethodPost)

	r.HandleFunc("/v3/cluster/member/list", handle(s.MemberList)).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		apierr.WriteHTTP(w, apierr.NotFoundf("no such endpoint: %s", req.URL.Path))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		apierr.WriteHTTP(w, apierr.InvalidArgumentf("method %s not allowed on %s", req.Method, req.URL.Path))
	})

	return r
}

// handle adapts one Server RPC method into an http.HandlerFunc: reject the
// wrong content type (415), reject unparseable JSON (400), call fn, and
// write either a JSON response or the error's status body, per spec §6.
func handle[Req any, Resp any](fn func(context.Context, *Req) (*Resp, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if ct := req.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
			apierr.UnsupportedMediaType(w, "expected application/json, got "+ct)
			return
		}

		var body Req
		if req.Body != nil {
			defer req.Body.Close()
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil && err != io.EOF {
				apierr.BadRequest(w, "invalid JSON body: "+err.Error())
				return
			}
		}

		resp, err := fn(req.Context(), &body)
		if err != nil {
			apierr.WriteHTTP(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(resp)
	}
}

