package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/ColdToo/Cold2Raft/log"
	"github.com/ColdToo/Cold2Raft/raft"
	"github.com/dustin/go-humanize"
)

const (
	PUT    = "PUT"
	GET    = "GET"
	DELETE = "DELETE"

	statusPath = "/status"
)

type HttpKVAPI struct {
	kvStore *KvStore
	status  func() raft.Status
}

// StatusView is the json body served on /status.
type StatusView struct {
	ID        uint64            `json:"id"`
	Term      uint64            `json:"term"`
	Committed uint64            `json:"committed"`
	Applied   uint64            `json:"applied"`
	LastIndex uint64            `json:"last-index"`
	Lag       string            `json:"lag"`
	Quorum    bool              `json:"quorum-active"`
	Progress  map[uint64]string `json:"progress"`
}

func newStatusView(st raft.Status) StatusView {
	v := StatusView{
		ID:        st.ID,
		Term:      st.Term,
		Committed: st.Committed,
		Applied:   st.Applied,
		LastIndex: st.LastIndex,
		Lag:       humanize.Comma(int64(st.LastIndex-st.Applied)) + " entries",
		Quorum:    st.QuorumActive,
		Progress:  make(map[uint64]string, len(st.Progress)),
	}
	for id, pr := range st.Progress {
		v.Progress[id] = pr.String()
	}
	return v
}

func ServeHttpKVAPI(kvStore *KvStore, status func() raft.Status, addr string, doneC <-chan struct{}) {
	srv := http.Server{
		Addr: addr,
		Handler: &HttpKVAPI{
			kvStore: kvStore,
			status:  status,
		},
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server stopped").Str("addr", addr).Err("err", err).Record()
		}
	}()

	<-doneC
	if err := srv.Shutdown(context.Background()); err != nil {
		log.Error("http server shutdown failed").Err("err", err).Record()
	}
}

func (h *HttpKVAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := r.RequestURI
	defer r.Body.Close()

	switch {
	case r.Method == GET && key == statusPath:
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(newStatusView(h.status())); err != nil {
			http.Error(w, "Failed to encode status", http.StatusInternalServerError)
		}

	case r.Method == GET:
		if v, ok := h.kvStore.Lookup([]byte(key)); ok {
			_, _ = w.Write(v)
		} else {
			http.Error(w, "Failed to GET", http.StatusNotFound)
		}

	case r.Method == PUT:
		v, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Failed on PUT", http.StatusBadRequest)
			return
		}
		h.propose(w, []byte(key), v, false)

	case r.Method == DELETE:
		h.propose(w, []byte(key), nil, true)

	default:
		w.Header().Set("Allow", PUT)
		w.Header().Add("Allow", GET)
		w.Header().Add("Allow", DELETE)
		http.Error(w, "Method not allowed,Only support put、get、delete", http.StatusMethodNotAllowed)
	}
}

func (h *HttpKVAPI) propose(w http.ResponseWriter, key, val []byte, delete bool) {
	ok, err := h.kvStore.Propose(key, val, delete)
	if err != nil || !ok {
		http.Error(w, "Failed to propose", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
