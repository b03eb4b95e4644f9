// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

// Package admin implements administrative endpoints for the metadata engine.
package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storj.io/common/errs2"
	"storj.io/sfs/sfs/gc"
)

// Error is default error class for admin package.
var Error = errs.Class("admin")

// Config defines configuration for the admin server.
type Config struct {
	Address            string `help:"admin http listening address, empty disables the server" default:""`
	AuthorizationToken string `help:"token required in the Authorization header, empty disables authorization" default:"" internal:"true"`
}

// GC is the garbage collector controlled by the server.
type GC interface {
	Process(ctx context.Context) (gc.Stats, error)
	Suspend()
	Resume()
	Suspended() bool
	LastStats() (gc.Stats, bool)
}

// Status is the response of the status endpoint.
type Status struct {
	Suspended bool      `json:"suspended"`
	Last      *gc.Stats `json:"last,omitempty"`
}

// Server provides endpoints for administrative tasks.
type Server struct {
	log *zap.Logger

	listener net.Listener
	server   http.Server

	gc     GC
	config Config
}

// NewServer returns a new administration Server.
func NewServer(log *zap.Logger, listener net.Listener, collector GC, config Config) *Server {
	server := &Server{
		log:      log,
		listener: listener,
		gc:       collector,
		config:   config,
	}

	root := mux.NewRouter()
	api := root.PathPrefix("/api/gc").Subrouter()
	api.Use(server.withAuth)
	api.HandleFunc("/process", server.process).Methods(http.MethodPost)
	api.HandleFunc("/suspend", server.suspend).Methods(http.MethodPost)
	api.HandleFunc("/resume", server.resume).Methods(http.MethodPost)
	api.HandleFunc("/status", server.status).Methods(http.MethodGet)

	server.server.Handler = root
	return server
}

// Handler returns the router of the server.
func (server *Server) Handler() http.Handler { return server.server.Handler }

// Run starts the admin endpoint.
func (server *Server) Run(ctx context.Context) error {
	if server.listener == nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	var group errgroup.Group
	group.Go(func() error {
		<-ctx.Done()
		return Error.Wrap(server.server.Shutdown(context.Background()))
	})
	group.Go(func() error {
		defer cancel()
		err := server.server.Serve(server.listener)
		if errs2.IsCanceled(err) || errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		return Error.Wrap(err)
	})
	return group.Wait()
}

// Close closes server and underlying listener.
func (server *Server) Close() error {
	return Error.Wrap(server.server.Close())
}

func (server *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if server.config.AuthorizationToken != "" {
			sent := r.Header.Get("Authorization")
			if subtle.ConstantTimeCompare([]byte(sent), []byte(server.config.AuthorizationToken)) != 1 {
				sendJSONError(w, "Forbidden", "required a valid authorization token", http.StatusForbidden)
				return
			}
		}

		server.log.Info("admin action",
			zap.String("host", r.Host),
			zap.String("action", r.Method+"-"+r.RequestURI))

		r.Header.Set("Cache-Control", "must-revalidate")
		next.ServeHTTP(w, r)
	})
}

func (server *Server) process(w http.ResponseWriter, r *http.Request) {
	stats, err := server.gc.Process(r.Context())
	if err != nil {
		sendJSONError(w, "sweep failed", err.Error(), http.StatusInternalServerError)
		return
	}
	sendJSON(w, stats)
}

func (server *Server) suspend(w http.ResponseWriter, r *http.Request) {
	server.gc.Suspend()
	server.status(w, r)
}

func (server *Server) resume(w http.ResponseWriter, r *http.Request) {
	server.gc.Resume()
	server.status(w, r)
}

func (server *Server) status(w http.ResponseWriter, r *http.Request) {
	status := Status{Suspended: server.gc.Suspended()}
	if last, ok := server.gc.LastStats(); ok {
		status.Last = &last
	}
	sendJSON(w, status)
}

func sendJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func sendJSONError(w http.ResponseWriter, errMsg, detail string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":  errMsg,
		"detail": detail,
	})
}
