/*
 * Copyright 2019 The CacheFarm Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cachefarm/cachefarm/conf"
	"github.com/cachefarm/cachefarm/scheduler"
	"github.com/cachefarm/cachefarm/storage"
	"github.com/cachefarm/cachefarm/utils/log"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var apiTimeout = time.Second * 10

func sendResponse(code int, success bool, msg interface{}, data interface{}, rw http.ResponseWriter) {
	msgStr := "ok"
	if msg != nil {
		msgStr = fmt.Sprint(msg)
	}
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(code)
	json.NewEncoder(rw).Encode(map[string]interface{}{
		"status":  msgStr,
		"success": success,
		"data":    data,
	})
}

type statusHandler struct {
	rt *scheduler.Runtime
	st *storage.Store
}

func (h *statusHandler) status(rw http.ResponseWriter, r *http.Request) {
	rows, err := h.st.CountAll()
	if err != nil {
		sendResponse(http.StatusInternalServerError, false, err.Error(), nil, rw)
		return
	}
	maxID, err := h.st.GetMaxID()
	if err != nil {
		sendResponse(http.StatusInternalServerError, false, err.Error(), nil, rw)
		return
	}

	cursor := h.rt.Cursor()
	sendResponse(http.StatusOK, true, nil, map[string]interface{}{
		"origin":  string(h.rt.LocalID()),
		"role":    conf.GConf.Role.String(),
		"cursor":  cursor,
		"max_id":  maxID,
		"rows":    rows,
		"backlog": maxID - cursor,
	}, rw)
}

func startAPI(rt *scheduler.Runtime, st *storage.Store, listenAddr string) (server *http.Server, err error) {
	router := mux.NewRouter()
	router.HandleFunc("/", func(rw http.ResponseWriter, r *http.Request) {
		sendResponse(http.StatusOK, true, nil, nil, rw)
	}).Methods("GET")

	handler := &statusHandler{
		rt: rt,
		st: st,
	}

	v1Router := router.PathPrefix("/v1").Subrouter()
	v1Router.HandleFunc("/status", handler.status).Methods("GET")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	server = &http.Server{
		Addr:         listenAddr,
		WriteTimeout: apiTimeout,
		ReadTimeout:  apiTimeout,
		IdleTimeout:  apiTimeout,
		Handler:      router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("start api server failed")
		}
	}()

	return server, err
}
