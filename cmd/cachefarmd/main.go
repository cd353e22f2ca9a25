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
	"context"
	"flag"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/cachefarm/cachefarm/conf"
	"github.com/cachefarm/cachefarm/proto"
	"github.com/cachefarm/cachefarm/refresher"
	"github.com/cachefarm/cachefarm/scheduler"
	"github.com/cachefarm/cachefarm/storage"
	"github.com/cachefarm/cachefarm/syncer"
	"github.com/cachefarm/cachefarm/utils"
	"github.com/cachefarm/cachefarm/utils/log"
)

const name = "cachefarmd"

// contentCacheSize bounds the local published content cache.
const contentCacheSize = 10000

var (
	version     = "unknown"
	listenAddr  string
	configFile  string
	showVersion bool
)

func init() {
	flag.StringVar(&listenAddr, "listen", "", "Status API listen addr (overrides settings in config file)")
	flag.StringVar(&configFile, "config", "~/.cachefarm/config.yaml", "Configuration file for cachefarm")
	flag.BoolVar(&showVersion, "version", false, "Show version information and exit")
}

func main() {
	flag.Parse()
	if showVersion {
		fmt.Printf("%v %v %v %v %v\n",
			name, version, runtime.GOOS, runtime.GOARCH, runtime.Version())
		os.Exit(0)
	}

	configFile = utils.HomeDirExpand(configFile)

	var err error
	if conf.GConf, err = conf.LoadConfig(configFile); err != nil {
		log.WithError(err).Error("read config failed")
		os.Exit(-1)
		return
	}
	if listenAddr != "" {
		conf.GConf.ListenAddr = listenAddr
	}

	log.SetStringLevel(conf.GConf.LogLevel, log.InfoLevel)

	// open the shared instruction log
	var st *storage.Store
	if st, err = storage.OpenStore(conf.GConf.DatabaseFile); err != nil {
		log.WithError(err).Error("open instruction log failed")
		os.Exit(-1)
		return
	}

	// register local cache refreshers
	registry := refresher.NewRegistry()

	var contentCache *refresher.ContentCache
	if contentCache, err = refresher.NewContentCache(contentCacheSize); err != nil {
		log.WithError(err).Error("create content cache failed")
		os.Exit(-1)
		return
	}
	if err = registry.Register(contentCache); err != nil {
		log.WithError(err).Error("register content cache refresher failed")
		os.Exit(-1)
		return
	}

	// init syncer
	var s *syncer.Syncer
	if s, err = syncer.NewSyncer(&syncer.Config{
		Store:                         st,
		Registry:                      registry,
		Roles:                         proto.StaticRole(conf.GConf.Role),
		MaxProcessingInstructionCount: conf.GConf.MaxProcessingInstructionCount,
		TimeBetweenPruneOperations:    conf.GConf.TimeBetweenPruneOperations,
		TimeToRetainInstructions:      conf.GConf.TimeToRetainInstructions,
	}); err != nil {
		log.WithError(err).Error("init syncer failed")
		os.Exit(-1)
		return
	}

	// init scheduling runtime
	var rt *scheduler.Runtime
	if rt, err = scheduler.NewRuntime(&scheduler.Config{
		Syncer:       s,
		LocalID:      conf.GConf.ThisServerID,
		SyncInterval: conf.GConf.SyncInterval,
		CursorFile:   conf.GConf.CursorFile,
		Rebuild:      rebuildAll(registry),
	}); err != nil {
		log.WithError(err).Error("init sync runtime failed")
		os.Exit(-1)
		return
	}

	if err = rt.Start(); err != nil {
		log.WithError(err).Error("start sync runtime failed")
		os.Exit(-1)
		return
	}

	// start status api
	server, err := startAPI(rt, st, conf.GConf.ListenAddr)
	if err != nil {
		log.WithError(err).Error("start status api failed")
		rt.Shutdown()
		os.Exit(-1)
		return
	}

	log.WithFields(log.Fields{
		"origin": conf.GConf.ThisServerID,
		"role":   conf.GConf.Role.String(),
	}).Infof("started %v", name)

	<-utils.WaitForExit()

	// stop status api
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	server.Shutdown(ctx)

	rt.Shutdown()
	log.Infof("stopped %v", name)
}

// rebuildAll purges every registered cache on cold boot; real deployments
// additionally repopulate from the primary data.
func rebuildAll(registry *refresher.Registry) func() error {
	return func() error {
		for _, ref := range registry.All() {
			if err := ref.RefreshAll(); err != nil {
				return err
			}
		}
		return nil
	}
}
