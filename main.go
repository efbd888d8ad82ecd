// Copyright 2017 The Nakama Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/tapidb/tapi/cmd"
	"github.com/tapidb/tapi/server"
)

var (
	version  string
	commitID string
)

func main() {
	semver := fmt.Sprintf("%s+%s", version, commitID)
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Println(semver)
		return
	}

	tmpLogger := server.NewJSONLogger(os.Stdout, zap.InfoLevel, server.JSONFormat)
	config := server.ParseArgs(tmpLogger, os.Args[1:])
	logger, multiLogger := server.SetupLogging(tmpLogger, config)

	multiLogger.Info("tapi starting", zap.String("version", semver))
	multiLogger.Info("relation", zap.String("name", config.GetRelation()))

	if len(os.Args) < 2 {
		multiLogger.Fatal("usage: tapi <build|insert|query|spill|merge|vacuum|dump> [flags]")
	}

	pool, err := cmd.Connect(config)
	if err != nil {
		multiLogger.Fatal("could not connect to Postgres", zap.Error(err))
	}
	defer pool.Close()

	start := time.Now()
	env := &cmd.Env{Config: config, Logger: logger, Pool: pool}
	if err := cmd.Run(env, os.Args[1:]); err != nil {
		multiLogger.Fatal("command failed", zap.String("command", os.Args[1]), zap.Error(err))
	}
	multiLogger.Info("done", zap.Duration("elapsed", time.Since(start)))
}
