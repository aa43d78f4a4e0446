/*******************************************************************************
* Copyright (C) 2026 the Eclipse BaSyx Authors and Fraunhofer IESE
*
* Permission is hereby granted, free of charge, to any person obtaining
* a copy of this software and associated documentation files (the
* "Software"), to deal in the Software without restriction, including
* without limitation the rights to use, copy, modify, merge, publish,
* distribute, sublicense, and/or sell copies of the Software, and to
* permit persons to whom the Software is furnished to do so, subject to
* the following conditions:
*
* The above copyright notice and this permission notice shall be
* included in all copies or substantial portions of the Software.
*
* THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND,
* EXPRESS OR IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF
* MERCHANTABILITY, FITNESS FOR A PARTICULAR PURPOSE AND
* NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR COPYRIGHT HOLDERS BE
* LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER IN AN ACTION
* OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN CONNECTION
* WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
*
* SPDX-License-Identifier: MIT
******************************************************************************/

// Package main starts the AAS-to-UNS bridge daemon: unsbridged run loads
// configuration, wires the persistence, addressing, publish, and
// hypervisor layers, and serves until signalled. validate/status/version
// are diagnostic subcommands that never start the broker session.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eclipse-basyx/aas-uns-bridge/internal/address"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/broker"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/config"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/healthsrv"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/hypervisor"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/lifecycle"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/obslog"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/orchestrator"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/persistence"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/repository"
	"github.com/eclipse-basyx/aas-uns-bridge/internal/retained"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

// Exit codes, spec.md §6: 0 success, 1 other, 2 config error,
// 3 persistence error, 4 I/O fatal.
const (
	exitOK          = 0
	exitOther       = 1
	exitConfigError = 2
	exitPersistence = 3
	exitIOFatal     = 4
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitOther)
	}

	var code int
	switch os.Args[1] {
	case "run":
		code = runCommand(os.Args[2:])
	case "validate":
		code = validateCommand(os.Args[2:])
	case "status":
		code = statusCommand(os.Args[2:])
	case "version":
		fmt.Println(version)
		code = exitOK
	default:
		printUsage()
		code = exitOther
	}
	os.Exit(code)
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: unsbridged <run|validate|status|version> [flags]")
}

func runCommand(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file")
	dev := fs.Bool("dev", false, "enable development-mode console logging")
	_ = fs.Parse(args)

	obslog.Configure(*dev)
	defer obslog.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		obslog.LogError(err)
		return exitConfigError
	}

	store, err := persistence.Open(cfg.State.Dir, cfg.State.SchemaVersion)
	if err != nil {
		obslog.LogError(err)
		return exitPersistence
	}
	defer func() { _ = store.Close() }()

	deps, err := wire(*cfg, store)
	if err != nil {
		obslog.LogError(err)
		return exitIOFatal
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	healthServer := &http.Server{
		Addr:    cfg.Observability.ListenAddr,
		Handler: healthsrv.NewRouter(deps.orch),
	}
	go func() {
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			obslog.LogWarning("health server stopped unexpectedly", "error", err)
		}
	}()

	obslog.LogInfo("starting bridge daemon", "groupId", cfg.Broker.GroupID, "edgeNodeId", cfg.Broker.EdgeNodeID)

	runErr := deps.orch.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = healthServer.Shutdown(shutdownCtx)

	if runErr != nil {
		obslog.LogError(runErr)
		return exitIOFatal
	}
	return exitOK
}

func validateCommand(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration invalid:", err)
		return exitConfigError
	}
	fmt.Printf("configuration valid: broker=%s groupId=%s edgeNodeId=%s\n", cfg.Broker.URL, cfg.Broker.GroupID, cfg.Broker.EdgeNodeID)
	return exitOK
}

func statusCommand(args []string) int {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	addr := fs.String("addr", "http://127.0.0.1:8080", "health endpoint base address")
	_ = fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/ready")
	if err != nil {
		fmt.Fprintln(os.Stderr, "status check failed:", err)
		return exitIOFatal
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		fmt.Println("DOWN")
		return exitOther
	}
	fmt.Println("UP")
	return exitOK
}

// wired bundles every long-lived component main needs a handle to after
// wire returns, beyond what orchestrator.Deps already captures.
type wired struct {
	orch *orchestrator.Orchestrator
}

// wire builds every layer of the daemon from cfg and store, in the
// dependency order persistence -> addressing -> publish planes ->
// hypervisor -> orchestrator.
func wire(cfg config.Config, store *persistence.Store) (*wired, error) {
	resolver := address.NewResolver(cfg.Mapping)
	topics := address.TopicBuilder{
		RetainedPrefix: cfg.Retained.TopicPrefix,
		GroupID:        cfg.Broker.GroupID,
		EdgeNodeID:     cfg.Broker.EdgeNodeID,
		SysRoot:        cfg.Broker.GroupID,
	}

	client := broker.NewPahoClient(cfg.Broker)

	hashes := persistence.NewHashTable(store, cfg.State.MaxHashEntries)
	contexts := persistence.NewContextTable(store, cfg.State.MaxContextEntries)
	retainedPub := retained.New(cfg.Retained, client, topics, hashes, contexts)

	aliases := persistence.NewAliasTable(store, cfg.State.MaxAliasEntries)
	births := persistence.NewBirthCacheTable(store, 0)
	bdSeqTable := store.Table("bdseq", 0)
	lifecyclePub := lifecycle.New(cfg.Broker, client, topics, aliases, births, bdSeqTable)

	validator := hypervisor.NewValidator(cfg.Semantic, map[string]hypervisor.SemanticConstraint{})
	fingerprints := persistence.NewFingerprintTable(store, 0)
	driftDetector := hypervisor.NewDriftDetector(fingerprints, cfg.Hypervisor.DriftSeverity)

	driftModels := persistence.NewDriftModelTable(store, 0)
	anomalyDetector := hypervisor.NewAnomalyDetector(driftModels, cfg.Hypervisor.AnomalyThresholds)

	lifecycleStates := persistence.NewLifecycleStateTable(store, 0)
	tracker := hypervisor.NewTracker(lifecycleStates, cfg.Lifecycle.StaleThreshold, cfg.Hypervisor.ClearRetainedOnOffline, topics.SysRoot, client, retainedPub, resolver)

	fidelityRecords := persistence.NewFidelityTable(store, cfg.State.MaxFidelityEntries)
	fidelityScorer := hypervisor.NewFidelityScorer(fidelityRecords, cfg.Hypervisor)

	writer := repository.NewHTTPWriter(cfg.Repository)
	cmdSync := hypervisor.NewCommandSync(client, writer, validator.Validate, cfg.Hypervisor.AllowedWritePatterns, cfg.Hypervisor.DeniedWritePatterns, cfg.Hypervisor.PreWriteValidation)

	orch := orchestrator.New(orchestrator.Deps{
		Client:       client,
		Resolver:     resolver,
		Topics:       topics,
		RetainedPub:  retainedPub,
		LifecyclePub: lifecyclePub,
		Validator:    validator,
		Drift:        driftDetector,
		Anomaly:      anomalyDetector,
		Tracker:      tracker,
		Fidelity:     fidelityScorer,
		CommandSync:  cmdSync,
	})

	return &wired{orch: orch}, nil
}
