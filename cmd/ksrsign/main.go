package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dnsroot/ksrsign/pkg/chain"
	"github.com/dnsroot/ksrsign/pkg/config"
	"github.com/dnsroot/ksrsign/pkg/ksrerr"
	"github.com/dnsroot/ksrsign/pkg/ledger"
	"github.com/dnsroot/ksrsign/pkg/logging"
	"github.com/dnsroot/ksrsign/pkg/metrics"
	"github.com/dnsroot/ksrsign/pkg/model"
	"github.com/dnsroot/ksrsign/pkg/oracle"
	"github.com/dnsroot/ksrsign/pkg/policy"
	"github.com/dnsroot/ksrsign/pkg/signer"
	"github.com/dnsroot/ksrsign/pkg/version"
	"github.com/dnsroot/ksrsign/pkg/xmlcodec"
)

const (
	defaultConfigPath         = "/etc/ksrsign/config.yaml"
	defaultLedgerPath         = "/var/lib/ksrsign/ledger.db"
	maxInsecureFileMode fs.FileMode = 0o044
)

func main() {
	var (
		configPath     string
		reqPolicyPath  string
		respPolicyPath string
		previousSKR    string
		debug          bool
		useSyslog      bool
		showVersion    bool
		metricsAddr    string
	)

	flag.StringVar(&configPath, "config", defaultConfigPath, "path to ceremony configuration file")
	flag.StringVar(&reqPolicyPath, "request_policy", "", "path to request (KSR acceptance) policy file")
	flag.StringVar(&respPolicyPath, "response_policy", "", "path to response (SKR acceptance) policy file")
	flag.StringVar(&previousSKR, "previous_skr", "", "path to previous ceremony's SKR, for chain validation")
	flag.BoolVar(&debug, "debug", false, "enable debug-level logging")
	flag.BoolVar(&useSyslog, "syslog", false, "write logs to syslog instead of stdout")
	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.StringVar(&metricsAddr, "metrics", "", "optional address to serve Prometheus metrics on (e.g. :9110); disabled if empty")
	flag.Parse()

	if showVersion {
		fmt.Printf("ksrsign %s\n", version.Version)
		os.Exit(0)
	}

	// KSRFILE/SKRFILE are optional positionals: when omitted, the
	// ceremony config's filenames block supplies them.
	args := flag.Args()
	var ksrPathArg, skrPathArg string
	switch len(args) {
	case 0:
	case 2:
		ksrPathArg, skrPathArg = args[0], args[1]
	default:
		fmt.Fprintln(os.Stderr, "usage: ksrsign [flags] [KSRFILE SKRFILE]")
		os.Exit(1)
	}

	level := "info"
	if debug {
		level = "debug"
	}
	logger, err := logging.NewLogger(logging.Config{Level: level, Syslog: useSyslog})
	if err != nil {
		fmt.Fprintf(os.Stderr, "ksrsign: failed to create logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal, aborting ceremony", "signal", sig)
		cancel()
	}()

	if metricsAddr != "" {
		metricsServer := metrics.NewServer(metricsAddr, logger)
		metricsServer.Start(ctx)
	}

	if err := run(ctx, logger, runConfig{
		configPath:     configPath,
		reqPolicyPath:  reqPolicyPath,
		respPolicyPath: respPolicyPath,
		previousSKR:    previousSKR,
		ksrPathArg:     ksrPathArg,
		skrPathArg:     skrPathArg,
	}); err != nil {
		if ctx.Err() != nil {
			// Interrupted by the operator: clean shutdown exits 0 (spec §6).
			logger.Info("ceremony aborted by user interrupt")
			os.Exit(0)
		}
		logger.Error("ceremony failed", "error", err)
		os.Exit(1)
	}
}

type runConfig struct {
	configPath     string
	reqPolicyPath  string
	respPolicyPath string
	previousSKR    string
	ksrPathArg     string
	skrPathArg     string
}

// defaultSchemaName is the schema config selects when signing, matching
// the original tooling's fixed choice of its "normal" schema.
const defaultSchemaName = "normal"

// run drives one ceremony end-to-end: load configuration, validate the
// request, validate the chain against any previous SKR, sign, validate the
// response, and write output. No partial SKR is ever written (spec §7):
// EncodeResponse is the last step, reached only once every prior check has
// passed.
func run(ctx context.Context, logger *slog.Logger, rc runConfig) error {
	if err := checkConfigPermissions(rc.configPath, logger); err != nil {
		return err
	}

	cfg, err := config.LoadConfig(rc.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var reqPolicy *config.RequestPolicy
	if rc.reqPolicyPath != "" {
		reqPolicy, err = config.LoadRequestPolicy(rc.reqPolicyPath)
		if err != nil {
			return fmt.Errorf("load request policy: %w", err)
		}
	} else {
		defaults := config.DefaultRequestPolicy()
		reqPolicy = &defaults
	}

	var respPolicy *config.ResponsePolicy
	if rc.respPolicyPath != "" {
		respPolicy, err = config.LoadResponsePolicy(rc.respPolicyPath)
		if err != nil {
			return fmt.Errorf("load response policy: %w", err)
		}
	} else {
		defaults := config.DefaultResponsePolicy()
		respPolicy = &defaults
	}

	keySet, err := cfg.KeySet()
	if err != nil {
		return fmt.Errorf("resolve configured keys: %w", err)
	}

	// Positional args win over the config's filenames block, matching the
	// original tooling's _ksr_filename/_skr_filename/_previous_skr_filename
	// fallback order.
	ksrPath := rc.ksrPathArg
	if ksrPath == "" {
		ksrPath = cfg.Filenames.InputKSR
	}
	skrPath := rc.skrPathArg
	if skrPath == "" {
		skrPath = cfg.Filenames.OutputSKR
	}
	previousSKRPath := rc.previousSKR
	if previousSKRPath == "" {
		previousSKRPath = cfg.Filenames.PreviousSKR
	}

	ksrFile, err := os.Open(ksrPath)
	if err != nil {
		return fmt.Errorf("open KSR: %w", err)
	}
	defer ksrFile.Close()
	req, err := xmlcodec.DecodeRequest(ksrFile)
	if err != nil {
		return fmt.Errorf("parse KSR: %w", err)
	}
	logger.Info("loaded KSR", "id", req.ID, "domain", req.Domain, "bundles", len(req.Bundles))
	for _, b := range req.Bundles {
		logger.Debug("ksr bundle", "summary", b.Summary())
	}

	var previous *model.Response
	keyLabels := make(map[string]string, len(keySet))
	for name, k := range keySet {
		keyLabels[name] = k.Label
	}
	if previousSKRPath != "" {
		prevFile, err := os.Open(previousSKRPath)
		if err != nil {
			return fmt.Errorf("open previous SKR: %w", err)
		}
		defer prevFile.Close()
		prevResp, err := xmlcodec.DecodeResponse(prevFile)
		if err != nil {
			return fmt.Errorf("parse previous SKR: %w", err)
		}
		logger.Info("loaded previous SKR", "id", prevResp.ID, "bundles", len(prevResp.Bundles))
		for _, b := range prevResp.Bundles {
			logger.Debug("previous skr bundle", "summary", b.Summary())
		}
		previous = &prevResp
	}

	ldg, err := ledger.Open(defaultLedgerPath)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer ldg.Close()

	if len(cfg.HSM) > 0 {
		// PKCS#11 binding is out of scope here (no HSM client library
		// appears anywhere in the retrieval pack); an "hsm" block in the
		// config is accepted but keys still load from key_file.
		logger.Debug("hsm configuration present but unused; loading keys from key_file", "keys", len(cfg.HSM))
	}

	signingOracle := oracle.NewSoftwareOracle() // HSM-backed oracles wire in here per spec §4.6
	if err := loadKeys(signingOracle, cfg.Keys, cfg.KSKPolicy.SignersName); err != nil {
		return fmt.Errorf("load signing keys: %w", err)
	}

	chainValidator := &chain.Validator{Ledger: ldg, Oracle: signingOracle, KeyLabels: keyLabels}

	if err := policy.ValidateRequest(req, *reqPolicy, logger); err != nil {
		return fmt.Errorf("request validation: %w", err)
	}
	if err := chainValidator.Validate(ctx, req, previous, *reqPolicy, logger); err != nil {
		return fmt.Errorf("chain validation: %w", err)
	}

	schema, err := cfg.Schema(defaultSchemaName)
	if err != nil {
		return fmt.Errorf("resolve schema: %w", err)
	}

	engine := signer.NewEngine(signingOracle, keySet, cfg.KSKPolicy.SignaturePolicy(), cfg.KSKPolicy.SignersName, reqPolicy.EffectiveTTL(cfg.KSKPolicy.TTL))
	resp, err := engine.Sign(ctx, req, schema)
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}

	if err := policy.ValidateResponse(resp, *respPolicy, logger); err != nil {
		return fmt.Errorf("response validation: %w", err)
	}

	if err := chainValidator.Accept(req.ID, req.Timestamp); err != nil {
		return fmt.Errorf("record ceremony in ledger: %w", err)
	}

	skrFile, err := os.Create(skrPath)
	if err != nil {
		return fmt.Errorf("create SKR output: %w", err)
	}
	defer skrFile.Close()
	if err := xmlcodec.EncodeResponse(skrFile, resp); err != nil {
		return fmt.Errorf("write SKR: %w", err)
	}

	logger.Info("ceremony completed successfully", "output", skrPath)
	return nil
}

// checkConfigPermissions verifies the config file is neither group- nor
// world-readable, since it carries HSM PIN-adjacent material in its "hsm"
// block.
func checkConfigPermissions(path string, logger *slog.Logger) error {
	info, err := os.Stat(path)
	if err != nil {
		return &ksrerr.ConfigError{Field: "path", Message: "stat config file", Cause: err}
	}
	mode := info.Mode().Perm()
	if mode&maxInsecureFileMode != 0 {
		return &ksrerr.ConfigError{Field: "path", Message: fmt.Sprintf("config file %s has insecure permissions %04o (group- or world-readable)", path, mode)}
	}
	logger.Debug("config file permissions verified", "path", path, "mode", fmt.Sprintf("%04o", mode))
	return nil
}
