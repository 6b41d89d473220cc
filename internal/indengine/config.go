package indengine

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"trading-indicators/config"
	"trading-indicators/internal/backend"
	"trading-indicators/internal/engine"
	"trading-indicators/internal/indicator"

	"gopkg.in/yaml.v3"
)

// Config is the resolved configuration of the indicator engine service.
type Config struct {
	*config.Config

	TFs     []int
	Symbols []string // empty: discover bar streams in Redis
	Configs []engine.TFConfig
	Policy  backend.Policy
}

// IndicatorSet is the YAML indicator file:
//
//	timeframes: [60, 300]
//	indicators:
//	  - {type: EMA, periods: [20]}
//	  - {type: BBANDS, periods: [20], consts: {k: 2}, backend: external}
//	policy:
//	  families:
//	    SMA: {prefer_external: true, max_period: 200}
type IndicatorSet struct {
	Timeframes []int              `yaml:"timeframes"`
	Indicators []indicator.Params `yaml:"indicators"`
	Policy     backend.Policy     `yaml:"policy"`
}

// LoadConfig reads the environment (and envFile, when present) and resolves
// the indicator set: INDICATOR_FILE first, else INDICATOR_CONFIGS, else
// the defaults.
func LoadConfig(envFile string) (Config, error) {
	base := config.Load(envFile)
	cfg := Config{
		Config:  base,
		TFs:     base.ParseTFs(),
		Symbols: base.ParseSymbols(),
		Policy:  backend.DefaultPolicy(),
	}

	var specs []indicator.Params
	if base.IndicatorFile != "" {
		set, err := LoadIndicatorFile(base.IndicatorFile)
		if err != nil {
			return cfg, err
		}
		if len(set.Timeframes) > 0 {
			cfg.TFs = set.Timeframes
		}
		specs = set.Indicators
		cfg.Policy = set.Policy
		log.Printf("[indengine] loaded %d indicator specs from %s", len(specs), base.IndicatorFile)
	} else {
		var err error
		if specs, err = ParseIndicatorSpecs(base.IndicatorConfigs); err != nil {
			return cfg, err
		}
	}
	if len(cfg.TFs) == 0 {
		return cfg, fmt.Errorf("no valid timeframes in %q", base.EnabledTFs)
	}

	cfg.Configs = BuildTFConfigs(cfg.TFs, specs)
	sel := backend.NewSelector(nil, cfg.Policy, backend.Capabilities{External: base.ExternalBackend}, nil)
	if err := engine.ValidateSpecs(cfg.Configs, sel); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadIndicatorFile parses a YAML indicator set.
func LoadIndicatorFile(path string) (IndicatorSet, error) {
	var set IndicatorSet
	data, err := os.ReadFile(path)
	if err != nil {
		return set, fmt.Errorf("read indicator file: %w", err)
	}
	if err := yaml.Unmarshal(data, &set); err != nil {
		return set, fmt.Errorf("parse indicator file %s: %w", path, err)
	}
	if len(set.Indicators) == 0 {
		return set, fmt.Errorf("indicator file %s lists no indicators", path)
	}
	return set, nil
}

// BuildTFConfigs applies the same indicator list to every timeframe.
func BuildTFConfigs(tfs []int, specs []indicator.Params) []engine.TFConfig {
	configs := make([]engine.TFConfig, len(tfs))
	for i, tf := range tfs {
		configs[i] = engine.TFConfig{TF: tf, Indicators: specs}
	}
	return configs
}

// DefaultSpecs is the indicator set used when nothing is configured.
func DefaultSpecs() []indicator.Params {
	return []indicator.Params{
		{Type: "SMA", Periods: []int{20}},
		{Type: "EMA", Periods: []int{9}},
		{Type: "EMA", Periods: []int{21}},
		{Type: "RSI", Periods: []int{14}},
		{Type: "MACD", Periods: []int{12, 26, 9}},
		{Type: "BBANDS", Periods: []int{20}, Consts: map[string]float64{"k": 2}},
		{Type: "ATR", Periods: []int{14}},
	}
}

// ParseIndicatorSpecs parses a comma-separated list of
// "TYPE[:P1/P2/...][;name=value...]" entries. The name "backend" sets the
// backend preference; any other name is a numeric constant.
//
//	SMA:20,BBANDS:20;k=2,MACD:12/26/9;backend=external,SAR;start=0.02;step=0.02;max=0.2
//
// An empty string yields DefaultSpecs.
func ParseIndicatorSpecs(s string) ([]indicator.Params, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultSpecs(), nil
	}
	var specs []indicator.Params
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		p, err := parseSpec(entry)
		if err != nil {
			return nil, err
		}
		specs = append(specs, p)
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: no indicators in %q", indicator.ErrInvalidParameter, s)
	}
	return specs, nil
}

func parseSpec(entry string) (indicator.Params, error) {
	fields := strings.Split(entry, ";")
	head := strings.TrimSpace(fields[0])
	typ, periods, hasPeriods := strings.Cut(head, ":")

	p := indicator.Params{Type: strings.ToUpper(strings.TrimSpace(typ))}
	if p.Type == "" {
		return p, fmt.Errorf("%w: missing type in %q", indicator.ErrInvalidParameter, entry)
	}
	if hasPeriods && strings.TrimSpace(periods) != "" {
		for _, f := range strings.Split(periods, "/") {
			n, err := strconv.Atoi(strings.TrimSpace(f))
			if err != nil {
				return p, fmt.Errorf("%w: period %q in %q", indicator.ErrInvalidParameter, f, entry)
			}
			p.Periods = append(p.Periods, n)
		}
	}
	for _, kv := range fields[1:] {
		name, value, ok := strings.Cut(strings.TrimSpace(kv), "=")
		if !ok {
			return p, fmt.Errorf("%w: expected name=value, got %q in %q", indicator.ErrInvalidParameter, kv, entry)
		}
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(value)
		if name == "backend" {
			pref, err := indicator.ParsePreference(value)
			if err != nil {
				return p, err
			}
			p.Backend = pref
			continue
		}
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return p, fmt.Errorf("%w: constant %s=%q in %q", indicator.ErrInvalidParameter, name, value, entry)
		}
		if p.Consts == nil {
			p.Consts = make(map[string]float64)
		}
		p.Consts[name] = v
	}
	return p, nil
}

// parseReload decodes a reload request: a JSON array of per-timeframe
// configs, or an INDICATOR_CONFIGS-style string applied to tfs.
func parseReload(payload string, tfs []int) ([]engine.TFConfig, error) {
	payload = strings.TrimSpace(payload)
	if strings.HasPrefix(payload, "[") {
		var configs []engine.TFConfig
		if err := json.Unmarshal([]byte(payload), &configs); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
		return configs, nil
	}
	if payload == "" {
		return nil, fmt.Errorf("%w: empty reload payload", indicator.ErrInvalidParameter)
	}
	specs, err := ParseIndicatorSpecs(payload)
	if err != nil {
		return nil, err
	}
	return BuildTFConfigs(tfs, specs), nil
}
