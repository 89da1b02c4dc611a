package strategy

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"riskgate/internal/config"
)

// Spec - описание стратегии в файле STRATEGIES_FILE
type Spec struct {
	Name   string `yaml:"name"`
	Params Params `yaml:"params,omitempty"`
}

// File - содержимое STRATEGIES_FILE
//
//	strategies:
//	  - name: sma
//	    params:
//	      window: 30
//	      size: 0.01
//	      instruments: [BTC-USD]
type File struct {
	Strategies []Spec `yaml:"strategies"`
}

// Params - параметры стратегии. Значения приходят из YAML как есть.
type Params map[string]any

// Merge возвращает копию p, дополненную значениями override
func (p Params) Merge(override Params) Params {
	out := make(Params, len(p)+len(override))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// Int читает целый параметр
func (p Params) Int(key string, def int) (int, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case float64:
		if x != float64(int(x)) {
			return 0, fmt.Errorf("param %s: %v is not an integer", key, x)
		}
		return int(x), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0, fmt.Errorf("param %s: %w", key, err)
		}
		return n, nil
	}
	return 0, fmt.Errorf("param %s: unsupported type %T", key, v)
}

// Float читает вещественный параметр
func (p Params) Float(key string, def float64) (float64, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch x := v.(type) {
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("param %s: %w", key, err)
		}
		return f, nil
	}
	return 0, fmt.Errorf("param %s: unsupported type %T", key, v)
}

// Strings читает список строк (YAML список или строка через запятую)
func (p Params) Strings(key string) ([]string, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return nil, nil
	}
	var raw []string
	switch x := v.(type) {
	case []string:
		raw = x
	case []any:
		for _, item := range x {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("param %s: element %v is not a string", key, item)
			}
			raw = append(raw, s)
		}
	case string:
		raw = strings.Split(x, ",")
	default:
		return nil, fmt.Errorf("param %s: unsupported type %T", key, v)
	}

	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

// ParseFile разбирает YAML со списком стратегий
func ParseFile(data []byte) ([]Spec, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse strategies file: %w", err)
	}
	for i, s := range f.Strategies {
		if strings.TrimSpace(s.Name) == "" {
			return nil, fmt.Errorf("strategies[%d]: name is required", i)
		}
	}
	return f.Strategies, nil
}

// LoadFile читает STRATEGIES_FILE
func LoadFile(path string) ([]Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read strategies file: %w", err)
	}
	return ParseFile(data)
}

// Resolve собирает список стратегий из конфигурации: сначала файл,
// затем имена из STRATEGIES без параметров.
func Resolve(cfg config.StrategyConfig) ([]Spec, error) {
	var specs []Spec
	if cfg.File != "" {
		fromFile, err := LoadFile(cfg.File)
		if err != nil {
			return nil, err
		}
		specs = append(specs, fromFile...)
	}
	for _, name := range cfg.Names {
		specs = append(specs, Spec{Name: name})
	}
	return specs, nil
}

// DefaultParams - параметры по умолчанию из окружения
func DefaultParams(cfg config.StrategyConfig) Params {
	return Params{
		ParamWindow: cfg.SMAWindow,
		ParamSize:   cfg.Size,
	}
}
