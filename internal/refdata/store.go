// Package refdata holds the JSON-configured reference maps (portfolio names,
// custodian fund codes, trading-member location accounts, scrip symbols) and
// loader templates. A Store is built once per operation and passed down
// explicitly; nothing here is global.
package refdata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"fundrecon/internal/logger"
)

const (
	MapPortfolio       = "portfolio"
	MapCustodianFund   = "custodian_fund"
	MapTradingMember   = "tm_code"
	MapScrip           = "scrip"
	MapLocationAccount = "location_account"
	MapClientCode      = "client_code"
)

// TemplateField is one output column of a loader template with its default.
type TemplateField struct {
	Name    string
	Default string
}

type Template []TemplateField

func (t Template) Names() []string {
	out := make([]string, len(t))
	for i, f := range t {
		out[i] = f.Name
	}
	return out
}

type Store struct {
	maps      map[string]map[string]string
	templates map[string]Template
}

func NewStore() *Store {
	return &Store{
		maps:      map[string]map[string]string{},
		templates: map[string]Template{},
	}
}

// Load reads a configuration file. A missing file yields an empty store so
// callers can keep running with default policies.
func Load(path string) (*Store, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Warn(context.Background(), "Reference data file not found, using empty store", "path", path)
		return NewStore(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read reference data %s: %w", path, err)
	}
	s, err := Parse(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("parse reference data %s: %w", path, err)
	}
	return s, nil
}

// Parse decodes the configuration document:
//
//	{"maps": {"portfolio": {...}}, "templates": {"trade_loader": {...}}}
//
// Top-level objects other than "maps" and "templates" are taken as maps too,
// which is the flat layout older configuration files use.
func Parse(r io.Reader) (*Store, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	s := NewStore()
	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}
	for dec.More() {
		name, err := readKey(dec)
		if err != nil {
			return nil, err
		}
		switch name {
		case "maps":
			if err := readObject(dec, func(mapName string) error {
				m, err := readFlatMap(dec)
				if err != nil {
					return fmt.Errorf("map %q: %w", mapName, err)
				}
				s.maps[mapName] = m
				return nil
			}); err != nil {
				return nil, err
			}
		case "templates":
			if err := readObject(dec, func(tplName string) error {
				tpl, err := readTemplate(dec)
				if err != nil {
					return fmt.Errorf("template %q: %w", tplName, err)
				}
				s.templates[tplName] = tpl
				return nil
			}); err != nil {
				return nil, err
			}
		default:
			var raw json.RawMessage
			if err := dec.Decode(&raw); err != nil {
				return nil, err
			}
			if t := bytes.TrimSpace(raw); len(t) > 0 && t[0] == '{' {
				sub := json.NewDecoder(bytes.NewReader(t))
				sub.UseNumber()
				m, err := readFlatMap(sub)
				if err != nil {
					return nil, fmt.Errorf("map %q: %w", name, err)
				}
				s.maps[name] = m
			}
		}
	}
	return s, expectDelim(dec, '}')
}

// SetMap replaces a map; used by callers assembling a store in code.
func (s *Store) SetMap(name string, m map[string]string) {
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[strings.TrimSpace(k)] = v
	}
	s.maps[name] = cp
}

func (s *Store) SetTemplate(name string, t Template) { s.templates[name] = t }

func (s *Store) Map(name string) (map[string]string, bool) {
	m, ok := s.maps[name]
	return m, ok
}

func (s *Store) Template(name string) (Template, bool) {
	t, ok := s.templates[name]
	return t, ok
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}

func readKey(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", err
	}
	k, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("expected object key, got %v", tok)
	}
	return k, nil
}

func readObject(dec *json.Decoder, each func(key string) error) error {
	if err := expectDelim(dec, '{'); err != nil {
		return err
	}
	for dec.More() {
		k, err := readKey(dec)
		if err != nil {
			return err
		}
		if err := each(k); err != nil {
			return err
		}
	}
	return expectDelim(dec, '}')
}

func readFlatMap(dec *json.Decoder) (map[string]string, error) {
	m := map[string]string{}
	err := readObject(dec, func(k string) error {
		v, err := readScalar(dec)
		if err != nil {
			return err
		}
		m[strings.TrimSpace(k)] = v
		return nil
	})
	return m, err
}

func readTemplate(dec *json.Decoder) (Template, error) {
	var tpl Template
	err := readObject(dec, func(k string) error {
		v, err := readScalar(dec)
		if err != nil {
			return err
		}
		tpl = append(tpl, TemplateField{Name: k, Default: v})
		return nil
	})
	return tpl, err
}

// readScalar keeps numbers in their literal JSON text, so 07536 written as a
// string and 7536 written as a number stay different keys and values.
func readScalar(dec *json.Decoder) (string, error) {
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return "", err
	}
	t := bytes.TrimSpace(raw)
	if len(t) == 0 || string(t) == "null" {
		return "", nil
	}
	switch t[0] {
	case '"':
		var s string
		if err := json.Unmarshal(t, &s); err != nil {
			return "", err
		}
		return s, nil
	case '{', '[':
		return "", fmt.Errorf("nested value %s not supported", string(t))
	default:
		return string(t), nil
	}
}
