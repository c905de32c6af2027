// Copyright (C) 2019-2022, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package utils

import (
	"strconv"
	"strings"
	"time"

	"github.com/ledgerops/ledger-network-runner/network"
)

// AllNodes selects every node of the relevant set.
const AllNodes = "all"

// Args holds unordered key=value operation arguments.
// Unrecognized keys are simply never looked up.
type Args map[string]string

// ParseArgs parses "key=value" tokens. Tokens without '=' are ignored,
// and a repeated key keeps its last value.
func ParseArgs(tokens []string) Args {
	args := Args{}
	for _, tok := range tokens {
		k, v, ok := strings.Cut(tok, "=")
		if !ok {
			continue
		}
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		args[k] = strings.TrimSpace(v)
	}
	return args
}

func (a Args) Has(key string) bool {
	v, ok := a[key]
	return ok && v != ""
}

func (a Args) String(key, def string) string {
	if !a.Has(key) {
		return def
	}
	return a[key]
}

func (a Args) Int(key string, def int) (int, error) {
	if !a.Has(key) {
		return def, nil
	}
	v, err := strconv.Atoi(a[key])
	if err != nil {
		return 0, network.Invalidf("%s=%q is not an integer", key, a[key])
	}
	return v, nil
}

// RequireInt fails when [key] is missing.
func (a Args) RequireInt(key string) (int, error) {
	if !a.Has(key) {
		return 0, network.Invalidf("missing required argument %q", key)
	}
	return a.Int(key, 0)
}

func (a Args) Uint64(key string, def uint64) (uint64, error) {
	if !a.Has(key) {
		return def, nil
	}
	v, err := strconv.ParseUint(a[key], 10, 64)
	if err != nil {
		return 0, network.Invalidf("%s=%q is not an unsigned integer", key, a[key])
	}
	return v, nil
}

// Amount returns a decimal amount as given, checking it is all digits.
func (a Args) Amount(key, def string) (string, error) {
	v := a.String(key, def)
	if v == "" {
		return "", network.Invalidf("%s is empty", key)
	}
	for _, r := range v {
		if r < '0' || r > '9' {
			return "", network.Invalidf("%s=%q is not a decimal amount", key, v)
		}
	}
	return v, nil
}

func (a Args) Bool(key string, def bool) (bool, error) {
	if !a.Has(key) {
		return def, nil
	}
	v, err := strconv.ParseBool(a[key])
	if err != nil {
		return false, network.Invalidf("%s=%q is not a boolean", key, a[key])
	}
	return v, nil
}

// Seconds accepts plain (possibly fractional) seconds or a Go duration.
func (a Args) Seconds(key string, def time.Duration) (time.Duration, error) {
	if !a.Has(key) {
		return def, nil
	}
	raw := a[key]
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		if secs < 0 {
			return 0, network.Invalidf("%s=%q is negative", key, raw)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, network.Invalidf("%s=%q is not a duration", key, raw)
	}
	if d < 0 {
		return 0, network.Invalidf("%s=%q is negative", key, raw)
	}
	return d, nil
}

// Nodes parses "all" or a comma separated list of node ordinals.
// all is true when the key is missing or set to "all".
func (a Args) Nodes(key string) (ids []int, all bool, err error) {
	raw := a.String(key, AllNodes)
	if strings.EqualFold(raw, AllNodes) {
		return nil, true, nil
	}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.Atoi(part)
		if err != nil || id < 1 {
			return nil, false, network.Invalidf("%s=%q is not a node list", key, raw)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, false, network.Invalidf("%s=%q selects no nodes", key, raw)
	}
	return ids, false, nil
}
