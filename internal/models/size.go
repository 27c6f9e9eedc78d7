// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

// Size is a byte count that renders the way the tracker displays it,
// e.g. "1,016.2 KiB".
type Size uint64

var sizeUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

var sizeMultipliers = map[string]float64{
	"b":   1,
	"kib": humanize.KiByte,
	"mib": humanize.MiByte,
	"gib": humanize.GiByte,
	"tib": humanize.TiByte,
	"pib": humanize.PiByte,
	"kb":  humanize.KByte,
	"mb":  humanize.MByte,
	"gb":  humanize.GByte,
	"tb":  humanize.TByte,
	"pb":  humanize.PByte,
}

func (s Size) String() string {
	if s < 1024 {
		return humanize.Comma(int64(s)) + " B"
	}

	value := float64(s)
	exp := 0
	for value >= 1024 && exp < len(sizeUnits)-1 {
		value /= 1024
		exp++
	}

	return humanize.CommafWithDigits(math.Round(value*10)/10, 1) + " " + sizeUnits[exp]
}

// Bytes returns s as a plain byte count.
func (s Size) Bytes() uint64 {
	return uint64(s)
}

// ParseSize parses a human readable size such as "1,016.2 KiB" or "734 MB".
// The result is rounded to the nearest byte.
func ParseSize(value string) (Size, error) {
	v := strings.TrimSpace(strings.ReplaceAll(value, ",", ""))
	if v == "" {
		return 0, fmt.Errorf("empty size")
	}

	split := strings.IndexFunc(v, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.'
	})

	numPart, unitPart := v, "b"
	if split >= 0 {
		numPart = strings.TrimSpace(v[:split])
		unitPart = strings.ToLower(strings.TrimSpace(v[split:]))
	}

	num, err := strconv.ParseFloat(numPart, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", value, err)
	}

	multiplier, ok := sizeMultipliers[unitPart]
	if !ok {
		return 0, fmt.Errorf("invalid size %q: unknown unit %q", value, unitPart)
	}

	return Size(math.Round(num * multiplier)), nil
}
