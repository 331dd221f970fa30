// Copyright 2021 github.com/gagliardetto
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package encodtext holds the small set of color/format helpers that
// pkg/encodtext/format builds its instruction/account dumps on top of.
package encodtext

import (
	"fmt"

	"github.com/fatih/color"
)

// Sf is a short alias for fmt.Sprintf.
func Sf(format string, args ...interface{}) string {
	return fmt.Sprintf(format, args...)
}

func Bold(s string) string {
	return color.New(color.Bold).Sprint(s)
}

func Purple(s string) string {
	return color.New(color.FgMagenta).Sprint(s)
}

func Lime(s string) string {
	return color.New(color.FgGreen).Sprint(s)
}

func Shakespeare(s string) string {
	return color.New(color.FgCyan).Sprint(s)
}

func IndigoBG(s string) string {
	return color.New(color.BgBlue, color.FgWhite).Sprint(s)
}

// ColorizeBG highlights a pubkey/hash string for diagnostic dumps.
func ColorizeBG(s string) string {
	return color.New(color.BgHiBlack, color.FgHiWhite).Sprint(s)
}
