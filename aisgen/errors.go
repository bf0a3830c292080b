// Copyright 2024 The Secure AISGen authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package aisgen

import (
	"errors"
	"fmt"
)

// Kind classifies generation failures.
type Kind int

const (
	// ConfigurationError is a missing or invalid policy setting.
	ConfigurationError Kind = iota + 1
	// KeyError is a key that cannot be loaded or does not fit its use.
	KeyError
	// InputError is an input file that cannot be used.
	InputError
	// OverlapError is a section loaded over another one.
	OverlapError
	// CryptoError is a cipher, signature or randomness failure.
	CryptoError
	// FormatError is an unresolvable symbol or entry point.
	FormatError
)

func (k Kind) String() string {
	switch k {
	case ConfigurationError:
		return "configuration error"
	case KeyError:
		return "key error"
	case InputError:
		return "input error"
	case OverlapError:
		return "overlap error"
	case CryptoError:
		return "crypto error"
	case FormatError:
		return "format error"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is returned for every failed generation.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}

func errorf(k Kind, format string, a ...any) error {
	return &Error{Kind: k, Err: fmt.Errorf(format, a...)}
}

// wrap classifies err unless it already carries a kind.
func wrap(k Kind, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: k, Err: err}
}
