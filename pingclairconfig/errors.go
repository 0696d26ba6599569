// Copyright 2026 Pingclair Authors
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

package pingclairconfig

import "fmt"

// AdapterErrorKind classifies failures raised while lowering the generic
// directive tree into the typed AST.
type AdapterErrorKind int

const (
	DuplicateGlobal AdapterErrorKind = iota
	UnknownDirective
	ArgumentCount
	InvalidArgument
)

// AdapterError is a terminal, positional error from the adapter stage.
type AdapterError struct {
	Kind    AdapterErrorKind
	Detail  string
	File    string
	Line    int
}

func (e AdapterError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Detail)
}

// SemanticErrorKind classifies failures raised by the semantic analyzer.
type SemanticErrorKind int

const (
	DuplicateMacro SemanticErrorKind = iota
	DuplicateServer
	UndefinedMacro
	MacroArgCountMismatch
	InvalidConfig
	TooManyDefaultRoutes
	UnresolvedNamedMatcher
)

// SemanticError is a terminal error from the semantic analysis stage.
type SemanticError struct {
	Kind   SemanticErrorKind
	Detail string
}

func (e SemanticError) Error() string {
	return e.Detail
}

// CompileErrorKind classifies failures raised by the compiler.
type CompileErrorKind int

const (
	InvalidServer CompileErrorKind = iota
	InvalidRoute
	UnsupportedFeature
)

// CompileError is a terminal error from the compile stage.
type CompileError struct {
	Kind   CompileErrorKind
	Detail string
}

func (e CompileError) Error() string {
	return e.Detail
}
