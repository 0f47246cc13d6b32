// Copyright (c) 2026 John Earle
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

// Package logctx attaches structured attributes to a context.Context so
// that every slog call sharing that context carries them, without every
// call site needing a reference to the logger that originally bound them.
// The worker host binds a job's correlation attributes onto the context it
// hands a handler; any slog.InfoContext/ErrorContext call the handler (or
// anything it calls) makes against the default logger picks them up.
package logctx

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

// With returns a context carrying args merged after any attributes
// already attached by an earlier With call. args follows slog's
// alternating key/value (or slog.Attr) convention.
func With(ctx context.Context, args ...any) context.Context {
	existing, _ := ctx.Value(ctxKey{}).([]any)
	merged := make([]any, 0, len(existing)+len(args))
	merged = append(merged, existing...)
	merged = append(merged, args...)
	return context.WithValue(ctx, ctxKey{}, merged)
}

// Handler wraps another slog.Handler, appending whatever attributes were
// attached to a record's context via With before delegating.
type Handler struct {
	slog.Handler
}

// NewHandler wraps h.
func NewHandler(h slog.Handler) *Handler {
	return &Handler{Handler: h}
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	if attrs, ok := ctx.Value(ctxKey{}).([]any); ok && len(attrs) > 0 {
		r = r.Clone()
		r.Add(attrs...)
	}
	return h.Handler.Handle(ctx, r)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{Handler: h.Handler.WithGroup(name)}
}
