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

// Package pipeline implements the four occurrence stages (fetch, parse,
// stitch, route), the outbound_send handler, and the failure bookkeeping
// shared across them. Each
// stage handler is invoked by the worker host with a leased job and is
// responsible for isolating its own errors onto the occurrence's
// stage-specific column before returning.
package pipeline

import "errors"

// ErrMalformedMIME signals a parse failure that must not be retried —
// the caller should call queue.Fail with permanent=true.
var ErrMalformedMIME = errors.New("pipeline: malformed MIME")

// ErrTicketNotFound is returned when an X-OSS-Ticket-ID marker names a
// ticket that no longer exists in this organization.
var ErrTicketNotFound = errors.New("pipeline: ticket not found")

// ErrQueueMissing signals a routing rule referencing a deleted queue —
// routing fails closed rather than assigning to nothing.
var ErrQueueMissing = errors.New("pipeline: routing rule references missing queue")

// ErrOccurrenceNotFetched is returned when parse is invoked on an
// occurrence with no raw blob pointer yet.
var ErrOccurrenceNotFetched = errors.New("pipeline: occurrence has no fetched blob")
