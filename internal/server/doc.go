// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the dispatcher over HTTP.
//
// Endpoints:
//   - POST   /v1/dispatch                     - dispatch a request (?async=true returns 202)
//   - GET    /v1/jobs                         - job records (backend, category, success, job, since, until)
//   - DELETE /v1/jobs                         - clear the job log
//   - GET    /v1/jobs/export                  - job records as CSV
//   - GET    /v1/jobs/active                  - in-flight jobs
//   - POST   /v1/jobs/{id}/cancel             - cancel an in-flight job
//   - GET    /v1/usage                        - usage snapshot
//   - GET    /v1/backends                     - catalogue with availability
//   - PUT    /v1/backends/{id}/availability   - administrative availability override
//   - GET    /health                          - health check
//   - GET    /metrics                         - Prometheus metrics
//
// Middleware:
//   - Panic recovery with stack trace logging
//   - Security headers
//   - Request logging with timing information
//   - Per-client rate limiting; forwarding headers are trusted only from
//     configured proxies
//
// Dispatch failures map to statuses by kind: InvalidRequest 400,
// NoBackendAvailable 503, InvocationTimeout 504, InvocationFailed and
// RetryBudgetExhausted 502, Cancelled 409.
package server
