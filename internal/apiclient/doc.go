// Package apiclient talks to a running deeplinker daemon over its HTTP API.
//
// Every method maps to one route and decodes the DTOs from package api.
// Non-2xx responses surface as *Error so callers can branch on the status.
package apiclient
